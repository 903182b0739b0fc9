// Command dhcpreserved runs the reservation-only DHCPv4/DHCPv6 relay
// server: it never allocates leases, only answers clients whose MAC,
// DUID, or relay-agent information matches a configured reservation.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/ipv6"

	"github.com/shadowisp/dhcpreserved/internal/config"
	"github.com/shadowisp/dhcpreserved/internal/dhcpv4handler"
	"github.com/shadowisp/dhcpreserved/internal/dhcpv6handler"
	"github.com/shadowisp/dhcpreserved/internal/dhcpv6wire"
	"github.com/shadowisp/dhcpreserved/internal/events"
	"github.com/shadowisp/dhcpreserved/internal/eventsink"
	"github.com/shadowisp/dhcpreserved/internal/maccache"
	"github.com/shadowisp/dhcpreserved/internal/metrics"
	"github.com/shadowisp/dhcpreserved/internal/mgmt"
	"github.com/shadowisp/dhcpreserved/internal/reservation"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dhcpreserved",
	Short:   "Reservation-only DHCPv4/DHCPv6 relay server",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	RunE:  run,
}

var (
	configDir          string
	metricsAddr        string
	availableExtractors bool
)

func init() {
	runCmd.Flags().StringVarP(&configDir, "config-dir", "c", "/etc/dhcpreserved",
		"Directory containing config.json, ids.json, and reservations.json")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090",
		"Prometheus metrics listen address")
	runCmd.Flags().BoolVar(&availableExtractors, "available-extractors", false,
		"Print the closed set of registered extractor names and exit")

	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	if availableExtractors {
		printAvailableExtractors()
		return nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	reservations, err := config.LoadReservations(configDir)
	if err != nil {
		return fmt.Errorf("loading reservations: %w", err)
	}

	resMgr := reservation.NewManager()
	n, err := resMgr.Replace(reservations)
	if err != nil {
		return fmt.Errorf("building reservation index: %w", err)
	}
	logger.Info("loaded reservations", zap.Int("count", n))

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.ReservationSize.Set(float64(n))

	macCache := maccache.New(maccache.DefaultTTL, maccache.DefaultCapacity)
	macCache.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	var sink *eventsink.Sink
	var emit func(events.Event)
	if cfg.EventsAddress != "" {
		sink = eventsink.New(cfg.EventsAddress, logger.Named("eventsink"), m)
		go sink.Run(ctx)
		emit = sink.Send
	}

	v4Deps := &dhcpv4handler.Deps{
		Logger:       logger.Named("dhcpv4"),
		Reservations: resMgr,
		MacCache:     macCache,
		ServerID:     cfg.V4ServerID,
		DNS:          cfg.DNSv4,
		Subnets:      cfg.SubnetsV4,
		Option82:     cfg.Option82Extractors,
		EventSink:    emit,
		Metrics:      m,
	}

	v6Deps := &dhcpv6handler.Deps{
		Logger:        logger.Named("dhcpv6"),
		Reservations:  resMgr,
		MacCache:      macCache,
		ServerDUID:    cfg.V6ServerDUID,
		Option1837:    cfg.Option1837Extractors,
		MacExtractors: cfg.MacExtractors,
		EventSink:     emit,
		Metrics:       m,
	}

	stopSweeper := make(chan struct{})
	go macCache.RunSweeper(maccache.DefaultSweepInterval, stopSweeper)
	defer close(stopSweeper)

	v4Server, err := startV4Server(cfg.V4BindAddress, logger.Named("dhcpv4"), v4Deps)
	if err != nil {
		return fmt.Errorf("starting dhcpv4 server: %w", err)
	}
	defer v4Server.Close()

	v6Conn, err := startV6Server(ctx, cfg.V6BindAddress, cfg.V6Interface, logger.Named("dhcpv6"), v6Deps)
	if err != nil {
		return fmt.Errorf("starting dhcpv6 server: %w", err)
	}
	defer v6Conn.Close()

	var mgmtListener net.Listener
	if cfg.MgmtAddress != "" {
		mgmtSrv := &mgmt.Server{
			ConfigDir:    configDir,
			Logger:       logger.Named("mgmt"),
			Reservations: resMgr,
			Metrics:      m,
		}
		mgmtListener, err = net.Listen("tcp", cfg.MgmtAddress)
		if err != nil {
			return fmt.Errorf("starting mgmt listener: %w", err)
		}
		defer mgmtListener.Close()
		go mgmtSrv.Serve(mgmtListener)
		logger.Info("mgmt socket listening", zap.String("addr", cfg.MgmtAddress))

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hupCh:
					if _, err := mgmtSrv.ReloadFromDisk(); err != nil {
						logger.Warn("SIGHUP reload failed", zap.Error(err))
					} else {
						logger.Info("SIGHUP: reloaded reservations from disk")
					}
				}
			}
		}()
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("metrics server listening", zap.String("addr", metricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("dhcpreserved started",
		zap.String("version", version),
		zap.String("v4_bind", cfg.V4BindAddress),
		zap.String("v6_bind", cfg.V6BindAddress),
	)

	<-ctx.Done()
	logger.Info("dhcpreserved stopped")
	return nil
}

func startV4Server(bindAddr string, logger *zap.Logger, deps *dhcpv4handler.Deps) (*server4.Server, error) {
	laddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving v4 bind address: %w", err)
	}

	handler := func(conn net.PacketConn, peer net.Addr, msg *dhcpv4.DHCPv4) {
		reply := deps.Handle(msg)
		if reply == nil {
			return
		}
		dst := peer
		if !msg.GatewayIPAddr.IsUnspecified() {
			dst = &net.UDPAddr{IP: msg.GatewayIPAddr, Port: dhcpv4.ServerPort}
		} else if reply.MessageType() == dhcpv4.MessageTypeNak || msg.IsBroadcast() {
			dst = &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
		}
		if _, err := conn.WriteTo(reply.ToBytes(), dst); err != nil {
			logger.Error("dhcpv4: write reply failed", zap.Error(err))
		}
	}

	srv, err := server4.NewServer("", laddr, handler)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(); err != nil {
			logger.Info("dhcpv4 server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}

func startV6Server(ctx context.Context, bindAddr, ifaceName string, logger *zap.Logger, deps *dhcpv6handler.Deps) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp6", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving v6 bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp6", laddr)
	if err != nil {
		return nil, fmt.Errorf("listening udp6: %w", err)
	}

	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolving v6 interface %q: %w", ifaceName, err)
		}
		p := ipv6.NewPacketConn(conn)
		for _, group := range []net.IP{dhcpv6wire.AllDHCPRelayAgentsAndServers, dhcpv6wire.AllDHCPServers} {
			if err := p.JoinGroup(iface, &net.IPAddr{IP: group}); err != nil {
				conn.Close()
				return nil, fmt.Errorf("joining multicast group %s on %s: %w", group, ifaceName, err)
			}
		}
		if err := p.SetHopLimit(255); err != nil {
			logger.Warn("dhcpv6: failed to set hop limit", zap.Error(err))
		}
		logger.Info("dhcpv6: joined relay-agent multicast groups", zap.String("interface", ifaceName))
	}

	go func() {
		buf := make([]byte, 65535)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				logger.Debug("dhcpv6: read error", zap.Error(err))
				continue
			}

			reply := deps.Handle(append([]byte(nil), buf[:n]...))
			if reply == nil {
				continue
			}
			if _, err := conn.WriteToUDP(reply, addr); err != nil {
				logger.Error("dhcpv6: write reply failed", zap.Error(err))
			}
		}
	}()

	return conn, nil
}

func printAvailableExtractors() {
	opt82, opt1837, mac := config.AvailableExtractorNames()
	fmt.Println("option82 extractors:")
	for _, name := range opt82 {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("option1837 extractors:")
	for _, name := range opt1837 {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("mac extractors:")
	for _, name := range mac {
		fmt.Printf("  %s\n", name)
	}
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "trace", "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	return cfg.Build()
}
