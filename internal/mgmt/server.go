// Package mgmt implements the management TCP socket: a newline-delimited
// JSON request/response protocol for reloading reservations from disk,
// replacing them inline, and querying server status. Framing and the
// atomic-persist-then-rename reservation write follow the original
// implementation's mgmt socket exactly.
package mgmt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/dhcpreserved/internal/config"
	"github.com/shadowisp/dhcpreserved/internal/metrics"
	"github.com/shadowisp/dhcpreserved/internal/reservation"
)

const (
	readWriteTimeout = 5 * time.Second
	reservationsFile = "reservations.json"
)

// request mirrors the command tagged union used over the wire.
type request struct {
	Command      string            `json:"command"`
	Reservations []json.RawMessage `json:"reservations,omitempty"`
}

// response mirrors MgmtResponse.
type response struct {
	Success          bool    `json:"success"`
	Error            *string `json:"error,omitempty"`
	Message          *string `json:"message,omitempty"`
	ReservationCount *int    `json:"reservation_count,omitempty"`
}

// Server accepts management connections on a TCP listener and services
// reload/replace/status commands against a shared reservation.Manager.
type Server struct {
	ConfigDir    string
	Logger       *zap.Logger
	Reservations *reservation.Manager
	Metrics      *metrics.Metrics
}

// Serve accepts connections on ln until it is closed, handling each one
// in its own goroutine. Callers are expected to close ln to stop Serve.
func (s *Server) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.Logger.Info("mgmt: listener closed", zap.Error(err))
			return
		}
		go s.handleClient(conn)
	}
}

func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readWriteTimeout))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		s.Logger.Debug("mgmt: read failed", zap.Error(err))
		return
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, errResponse(fmt.Sprintf("invalid request: %v", err)))
		return
	}

	if s.Metrics != nil {
		s.Metrics.MgmtRequests.WithLabelValues(req.Command).Inc()
	}

	switch req.Command {
	case "reload":
		s.handleReload(conn)
	case "replace":
		s.handleReplace(conn, req.Reservations)
	case "status":
		s.handleStatus(conn)
	default:
		s.writeResponse(conn, errResponse(fmt.Sprintf("unknown command %q", req.Command)))
	}
}

func (s *Server) handleReload(conn net.Conn) {
	n, err := s.ReloadFromDisk()
	if err != nil {
		s.Logger.Warn("mgmt: reload failed", zap.Error(err))
		s.writeResponse(conn, errResponse(err.Error()))
		return
	}
	s.Logger.Info("mgmt: reloaded reservations from disk", zap.Int("count", n))
	s.writeResponse(conn, okResponse(fmt.Sprintf("reloaded %d reservations", n), n))
}

func (s *Server) handleReplace(conn net.Conn, raw []json.RawMessage) {
	data, err := json.Marshal(raw)
	if err != nil {
		s.writeResponse(conn, errResponse(err.Error()))
		return
	}
	reservations, err := config.ParseReservationsJSON(data)
	if err != nil {
		s.writeResponse(conn, errResponse(err.Error()))
		return
	}
	n, err := s.Reservations.Replace(reservations)
	if err != nil {
		s.writeResponse(conn, errResponse(err.Error()))
		return
	}
	if err := atomicWriteReservations(s.ConfigDir, data); err != nil {
		s.Logger.Warn("mgmt: replace applied in memory but persisting to disk failed", zap.Error(err))
	}
	if s.Metrics != nil {
		s.Metrics.ReservationSize.Set(float64(n))
	}
	s.Logger.Info("mgmt: replaced reservations", zap.Int("count", n))
	s.writeResponse(conn, okResponse(fmt.Sprintf("replaced with %d reservations", n), n))
}

func (s *Server) handleStatus(conn net.Conn) {
	n := s.Reservations.Load().Count()
	s.writeResponse(conn, okResponse("ok", n))
}

// ReloadFromDisk re-reads reservations.json from ConfigDir and swaps it
// into the live index. It is also invoked directly by the SIGHUP handler.
func (s *Server) ReloadFromDisk() (int, error) {
	reservations, err := config.LoadReservations(s.ConfigDir)
	if err != nil {
		return 0, err
	}
	n, err := s.Reservations.Replace(reservations)
	if err != nil {
		return 0, err
	}
	if s.Metrics != nil {
		s.Metrics.ReservationSize.Set(float64(n))
	}
	return n, nil
}

func (s *Server) writeResponse(conn net.Conn, resp response) {
	conn.SetWriteDeadline(time.Now().Add(readWriteTimeout))
	data, err := json.Marshal(resp)
	if err != nil {
		s.Logger.Error("mgmt: marshal response failed", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.Logger.Debug("mgmt: write response failed", zap.Error(err))
	}
}

func okResponse(message string, count int) response {
	return response{Success: true, Message: &message, ReservationCount: &count}
}

func errResponse(msg string) response {
	return response{Success: false, Error: &msg}
}

// atomicWriteReservations writes data to reservations.json in dir via a
// temp-file-then-rename, so a crash mid-write never leaves a truncated
// file in place.
func atomicWriteReservations(dir string, data []byte) error {
	final := filepath.Join(dir, reservationsFile)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("mgmt: creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("mgmt: writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("mgmt: syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("mgmt: closing temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("mgmt: renaming temp file: %w", err)
	}
	return nil
}
