// Package dhcpv4handler implements the DHCPv4 request handler (C6):
// Discover/Request/Release/Decline/Inform against a reservation-only
// index, with no lease allocation. Control flow follows the teacher
// codebase's handleDHCP/handleDiscover/handleRequest dispatch shape;
// match-priority and NAK semantics follow the original implementation's
// v4 handlers exactly (MAC takes precedence over Option82, DHCPREQUEST's
// four variants, yiaddr zeroed and broadcast flag set on a relayed NAK).
package dhcpv4handler

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
	"go.uber.org/zap"

	"github.com/shadowisp/dhcpreserved/internal/dhcpv4wire"
	"github.com/shadowisp/dhcpreserved/internal/events"
	"github.com/shadowisp/dhcpreserved/internal/extract"
	"github.com/shadowisp/dhcpreserved/internal/maccache"
	"github.com/shadowisp/dhcpreserved/internal/metrics"
	"github.com/shadowisp/dhcpreserved/internal/model"
	"github.com/shadowisp/dhcpreserved/internal/reservation"
)

const (
	addressLeaseTime = 24 * time.Hour
	renewalTime      = 12 * time.Hour
	rebindingTime    = 21 * time.Hour
)

// Deps bundles everything a handler invocation needs, built once at
// server start and shared across every request.
type Deps struct {
	Logger       *zap.Logger
	Reservations *reservation.Manager
	MacCache     *maccache.Cache
	ServerID     net.IP
	DNS          []net.IP
	Subnets      []model.V4Subnet
	Option82     []extract.NamedOption82Extractor
	EventSink    func(events.Event)
	Metrics      *metrics.Metrics
}

// Handle processes one inbound DHCPv4 message and returns the reply to
// send, or nil if the server should stay silent. Every invocation mints
// its own request-id, attached to every log line and to the emitted
// event.
func (d *Deps) Handle(msg *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	requestID := uuid.NewString()
	log := d.Logger.With(zap.String("request_id", requestID), zap.String("xid", msg.TransactionID.String()))

	if msg.OpCode != dhcpv4.OpcodeBootRequest {
		return nil
	}

	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues("v4", msg.MessageType().String()).Inc()
	}

	if msg.GatewayIPAddr.IsUnspecified() {
		// Relay-only policy: a directly-broadcast message never came
		// through a relay agent and gets no answer.
		log.Info("dropping non-relayed message", zap.String("mac", msg.ClientHWAddr.String()))
		d.emit(requestID, msg, model.Option82Fields{}, false, "", false, "non_relayed")
		d.recordNoMatch("non_relayed")
		return nil
	}

	var reply *dhcpv4.DHCPv4
	switch msg.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		reply = d.handleDiscover(log, requestID, msg)
	case dhcpv4.MessageTypeRequest:
		reply = d.handleRequest(log, requestID, msg)
	case dhcpv4.MessageTypeInform:
		reply = d.handleInform(log, requestID, msg)
	case dhcpv4.MessageTypeRelease, dhcpv4.MessageTypeDecline:
		// No lease state to release or decline; the server has
		// nothing useful to say back for either.
		d.emit(requestID, msg, model.Option82Fields{}, false, "", false, "no_response_required")
		d.recordNoMatch("no_response_required")
		return nil
	default:
		return nil
	}

	if reply != nil {
		d.recordReply(reply.MessageType().String())
	}
	return reply
}

// recordNoMatch increments the no-match counter when a metric set is
// attached; a nil Deps.Metrics leaves this a no-op.
func (d *Deps) recordNoMatch(reason string) {
	if d.Metrics != nil {
		d.Metrics.NoMatchTotal.WithLabelValues("v4", reason).Inc()
	}
}

func (d *Deps) recordReply(replyType string) {
	if d.Metrics != nil {
		d.Metrics.RepliesTotal.WithLabelValues("v4", replyType).Inc()
	}
}

// chaddrIsMAC reports whether a message's chaddr field is a genuine
// 6-byte Ethernet hardware address and therefore safe to use as a MAC
// match key, rather than some other link-layer address type or a
// truncated/garbage field.
func chaddrIsMAC(msg *dhcpv4.DHCPv4) bool {
	return msg.HWType == iana.HWTypeEthernet && len(msg.ClientHWAddr) == 6
}

// findReservation implements the v4 lookup priority: MAC beats Option82.
// It returns the matched reservation along with matchMethod ("mac" or
// "option82") and extractorUsed, the specific Option82 extractor name
// that produced the key (empty for a direct MAC match).
func (d *Deps) findReservation(msg *dhcpv4.DHCPv4, relayInfo model.Option82Fields, haveRelayInfo bool) (*model.Reservation, string, string) {
	idx := d.Reservations.Load()
	if chaddrIsMAC(msg) {
		if r, ok := idx.ByMAC(msg.ClientHWAddr.String()); ok {
			return r, "mac", ""
		}
	}
	if !haveRelayInfo {
		return nil, "", ""
	}
	for _, ex := range d.Option82 {
		key, ok := ex.Fn(relayInfo)
		if !ok {
			continue
		}
		if r, ok := idx.ByOption82(key); ok {
			return r, "option82", ex.Name
		}
	}
	return nil, "", ""
}

// lookupReservation wraps findReservation with a lookup-latency
// observation when a metric set is attached.
func (d *Deps) lookupReservation(msg *dhcpv4.DHCPv4, relayInfo model.Option82Fields, haveRelayInfo bool) (*model.Reservation, string, string) {
	if d.Metrics == nil {
		return d.findReservation(msg, relayInfo, haveRelayInfo)
	}
	start := time.Now()
	res, matchMethod, extractorUsed := d.findReservation(msg, relayInfo, haveRelayInfo)
	d.Metrics.LookupDuration.WithLabelValues("v4").Observe(time.Since(start).Seconds())
	return res, matchMethod, extractorUsed
}

func (d *Deps) findSubnet(ip net.IP) (model.V4Subnet, bool) {
	for _, s := range d.Subnets {
		if s.Net.Contains(ip) {
			return s, true
		}
	}
	return model.V4Subnet{}, false
}

func (d *Deps) handleDiscover(log *zap.Logger, requestID string, msg *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac := msg.ClientHWAddr
	relayInfo, haveRelay := dhcpv4wire.RelayAgentInfo(msg)

	res, matchMethod, extractorUsed := d.lookupReservation(msg, relayInfo, haveRelay)
	if res == nil {
		log.Info("DHCPDISCOVER: no reservation found", zap.String("mac", mac.String()))
		d.emit(requestID, msg, relayInfo, haveRelay, "", false, "no_reservation")
		d.recordNoMatch("no_reservation")
		return nil
	}

	subnet, ok := d.findSubnet(res.IPv4)
	if !ok {
		log.Error("DHCPDISCOVER: no configured subnet for reserved address", zap.String("ipv4", res.IPv4.String()))
		d.emit(requestID, msg, relayInfo, haveRelay, "", false, "no_subnet")
		d.recordNoMatch("no_subnet")
		return nil
	}

	reply, err := dhcpv4.NewReplyFromRequest(msg,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithServerIP(d.ServerID),
		dhcpv4.WithYourIP(res.IPv4),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(d.ServerID)),
		dhcpv4.WithNetmask(subnet.ReplyNetmask()),
		dhcpv4.WithRouter(subnet.Gateway),
		dhcpv4.WithDNS(d.DNS...),
		dhcpv4.WithLeaseTime(uint32(addressLeaseTime.Seconds())),
		dhcpv4.WithOption(optRenewTimeValue(uint32(renewalTime.Seconds()))),
		dhcpv4.WithOption(optRebindingTimeValue(uint32(rebindingTime.Seconds()))),
	)
	if err != nil {
		log.Error("DHCPDISCOVER: building offer failed", zap.Error(err))
		return nil
	}

	if haveRelay && chaddrIsMAC(msg) {
		d.MacCache.Insert(mac.String(), relayInfo)
	}

	log.Info("DHCPOFFER", zap.String("mac", mac.String()), zap.String("ipv4", res.IPv4.String()), zap.String("match_method", matchMethod))
	d.emitSuccess(requestID, msg, relayInfo, haveRelay, res.IPv4.String(), matchMethod, extractorUsed)
	return reply
}

func (d *Deps) handleRequest(log *zap.Logger, requestID string, msg *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac := msg.ClientHWAddr
	relayInfo, haveRelay := dhcpv4wire.RelayAgentInfo(msg)

	res, matchMethod, extractorUsed := d.lookupReservation(msg, relayInfo, haveRelay)
	if res == nil {
		log.Info("DHCPREQUEST: no reservation found", zap.String("mac", mac.String()))
		d.emit(requestID, msg, relayInfo, haveRelay, "", false, "no_reservation")
		d.recordNoMatch("no_reservation")
		return nil
	}

	subnet, ok := d.findSubnet(res.IPv4)
	if !ok {
		log.Warn("DHCPREQUEST: no configured subnet for reserved address", zap.String("ipv4", res.IPv4.String()))
		d.emit(requestID, msg, relayInfo, haveRelay, "", false, "no_subnet")
		d.recordNoMatch("no_subnet")
		return nil
	}

	serverID := msg.ServerIdentifier()
	requestedIP := msg.RequestedIPAddress()
	ciaddr := msg.ClientIPAddr

	var clientRequestedIP net.IP
	switch {
	case serverID != nil && ciaddr.IsUnspecified() && requestedIP != nil:
		// SELECTING
		if !serverID.Equal(d.ServerID) {
			log.Info("DHCPREQUEST: SELECTING server id mismatch")
			return nil
		}
		clientRequestedIP = requestedIP
	case serverID == nil && ciaddr.IsUnspecified() && requestedIP != nil:
		// INIT-REBOOT
		clientRequestedIP = requestedIP
	case serverID == nil && !ciaddr.IsUnspecified() && requestedIP == nil:
		// RENEW (unicast, giaddr unset) or REBINDING (broadcast via relay)
		clientRequestedIP = ciaddr
	default:
		log.Info("DHCPREQUEST: unrecognized variant")
		return nil
	}

	if clientRequestedIP.Equal(res.IPv4) {
		reply, err := dhcpv4.NewReplyFromRequest(msg,
			dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
			dhcpv4.WithServerIP(d.ServerID),
			dhcpv4.WithYourIP(res.IPv4),
			dhcpv4.WithOption(dhcpv4.OptServerIdentifier(d.ServerID)),
			dhcpv4.WithNetmask(subnet.ReplyNetmask()),
			dhcpv4.WithRouter(subnet.Gateway),
			dhcpv4.WithDNS(d.DNS...),
			dhcpv4.WithLeaseTime(uint32(addressLeaseTime.Seconds())),
			dhcpv4.WithOption(optRenewTimeValue(uint32(renewalTime.Seconds()))),
			dhcpv4.WithOption(optRebindingTimeValue(uint32(rebindingTime.Seconds()))),
		)
		if err != nil {
			log.Error("DHCPREQUEST: building ack failed", zap.Error(err))
			return nil
		}

		if haveRelay && chaddrIsMAC(msg) {
			d.MacCache.Insert(mac.String(), relayInfo)
		}

		log.Info("DHCPACK", zap.String("mac", mac.String()), zap.String("ipv4", res.IPv4.String()), zap.String("match_method", matchMethod))
		d.emitSuccess(requestID, msg, relayInfo, haveRelay, res.IPv4.String(), matchMethod, extractorUsed)
		return reply
	}

	log.Warn("DHCPREQUEST: requested ip doesn't match reservation, sending NAK",
		zap.String("reservation_ipv4", res.IPv4.String()),
		zap.String("client_requested_ip", clientRequestedIP.String()))

	nak, err := dhcpv4.NewReplyFromRequest(msg,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
		dhcpv4.WithServerIP(d.ServerID),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(d.ServerID)),
	)
	if err != nil {
		log.Error("DHCPREQUEST: building nak failed", zap.Error(err))
		return nil
	}
	nak.YourIPAddr = net.IPv4zero
	if !msg.GatewayIPAddr.IsUnspecified() {
		nak.SetBroadcast()
	}
	d.emit(requestID, msg, relayInfo, haveRelay, "", false, "requested_ip_mismatch")
	return nak
}

// handleInform answers DHCPINFORM with a config-only Ack: the client
// already holds the address in ciaddr (by manual configuration or some
// other means), so the reply carries netmask/router/DNS but no yiaddr
// and no lease timers.
func (d *Deps) handleInform(log *zap.Logger, requestID string, msg *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	subnet, ok := d.findSubnet(msg.ClientIPAddr)
	if !ok {
		log.Warn("DHCPINFORM: no configured subnet for client address", zap.String("ciaddr", msg.ClientIPAddr.String()))
		d.emit(requestID, msg, model.Option82Fields{}, false, "", false, "no_subnet")
		d.recordNoMatch("no_subnet")
		return nil
	}

	reply, err := dhcpv4.NewReplyFromRequest(msg,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithServerIP(d.ServerID),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(d.ServerID)),
		dhcpv4.WithNetmask(subnet.ReplyNetmask()),
		dhcpv4.WithRouter(subnet.Gateway),
		dhcpv4.WithDNS(d.DNS...),
	)
	if err != nil {
		log.Error("DHCPINFORM: building ack failed", zap.Error(err))
		return nil
	}

	log.Info("DHCPACK (inform)", zap.String("ciaddr", msg.ClientIPAddr.String()))
	d.emit(requestID, msg, model.Option82Fields{}, false, "", true, "")
	return reply
}

// populateOption82 copies a relay's Option82 sub-option values onto the
// event record, whether or not they ended up being the thing that
// matched a reservation.
func populateOption82(e *events.Event, relayInfo model.Option82Fields, haveRelayInfo bool) {
	if !haveRelayInfo {
		return
	}
	if relayInfo.Circuit != "" {
		v := events.NewOptionValue([]byte(relayInfo.Circuit))
		e.Option82Circuit = &v
	}
	if relayInfo.Remote != "" {
		v := events.NewOptionValue([]byte(relayInfo.Remote))
		e.Option82Remote = &v
	}
	if relayInfo.Subscriber != "" {
		v := events.NewOptionValue([]byte(relayInfo.Subscriber))
		e.Option82Subscriber = &v
	}
}

func (d *Deps) emit(requestID string, msg *dhcpv4.DHCPv4, relayInfo model.Option82Fields, haveRelayInfo bool, assignedIP string, success bool, reason string) {
	if d.EventSink == nil {
		return
	}
	e := events.New("v4", msg.MessageType().String())
	e.RequestID = requestID
	e.Success = success
	e.FailureReason = reason
	e.MAC = events.FormatMAC(msg.ClientHWAddr)
	if ip := msg.RequestedIPAddress(); ip != nil {
		e.RequestedIPv4 = ip.String()
	}
	e.AssignedIPv4 = assignedIP
	populateOption82(&e, relayInfo, haveRelayInfo)
	if !msg.GatewayIPAddr.IsUnspecified() {
		e.GatewayAddr = msg.GatewayIPAddr.String()
	}
	d.EventSink(e)
}

func (d *Deps) emitSuccess(requestID string, msg *dhcpv4.DHCPv4, relayInfo model.Option82Fields, haveRelayInfo bool, assignedIP, matchMethod, extractorUsed string) {
	if d.EventSink == nil {
		return
	}
	e := events.New("v4", msg.MessageType().String())
	e.RequestID = requestID
	e.Success = true
	e.MAC = events.FormatMAC(msg.ClientHWAddr)
	e.AssignedIPv4 = assignedIP
	e.MatchMethod = matchMethod
	e.ExtractorUsed = extractorUsed
	if ip := msg.RequestedIPAddress(); ip != nil {
		e.RequestedIPv4 = ip.String()
	}
	populateOption82(&e, relayInfo, haveRelayInfo)
	if !msg.GatewayIPAddr.IsUnspecified() {
		e.GatewayAddr = msg.GatewayIPAddr.String()
	}
	d.EventSink(e)
}
