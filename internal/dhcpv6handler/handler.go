// Package dhcpv6handler implements the DHCPv6 request handler (C7):
// Solicit/Request/Renew/Rebind/Confirm/Release/Decline against a
// reservation-only index, reached only through a relay chain (this
// server is never directly addressed by a client). Control flow follows
// the original implementation's v6 handlers.rs semantics (client-id and
// server-id presence/match checks, IA_NA/IA_PD echo, NoBinding/NotOnLink
// status codes) translated into this codebase's handler idiom.
package dhcpv6handler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowisp/dhcpreserved/internal/dhcpv6wire"
	"github.com/shadowisp/dhcpreserved/internal/events"
	"github.com/shadowisp/dhcpreserved/internal/extract"
	"github.com/shadowisp/dhcpreserved/internal/maccache"
	"github.com/shadowisp/dhcpreserved/internal/metrics"
	"github.com/shadowisp/dhcpreserved/internal/model"
	"github.com/shadowisp/dhcpreserved/internal/reservation"
)

// msgTypeName renders a DHCPv6 message type as the lowercase label used
// for this handler's request and reply metric labels.
func msgTypeName(t uint8) string {
	switch t {
	case dhcpv6wire.MsgTypeSolicit:
		return "solicit"
	case dhcpv6wire.MsgTypeRequest:
		return "request"
	case dhcpv6wire.MsgTypeConfirm:
		return "confirm"
	case dhcpv6wire.MsgTypeRenew:
		return "renew"
	case dhcpv6wire.MsgTypeRebind:
		return "rebind"
	case dhcpv6wire.MsgTypeRelease:
		return "release"
	case dhcpv6wire.MsgTypeDecline:
		return "decline"
	default:
		return fmt.Sprintf("type_%d", t)
	}
}

const (
	preferredLifetime uint32 = 3600
	validLifetime     uint32 = 7200
	renewalTime       uint32 = 1800
	rebindingTime     uint32 = 2880
)

// Deps bundles everything a handler invocation needs.
type Deps struct {
	Logger        *zap.Logger
	Reservations  *reservation.Manager
	MacCache      *maccache.Cache
	ServerDUID    model.Duid
	Option1837    []extract.NamedOption1837Extractor
	MacExtractors []extract.NamedMacExtractor
	EventSink     func(events.Event)
	Metrics       *metrics.Metrics
}

// NoResponseReason explains, for logging/events, why the server stayed
// silent.
type NoResponseReason string

const (
	ReasonNoClientID         NoResponseReason = "no_client_id"
	ReasonUnexpectedServerID NoResponseReason = "unexpected_server_id"
	ReasonWrongServerID      NoResponseReason = "wrong_server_id"
	ReasonNoServerID         NoResponseReason = "no_server_id"
	ReasonNoReservation      NoResponseReason = "no_reservation"
	ReasonDiscarded          NoResponseReason = "discarded"
)

// matchResult carries a matched reservation and which lookup found it.
// matchMethod is the category of key that matched ("duid", "option1837",
// "mac", or "option82" for the MAC-cache recovery path); extractorUsed is
// the specific mechanism within that category (e.g. the Option1837
// extractor name, or "mac_cache"), kept distinct so a genuine DUID match
// is never confused with a MAC recovered via a "duid"-named MAC
// extractor.
type matchResult struct {
	res           *model.Reservation
	matchMethod   string
	extractorUsed string
}

// Handle unwraps a relay-forwarded datagram and dispatches on the inner
// message's type, returning the Relay-Repl payload to send back to the
// relay, or nil if the server should stay silent.
func (d *Deps) Handle(raw []byte) []byte {
	requestID := uuid.NewString()
	log := d.Logger.With(zap.String("request_id", requestID))

	chain, msg, err := dhcpv6wire.UnwrapRelayChain(raw)
	if err != nil {
		log.Warn("v6: failed to unwrap relay chain", zap.Error(err))
		return nil
	}

	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues("v6", msgTypeName(msg.Type)).Inc()
	}

	var reply *dhcpv6wire.Message
	switch msg.Type {
	case dhcpv6wire.MsgTypeSolicit:
		reply = d.handleSolicit(log, requestID, msg, chain)
	case dhcpv6wire.MsgTypeRequest:
		reply = d.handleRequest(requestID, msg, chain)
	case dhcpv6wire.MsgTypeRenew:
		reply = d.handleRenew(requestID, msg, chain)
	case dhcpv6wire.MsgTypeRebind:
		// RFC 8415 18.4.5: Rebind is handled the same way as Renew,
		// since the client accepts a reply from any server willing
		// to confirm its bindings.
		reply = d.handleRenew(requestID, msg, chain)
	case dhcpv6wire.MsgTypeConfirm:
		reply = d.handleConfirm(requestID, msg, chain)
	case dhcpv6wire.MsgTypeRelease:
		reply = d.handleReleaseOrDecline(requestID, "release", msg)
	case dhcpv6wire.MsgTypeDecline:
		reply = d.handleReleaseOrDecline(requestID, "decline", msg)
	default:
		return nil
	}

	if reply == nil {
		return nil
	}

	if d.Metrics != nil {
		d.Metrics.RepliesTotal.WithLabelValues("v6", msgTypeName(reply.Type)).Inc()
	}

	return wrapRelayReply(chain, reply)
}

// recordNoMatch increments the no-match counter when a metric set is
// attached; a nil Deps.Metrics leaves this a no-op.
func (d *Deps) recordNoMatch(reason string) {
	if d.Metrics != nil {
		d.Metrics.NoMatchTotal.WithLabelValues("v6", reason).Inc()
	}
}

// wrapRelayReply nests one Relay-Repl envelope per Relay-Forw layer in
// chain, outermost envelope last. Each layer copies its corresponding
// Relay-Forw's hop-count, link-address, and peer-address, and echoes
// that layer's Interface-ID option if the relay included one, per RFC
// 8415 §9: a relay agent only recognizes a reply with the same nesting
// depth and addressing as its own request.
func wrapRelayReply(chain dhcpv6wire.RelayChain, reply *dhcpv6wire.Message) []byte {
	payload := reply.Serialize()
	for i := len(chain) - 1; i >= 0; i-- {
		forw := chain[i]
		layer := &dhcpv6wire.RelayMessage{
			Type:        dhcpv6wire.MsgTypeRelayRepl,
			HopCount:    forw.HopCount,
			LinkAddress: forw.LinkAddress,
			PeerAddress: forw.PeerAddress,
		}
		if ifaceID, ok := forw.InterfaceID(); ok {
			layer.Options = append(layer.Options, dhcpv6wire.Option{Code: dhcpv6wire.OptInterfaceID, Data: []byte(ifaceID)})
		}
		layer.SetInnerRelayMessage(payload)
		payload = layer.Serialize()
	}
	return payload
}

// findReservation implements the v6 lookup priority per the original
// implementation: DUID, then Option18/37, then MAC (recovered from the
// relay chain), then the MAC cache's remembered Option82 fingerprint.
func (d *Deps) findReservation(clientID []byte, chain dhcpv6wire.RelayChain) matchResult {
	idx := d.Reservations.Load()

	if duid, err := model.NewDuid(clientID); err == nil {
		if r, ok := idx.ByDUID(duid); ok {
			return matchResult{r, "duid", "duid"}
		}
	}

	if iface, remote, ent, hasEnt, ok := chain.Option1837(); ok {
		fields := model.Option1837Fields{Interface: iface, Remote: remote, Enterprise: ent, HasEnt: hasEnt}
		for _, ex := range d.Option1837 {
			key, matched := ex.Fn(fields)
			if !matched {
				continue
			}
			if r, ok := idx.ByOption1837(key); ok {
				return matchResult{r, "option1837", ex.Name}
			}
		}
	}

	mac, macExtractor, _, ok := extract.ExtractMAC(d.MacExtractors, chain, clientID)
	if ok {
		if r, found := idx.ByMAC(mac.String()); found {
			return matchResult{r, "mac", macExtractor}
		}
		if o82, found := d.MacCache.LookupByMAC(mac.String()); found {
			if r, found := idx.ByOption82(o82); found {
				return matchResult{r, "option82", "mac_cache"}
			}
		}
	}

	return matchResult{}
}

// lookupReservation wraps findReservation with a lookup-latency
// observation when a metric set is attached.
func (d *Deps) lookupReservation(clientID []byte, chain dhcpv6wire.RelayChain) matchResult {
	if d.Metrics == nil {
		return d.findReservation(clientID, chain)
	}
	start := time.Now()
	m := d.findReservation(clientID, chain)
	d.Metrics.LookupDuration.WithLabelValues("v6").Observe(time.Since(start).Seconds())
	return m
}

func (d *Deps) handleSolicit(log *zap.Logger, requestID string, msg *dhcpv6wire.Message, chain dhcpv6wire.RelayChain) *dhcpv6wire.Message {
	clientID, ok := msg.ClientID()
	if !ok {
		d.noResponse(requestID, "solicit", ReasonNoClientID)
		return nil
	}
	if _, hasServerID := msg.ServerID(); hasServerID {
		log.Info("Solicit: client included a server id, ignoring")
		d.noResponse(requestID, "solicit", ReasonUnexpectedServerID)
		return nil
	}

	match := d.lookupReservation(clientID, chain)
	if match.res == nil {
		d.noResponse(requestID, "solicit", ReasonNoReservation)
		return nil
	}

	msgType := uint8(dhcpv6wire.MsgTypeAdvertise)
	if msg.RapidCommit() {
		msgType = dhcpv6wire.MsgTypeReply
	}

	reply := &dhcpv6wire.Message{Type: msgType, TransactionID: msg.TransactionID}
	if msgType == dhcpv6wire.MsgTypeReply {
		reply.Options = append(reply.Options, dhcpv6wire.Option{Code: dhcpv6wire.OptRapidCommit})
	} else {
		pref := make([]byte, 1)
		pref[0] = 255
		reply.Options = append(reply.Options, dhcpv6wire.Option{Code: dhcpv6wire.OptPreference, Data: pref})
	}

	d.appendIAOptions(reply, msg, match.res)
	reply.Options = append(reply.Options, dhcpv6wire.MakeServerIDOption(d.ServerDUID.Bytes))
	reply.Options = append(reply.Options, dhcpv6wire.MakeClientIDOption(clientID))

	d.emitReservationEvent(requestID, "solicit", match, chain, true, "")
	return reply
}

func (d *Deps) handleRequest(requestID string, msg *dhcpv6wire.Message, chain dhcpv6wire.RelayChain) *dhcpv6wire.Message {
	clientID, ok := msg.ClientID()
	if !ok {
		d.noResponse(requestID, "request", ReasonNoClientID)
		return nil
	}
	serverID, hasServerID := msg.ServerID()
	if !hasServerID {
		d.noResponse(requestID, "request", ReasonNoServerID)
		return nil
	}
	if !equalBytes(serverID, d.ServerDUID.Bytes) {
		d.noResponse(requestID, "request", ReasonWrongServerID)
		return nil
	}

	match := d.lookupReservation(clientID, chain)
	if match.res == nil {
		d.noResponse(requestID, "request", ReasonNoReservation)
		return nil
	}

	reply := &dhcpv6wire.Message{Type: dhcpv6wire.MsgTypeReply, TransactionID: msg.TransactionID}
	d.appendIAOptions(reply, msg, match.res)
	reply.Options = append(reply.Options, dhcpv6wire.MakeServerIDOption(d.ServerDUID.Bytes))
	reply.Options = append(reply.Options, dhcpv6wire.MakeClientIDOption(clientID))

	d.emitReservationEvent(requestID, "request", match, chain, true, "")
	return reply
}

// handleRenew serves both Renew and Rebind: confirm the client's
// reservation still matches, or return NoBinding status inside each IA.
func (d *Deps) handleRenew(requestID string, msg *dhcpv6wire.Message, chain dhcpv6wire.RelayChain) *dhcpv6wire.Message {
	clientID, ok := msg.ClientID()
	if !ok {
		d.noResponse(requestID, "renew", ReasonNoClientID)
		return nil
	}

	reply := &dhcpv6wire.Message{Type: dhcpv6wire.MsgTypeReply, TransactionID: msg.TransactionID}
	match := d.lookupReservation(clientID, chain)

	if match.res != nil {
		d.appendIAOptions(reply, msg, match.res)
		d.emitReservationEvent(requestID, "renew", match, chain, true, "")
	} else {
		d.appendNoBindingIAs(reply, msg)
		d.emitEvent(requestID, "renew", nil, "", "", chain, false, "no_binding")
	}

	reply.Options = append(reply.Options, dhcpv6wire.MakeServerIDOption(d.ServerDUID.Bytes))
	reply.Options = append(reply.Options, dhcpv6wire.MakeClientIDOption(clientID))
	return reply
}

// handleConfirm validates that the addresses a client already believes
// it holds are still the ones reserved for it, replying NotOnLink when
// they aren't (or when no reservation exists at all — the server can't
// confirm an address it has no record of).
func (d *Deps) handleConfirm(requestID string, msg *dhcpv6wire.Message, chain dhcpv6wire.RelayChain) *dhcpv6wire.Message {
	clientID, ok := msg.ClientID()
	if !ok {
		d.noResponse(requestID, "confirm", ReasonNoClientID)
		return nil
	}

	reply := &dhcpv6wire.Message{Type: dhcpv6wire.MsgTypeReply, TransactionID: msg.TransactionID}
	match := d.lookupReservation(clientID, chain)

	onLink := false
	if iana, hasIANA := msg.IANA(); hasIANA && match.res != nil && match.res.IPv6NA != nil {
		for _, opt := range iana.Options {
			if opt.Code != dhcpv6wire.OptIAAddr {
				continue
			}
			addr, err := dhcpv6wire.ParseIAAddress(opt.Data)
			if err == nil && addr.Address.Equal(match.res.IPv6NA) {
				onLink = true
			}
		}
	}

	status := dhcpv6wire.StatusNotOnLink
	statusMsg := "address not reserved for this client"
	if onLink {
		status = dhcpv6wire.StatusSuccess
		statusMsg = "confirmed"
	}
	reply.Options = append(reply.Options, dhcpv6wire.MakeStatusCodeOption(uint16(status), statusMsg))
	reply.Options = append(reply.Options, dhcpv6wire.MakeServerIDOption(d.ServerDUID.Bytes))
	reply.Options = append(reply.Options, dhcpv6wire.MakeClientIDOption(clientID))

	d.emitReservationEvent(requestID, "confirm", match, chain, onLink, "")
	return reply
}

// handleReleaseOrDecline acknowledges Release/Decline with a Success
// status code and no state change — there's no lease to release or
// decline in a reservation-only server, but the client still gets a
// Reply confirming receipt.
func (d *Deps) handleReleaseOrDecline(requestID, messageType string, msg *dhcpv6wire.Message) *dhcpv6wire.Message {
	clientID, ok := msg.ClientID()
	if !ok {
		d.noResponse(requestID, messageType, ReasonNoClientID)
		return nil
	}

	reply := &dhcpv6wire.Message{Type: dhcpv6wire.MsgTypeReply, TransactionID: msg.TransactionID}
	reply.Options = append(reply.Options, dhcpv6wire.MakeStatusCodeOption(dhcpv6wire.StatusSuccess, "acknowledged"))
	reply.Options = append(reply.Options, dhcpv6wire.MakeServerIDOption(d.ServerDUID.Bytes))
	reply.Options = append(reply.Options, dhcpv6wire.MakeClientIDOption(clientID))

	d.emitEvent(requestID, messageType, nil, "", "", nil, true, "")
	return reply
}

func (d *Deps) appendIAOptions(reply *dhcpv6wire.Message, msg *dhcpv6wire.Message, res *model.Reservation) {
	if iapd, ok := msg.IAPD(); ok && res.IPv6PD != nil {
		length, _ := res.IPv6PD.Mask.Size()
		iaPrefix := &dhcpv6wire.IAPrefix{
			PreferredLifetime: preferredLifetime,
			ValidLifetime:     validLifetime,
			PrefixLength:      uint8(length),
			Prefix:            res.IPv6PD.IP,
		}
		outIAPD := &dhcpv6wire.IAPD{IAID: iapd.IAID, T1: renewalTime, T2: rebindingTime}
		outIAPD.Options = append(outIAPD.Options, dhcpv6wire.MakeIAPrefixOption(iaPrefix))
		reply.Options = append(reply.Options, dhcpv6wire.MakeIAPDOption(outIAPD))
	}
	if iana, ok := msg.IANA(); ok && res.IPv6NA != nil {
		iaAddr := &dhcpv6wire.IAAddress{
			Address:           res.IPv6NA,
			PreferredLifetime: preferredLifetime,
			ValidLifetime:     validLifetime,
		}
		outIANA := &dhcpv6wire.IANA{IAID: iana.IAID, T1: renewalTime, T2: rebindingTime}
		outIANA.Options = append(outIANA.Options, dhcpv6wire.MakeIAAddressOption(iaAddr))
		reply.Options = append(reply.Options, dhcpv6wire.MakeIANAOption(outIANA))
	}
}

// appendNoBindingIAs echoes back each client IA with its lifetimes
// zeroed and a NoBinding status code, per RFC 8415 §18.3.4/18.3.5.
func (d *Deps) appendNoBindingIAs(reply *dhcpv6wire.Message, msg *dhcpv6wire.Message) {
	if iana, ok := msg.IANA(); ok {
		outIANA := &dhcpv6wire.IANA{IAID: iana.IAID, T1: 0, T2: 0}
		for _, opt := range iana.Options {
			if opt.Code == dhcpv6wire.OptIAAddr {
				addr, err := dhcpv6wire.ParseIAAddress(opt.Data)
				if err == nil {
					addr.PreferredLifetime = 0
					addr.ValidLifetime = 0
					outIANA.Options = append(outIANA.Options, dhcpv6wire.MakeIAAddressOption(addr))
				}
			}
		}
		outIANA.Options = append(outIANA.Options, dhcpv6wire.MakeStatusCodeOption(dhcpv6wire.StatusNoBinding, "no binding for this IA"))
		reply.Options = append(reply.Options, dhcpv6wire.MakeIANAOption(outIANA))
	}
	if iapd, ok := msg.IAPD(); ok {
		outIAPD := &dhcpv6wire.IAPD{IAID: iapd.IAID, T1: 0, T2: 0}
		for _, opt := range iapd.Options {
			if opt.Code == dhcpv6wire.OptIAPrefix {
				pfx, err := dhcpv6wire.ParseIAPrefix(opt.Data)
				if err == nil {
					pfx.PreferredLifetime = 0
					pfx.ValidLifetime = 0
					outIAPD.Options = append(outIAPD.Options, dhcpv6wire.MakeIAPrefixOption(pfx))
				}
			}
		}
		outIAPD.Options = append(outIAPD.Options, dhcpv6wire.MakeStatusCodeOption(dhcpv6wire.StatusNoBinding, "no binding for this IA"))
		reply.Options = append(reply.Options, dhcpv6wire.MakeIAPDOption(outIAPD))
	}
}

func (d *Deps) noResponse(requestID, messageType string, reason NoResponseReason) {
	d.recordNoMatch(string(reason))
	d.emitEvent(requestID, messageType, nil, "", "", nil, false, string(reason))
}

func (d *Deps) emitReservationEvent(requestID, messageType string, match matchResult, chain dhcpv6wire.RelayChain, success bool, reason string) {
	d.emitEvent(requestID, messageType, match.res, match.matchMethod, match.extractorUsed, chain, success, reason)
}

// populateOption1837 copies the relay chain's merged Interface-ID/
// Remote-ID values onto the event record, whether or not they ended up
// being the thing that matched a reservation.
func populateOption1837(e *events.Event, chain dhcpv6wire.RelayChain) {
	if chain == nil {
		return
	}
	iface, remote, _, _, ok := chain.Option1837()
	if !ok {
		return
	}
	if iface != "" {
		v := events.NewOptionValue([]byte(iface))
		e.Option1837Interface = &v
	}
	if remote != "" {
		v := events.NewOptionValue([]byte(remote))
		e.Option1837Remote = &v
	}
}

func (d *Deps) emitEvent(requestID, messageType string, res *model.Reservation, matchMethod, extractorUsed string, chain dhcpv6wire.RelayChain, success bool, reason string) {
	if d.EventSink == nil {
		return
	}
	e := events.New("v6", messageType)
	e.RequestID = requestID
	e.Success = success
	e.FailureReason = reason
	e.MatchMethod = matchMethod
	e.ExtractorUsed = extractorUsed
	populateOption1837(&e, chain)
	if res != nil {
		if res.IPv6NA != nil {
			e.AssignedIPv6NA = res.IPv6NA.String()
		}
		if res.IPv6PD != nil {
			e.AssignedIPv6PD = events.FormatPrefix(res.IPv6PD)
		}
	}
	d.EventSink(e)
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
