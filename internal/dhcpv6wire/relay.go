package dhcpv6wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// RelayMessage is a Relay-Forw or Relay-Repl envelope (RFC 8415 §9). A
// relay chain may nest these up to MaxRelayHops deep; UnwrapRelayChain
// walks the chain down to the innermost client message.
type RelayMessage struct {
	Type        uint8
	HopCount    uint8
	LinkAddress net.IP
	PeerAddress net.IP
	Options     Options
}

// ParseRelay decodes a single Relay-Forw/Relay-Repl envelope. It does not
// recurse into a nested Relay-Message option; use UnwrapRelayChain for
// that.
func ParseRelay(data []byte) (*RelayMessage, error) {
	if len(data) < 34 {
		return nil, fmt.Errorf("dhcpv6wire: relay message too short")
	}
	rm := &RelayMessage{
		Type:        data[0],
		HopCount:    data[1],
		LinkAddress: net.IP(append([]byte(nil), data[2:18]...)),
		PeerAddress: net.IP(append([]byte(nil), data[18:34]...)),
	}
	opts, err := ParseOptions(data[34:])
	if err != nil {
		return nil, err
	}
	rm.Options = opts
	return rm, nil
}

// Serialize encodes a relay envelope back to wire form.
func (r *RelayMessage) Serialize() []byte {
	buf := make([]byte, 34)
	buf[0] = r.Type
	buf[1] = r.HopCount
	copy(buf[2:18], r.LinkAddress.To16())
	copy(buf[18:34], r.PeerAddress.To16())
	return append(buf, r.Options.Serialize()...)
}

// InnerRelayMessage returns the nested Relay-Message option payload, if
// this envelope carries one (Option 9).
func (r *RelayMessage) InnerRelayMessage() ([]byte, bool) {
	if opt, ok := r.Options.Get(OptRelayMsg); ok {
		return opt.Data, true
	}
	return nil, false
}

// SetInnerRelayMessage replaces (or adds) the nested Relay-Message option.
func (r *RelayMessage) SetInnerRelayMessage(payload []byte) {
	for i := range r.Options {
		if r.Options[i].Code == OptRelayMsg {
			r.Options[i].Data = payload
			return
		}
	}
	r.Options = append(r.Options, Option{Code: OptRelayMsg, Data: payload})
}

// InterfaceID returns Option 18 (RFC 3315 §19) as a string, if present.
func (r *RelayMessage) InterfaceID() (string, bool) {
	if opt, ok := r.Options.Get(OptInterfaceID); ok {
		return string(opt.Data), true
	}
	return "", false
}

// RemoteID is the decoded Option 37 (RFC 4649): a 4-byte enterprise
// number followed by an opaque remote identifier.
type RemoteID struct {
	EnterpriseNumber uint32
	ID               []byte
}

// RemoteID returns Option 37, if present.
func (r *RelayMessage) RemoteID() (RemoteID, bool) {
	opt, ok := r.Options.Get(OptRemoteID)
	if !ok || len(opt.Data) < 4 {
		return RemoteID{}, false
	}
	return RemoteID{
		EnterpriseNumber: binary.BigEndian.Uint32(opt.Data[0:4]),
		ID:               opt.Data[4:],
	}, true
}

// ClientLinkLayerAddress decodes Option 79 (RFC 6939): a 2-byte hardware
// type followed by the link-layer address. Only a 6-byte (Ethernet-sized)
// address is usable as a MAC.
func (r *RelayMessage) ClientLinkLayerAddress() (net.HardwareAddr, bool) {
	opt, ok := r.Options.Get(OptClientLinklayerAddr)
	if !ok || len(opt.Data) < 2 {
		return nil, false
	}
	addr := opt.Data[2:]
	if len(addr) != 6 {
		return nil, false
	}
	return net.HardwareAddr(append([]byte(nil), addr...)), true
}

// RelayChain is the sequence of Relay-Forw/Relay-Repl envelopes wrapping
// a client message, in wire order: index 0 is the outermost envelope (the
// relay nearest this server), and the last index is the innermost envelope
// (the relay directly attached to the client's link).
type RelayChain []*RelayMessage

// ClosestToClient returns the relay envelope directly attached to the
// client's link. Per RFC 8415 §19, a relay sets peer-address to the
// address of whatever sent it the message being relayed — only the
// innermost envelope's peer-address is therefore the client's own
// link-local address, which is what EUI-64 MAC recovery needs.
func (c RelayChain) ClosestToClient() (*RelayMessage, bool) {
	if len(c) == 0 {
		return nil, false
	}
	return c[len(c)-1], true
}

// Option1837 merges Interface-ID and Remote-ID across every relay hop in
// the chain, first-found-wins per field, since either field may be
// inserted by any relay in a multi-hop chain.
func (c RelayChain) Option1837() (interfaceID, remoteIDStr string, enterprise uint32, hasEnt, ok bool) {
	for _, rm := range c {
		if interfaceID == "" {
			if v, present := rm.InterfaceID(); present {
				interfaceID = v
			}
		}
		if remoteIDStr == "" {
			if v, present := rm.RemoteID(); present {
				remoteIDStr = string(v.ID)
				enterprise = v.EnterpriseNumber
				hasEnt = true
			}
		}
	}
	ok = interfaceID != "" || remoteIDStr != ""
	return
}

// UnwrapRelayChain parses a Relay-Forw (or Relay-Repl) envelope from the
// wire and walks nested Relay-Message options until it reaches the innermost client
// message, returning the full chain (outermost first) and the decoded
// client message. It rejects chains deeper than MaxRelayHops to guard
// against a malformed or malicious nesting loop.
func UnwrapRelayChain(data []byte) (RelayChain, *Message, error) {
	var chain RelayChain
	cur := data
	for hop := 0; ; hop++ {
		if hop >= MaxRelayHops {
			return nil, nil, fmt.Errorf("dhcpv6wire: relay chain exceeds %d hops", MaxRelayHops)
		}
		if len(cur) == 0 {
			return nil, nil, fmt.Errorf("dhcpv6wire: empty relay payload")
		}
		if cur[0] != MsgTypeRelayForw && cur[0] != MsgTypeRelayRepl {
			msg, err := ParseMessage(cur)
			if err != nil {
				return nil, nil, err
			}
			if len(chain) == 0 {
				return nil, nil, fmt.Errorf("dhcpv6wire: message not relayed")
			}
			return chain, msg, nil
		}
		if hop >= MaxRelayHops {
			return nil, nil, fmt.Errorf("dhcpv6wire: relay chain exceeds %d hops", MaxRelayHops)
		}
		rm, err := ParseRelay(cur)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, rm)
		inner, ok := rm.InnerRelayMessage()
		if !ok {
			return nil, nil, fmt.Errorf("dhcpv6wire: relay envelope missing Relay-Message option")
		}
		cur = inner
	}
}
