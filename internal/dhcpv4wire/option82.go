// Package dhcpv4wire provides the pieces of the DHCPv4 wire codec that
// github.com/insomniacslk/dhcp/dhcpv4 doesn't already give us: decoding
// and re-encoding the RFC 3046 Relay Agent Information sub-options
// (Circuit-ID, Remote-ID, Subscriber-ID). The base message and the rest
// of its options are handled directly through dhcpv4.Message, including
// its built-in RFC 3396 long-option reassembly.
package dhcpv4wire

import (
	"fmt"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/shadowisp/dhcpreserved/internal/model"
)

const (
	subOptCircuitID    = 1
	subOptRemoteID     = 2
	subOptSubscriberID = 6
)

// ParseOption82 decodes the Relay Agent Information option's sub-option
// TLVs. An empty sub-option is treated as absent, since a relay that
// sends a zero-length Circuit-ID is equivalent to not sending one at all.
func ParseOption82(data []byte) (model.Option82Fields, error) {
	var out model.Option82Fields
	offset := 0
	for offset+2 <= len(data) {
		subType := data[offset]
		subLen := int(data[offset+1])
		if offset+2+subLen > len(data) {
			return out, fmt.Errorf("dhcpv4wire: option82 sub-option length exceeds remaining data")
		}
		value := data[offset+2 : offset+2+subLen]
		switch subType {
		case subOptCircuitID:
			if len(value) > 0 {
				out.Circuit = string(value)
			}
		case subOptRemoteID:
			if len(value) > 0 {
				out.Remote = string(value)
			}
		case subOptSubscriberID:
			if len(value) > 0 {
				out.Subscriber = string(value)
			}
		}
		offset += 2 + subLen
	}
	return out, nil
}

// EncodeOption82 is the inverse of ParseOption82, used when the server
// needs to echo relay information back (not required by a reservation
// reply, but useful for tests and for mgmt-socket diagnostics).
func EncodeOption82(f model.Option82Fields) []byte {
	var buf []byte
	if f.Circuit != "" {
		buf = append(buf, subOptCircuitID, byte(len(f.Circuit)))
		buf = append(buf, f.Circuit...)
	}
	if f.Remote != "" {
		buf = append(buf, subOptRemoteID, byte(len(f.Remote)))
		buf = append(buf, f.Remote...)
	}
	if f.Subscriber != "" {
		buf = append(buf, subOptSubscriberID, byte(len(f.Subscriber)))
		buf = append(buf, f.Subscriber...)
	}
	return buf
}

// RelayAgentInfo extracts and decodes Option 82 from a parsed DHCPv4
// message, if present.
func RelayAgentInfo(msg *dhcpv4.DHCPv4) (model.Option82Fields, bool) {
	raw := msg.Options.Get(dhcpv4.OptionRelayAgentInformation)
	if raw == nil {
		return model.Option82Fields{}, false
	}
	fields, err := ParseOption82(raw)
	if err != nil {
		return model.Option82Fields{}, false
	}
	if fields.Circuit == "" && fields.Remote == "" && fields.Subscriber == "" {
		return model.Option82Fields{}, false
	}
	return fields, true
}
