// Package events builds the structured per-transaction event record (C8)
// emitted by both handlers and shipped to the event sink.
package events

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"time"
	"unicode/utf8"
)

// OptionValue holds a relay-supplied option either as a UTF-8 string (the
// common case for Option 82/18/37 fields, which are almost always ASCII
// circuit/remote identifiers) or as raw bytes when the value isn't valid
// UTF-8, so the event record never silently mangles binary data.
type OptionValue struct {
	Str   string
	Raw   []byte
	IsStr bool
}

// NewOptionValue classifies raw bytes as UTF-8 text or opaque bytes.
func NewOptionValue(b []byte) OptionValue {
	if utf8.Valid(b) {
		return OptionValue{Str: string(b), IsStr: true}
	}
	return OptionValue{Raw: append([]byte(nil), b...)}
}

// MarshalJSON renders the string form directly, or lowercase colon-hex
// for raw bytes.
func (v OptionValue) MarshalJSON() ([]byte, error) {
	if v.IsStr {
		return json.Marshal(v.Str)
	}
	return json.Marshal(hexColon(v.Raw))
}

func hexColon(b []byte) string {
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = hex.EncodeToString([]byte{x})
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

// Event is the flat, protocol-agnostic record of one handled DHCP
// transaction, emitted whether or not a reservation was matched.
type Event struct {
	RequestID     string    `json:"request_id"`
	TimestampMS   int64     `json:"timestamp_ms"`
	Protocol      string    `json:"protocol"` // "v4" or "v6"
	MessageType   string    `json:"message_type"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`

	MAC           string `json:"mac,omitempty"`
	ClientID      string `json:"client_id,omitempty"`

	// MatchMethod names the category of key the reservation was found
	// by — "mac", "option82", "duid", or "option1837" — independent of
	// ExtractorUsed, which names the specific extractor (or recovery
	// path, e.g. "mac_cache") that produced the match key within that
	// category.
	MatchMethod   string `json:"match_method,omitempty"`
	ExtractorUsed string `json:"extractor_used,omitempty"`

	RequestedIPv4 string `json:"requested_ipv4,omitempty"`
	AssignedIPv4  string `json:"assigned_ipv4,omitempty"`

	RequestedIPv6NA string `json:"requested_ipv6_na,omitempty"`
	AssignedIPv6NA  string `json:"assigned_ipv6_na,omitempty"`
	RequestedIPv6PD string `json:"requested_ipv6_pd,omitempty"`
	AssignedIPv6PD  string `json:"assigned_ipv6_pd,omitempty"`

	Option82Circuit    *OptionValue `json:"option82_circuit,omitempty"`
	Option82Remote     *OptionValue `json:"option82_remote,omitempty"`
	Option82Subscriber *OptionValue `json:"option82_subscriber,omitempty"`

	Option1837Interface *OptionValue `json:"option1837_interface,omitempty"`
	Option1837Remote    *OptionValue `json:"option1837_remote,omitempty"`

	RelayLinkAddr string `json:"relay_link_addr,omitempty"`
	RelayPeerAddr string `json:"relay_peer_addr,omitempty"`
	GatewayAddr   string `json:"gateway_addr,omitempty"`
}

// nowMS returns the current time in Unix milliseconds.
func nowMS() int64 { return time.Now().UnixMilli() }

// New starts an Event for the given protocol/message type, timestamped
// now.
func New(protocol, messageType string) Event {
	return Event{
		TimestampMS: nowMS(),
		Protocol:    protocol,
		MessageType: messageType,
	}
}

// FormatMAC renders a hardware address in the uppercase dash-separated
// form (AA-BB-CC-DD-EE-FF) used in this server's event records.
func FormatMAC(mac net.HardwareAddr) string {
	if mac == nil {
		return ""
	}
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "-"
		}
		out += p
	}
	return out
}

// FormatPrefix renders an IPv6 prefix as "addr/len".
func FormatPrefix(n *net.IPNet) string {
	if n == nil {
		return ""
	}
	return n.String()
}
