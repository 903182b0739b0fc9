// Package model holds the reservation data model shared by the v4 and v6
// codecs, extractor pipeline, and reservation index.
package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxDuidLen is the largest DUID this server will accept, matching the
// upper bound used by relay-observed DUIDs in the field (RFC 8415 does not
// impose a hard cap, but 130 bytes covers every known DUID type with room
// to spare).
const MaxDuidLen = 130

// Duid is a DHCP Unique Identifier, compared and indexed by its raw bytes.
type Duid struct {
	Bytes []byte
}

// NewDuid validates length and wraps raw bytes into a Duid.
func NewDuid(b []byte) (Duid, error) {
	if len(b) == 0 {
		return Duid{}, fmt.Errorf("duid: empty")
	}
	if len(b) > MaxDuidLen {
		return Duid{}, fmt.Errorf("duid: length %d exceeds max %d", len(b), MaxDuidLen)
	}
	return Duid{Bytes: append([]byte(nil), b...)}, nil
}

// String renders the DUID as lowercase colon-separated hex.
func (d Duid) String() string {
	parts := make([]string, len(d.Bytes))
	for i, b := range d.Bytes {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// Key returns a value suitable for use as a map key.
func (d Duid) Key() string {
	return string(d.Bytes)
}

// ParseDuid accepts colon- or dash-delimited hex, detected from the
// separator at index 2 of the trimmed input (matching how every DUID
// observed in the field is formatted: two hex digits then a separator).
func ParseDuid(value string) (Duid, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 2 {
		return Duid{}, fmt.Errorf("duid: %q too short", value)
	}

	var sep string
	if len(trimmed) > 2 {
		switch trimmed[2] {
		case ':':
			sep = ":"
		case '-':
			sep = "-"
		}
	}

	var hexStr string
	if sep != "" {
		hexStr = strings.ReplaceAll(trimmed, sep, "")
	} else {
		hexStr = trimmed
	}

	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Duid{}, fmt.Errorf("duid: %q: %w", value, err)
	}
	return NewDuid(b)
}
