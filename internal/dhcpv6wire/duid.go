package dhcpv6wire

import "encoding/binary"

// DecodedDuid exposes the type-specific fields of a parsed DUID, used by
// MAC-extraction to pull a hardware address out of DUID-LLT and DUID-LL.
type DecodedDuid struct {
	Type         uint16
	HardwareType uint16 // only meaningful for LLT/LL
	LinkLayer    []byte // only meaningful for LLT/LL, may be nil
}

// DecodeDuid splits a raw DUID into its type-specific fields. It does not
// validate hardware type or length beyond what's needed to avoid a slice
// panic; callers that need a usable MAC should check HardwareType and
// len(LinkLayer) themselves.
func DecodeDuid(b []byte) (DecodedDuid, bool) {
	if len(b) < 2 {
		return DecodedDuid{}, false
	}
	d := DecodedDuid{Type: binary.BigEndian.Uint16(b[0:2])}
	switch d.Type {
	case DUIDTypeLLT:
		if len(b) < 14 {
			return d, true
		}
		d.HardwareType = binary.BigEndian.Uint16(b[2:4])
		d.LinkLayer = b[8:14]
	case DUIDTypeLL:
		if len(b) < 10 {
			return d, true
		}
		d.HardwareType = binary.BigEndian.Uint16(b[2:4])
		d.LinkLayer = b[4:10]
	case DUIDTypeEN:
		// enterprise-assigned DUIDs carry no link-layer address
	}
	return d, true
}
