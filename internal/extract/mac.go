package extract

import (
	"fmt"
	"net"

	"github.com/shadowisp/dhcpreserved/internal/dhcpv6wire"
)

// MacExtractorFn recovers a client MAC address from a relay chain and/or
// the DUID carried in the client message.
type MacExtractorFn func(chain dhcpv6wire.RelayChain, clientIDBytes []byte) (net.HardwareAddr, bool)

// clientLinklayerAddress reads Option 79 (RFC 6939) off the relay
// envelope closest to the client.
func clientLinklayerAddress(chain dhcpv6wire.RelayChain, _ []byte) (net.HardwareAddr, bool) {
	rm, ok := chain.ClosestToClient()
	if !ok {
		return nil, false
	}
	return rm.ClientLinkLayerAddress()
}

// peerAddrEui64 inverts the modified-EUI-64 embedding to recover a MAC
// from the client-adjacent relay's peer-address, when that address is a
// link-local (fe80::/10) SLAAC address carrying the ff:fe EUI-64 marker
// at bytes 11-12.
func peerAddrEui64(chain dhcpv6wire.RelayChain, _ []byte) (net.HardwareAddr, bool) {
	rm, ok := chain.ClosestToClient()
	if !ok {
		return nil, false
	}
	addr := rm.PeerAddress.To16()
	if addr == nil {
		return nil, false
	}
	if addr[0] != 0xfe || (addr[1]&0xc0) != 0x80 {
		return nil, false
	}
	if addr[11] != 0xff || addr[12] != 0xfe {
		return nil, false
	}
	mac := net.HardwareAddr{
		addr[8] ^ 0x02,
		addr[9],
		addr[10],
		addr[13],
		addr[14],
		addr[15],
	}
	return mac, true
}

// duidMAC extracts the embedded link-layer address from a DUID-LLT or
// DUID-LL client identifier, gated on an Ethernet hardware type — any
// other link-layer type (e.g. Infiniband) carries no usable 6-byte MAC.
func duidMAC(_ dhcpv6wire.RelayChain, clientIDBytes []byte) (net.HardwareAddr, bool) {
	decoded, ok := dhcpv6wire.DecodeDuid(clientIDBytes)
	if !ok {
		return nil, false
	}
	if decoded.Type != dhcpv6wire.DUIDTypeLLT && decoded.Type != dhcpv6wire.DUIDTypeLL {
		return nil, false
	}
	if decoded.HardwareType != dhcpv6wire.HardwareTypeEthernet {
		return nil, false
	}
	if len(decoded.LinkLayer) != 6 {
		return nil, false
	}
	return net.HardwareAddr(append([]byte(nil), decoded.LinkLayer...)), true
}

// MacExtractors is the closed registry of named MAC-recovery strategies,
// resolvable by the names a config.json's mac_extractors list may give.
var MacExtractors = map[string]MacExtractorFn{
	"client_linklayer_address": clientLinklayerAddress,
	"peer_addr_eui64":          peerAddrEui64,
	"duid":                     duidMAC,
}

// NamedMacExtractor pairs a registry name with its function, in the order
// the config requested them.
type NamedMacExtractor struct {
	Name string
	Fn   MacExtractorFn
}

// ResolveMacExtractors resolves a list of extractor names against the
// closed registry, failing on the first unrecognized name.
func ResolveMacExtractors(names []string) ([]NamedMacExtractor, error) {
	out := make([]NamedMacExtractor, 0, len(names))
	for _, name := range names {
		fn, ok := MacExtractors[name]
		if !ok {
			return nil, fmt.Errorf("unknown mac extractor function `%s`", name)
		}
		out = append(out, NamedMacExtractor{Name: name, Fn: fn})
	}
	return out, nil
}

// ExtractMAC runs extractors in order, returning the first success along
// with the name of the extractor that matched and the full list of names
// attempted (for diagnostics even on failure).
func ExtractMAC(extractors []NamedMacExtractor, chain dhcpv6wire.RelayChain, clientIDBytes []byte) (mac net.HardwareAddr, usedName string, attempted []string, ok bool) {
	for _, ex := range extractors {
		attempted = append(attempted, ex.Name)
		if m, found := ex.Fn(chain, clientIDBytes); found {
			return m, ex.Name, attempted, true
		}
	}
	return nil, "", attempted, false
}
