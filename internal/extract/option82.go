// Package extract implements the closed, named extractor registries that
// turn relay-supplied identifiers into reservation match keys. Every
// extractor is a pure function: same input, same output, no state.
package extract

import (
	"fmt"
	"net"
	"strings"

	"github.com/shadowisp/dhcpreserved/internal/model"
)

// Option82ExtractorFn normalizes relay-supplied Option 82 fields into a
// match key. It returns ok=false when its preconditions aren't met (e.g.
// the Remote-ID field is too short, or isn't present at all).
type Option82ExtractorFn func(model.Option82Fields) (model.Option82Fields, bool)

// remoteFirst12 takes the first 12 hex characters of the Remote-ID field
// (no separators) and parses them as a MAC address, then re-keys on the
// normalized, uppercase dash-formatted form (AA-BB-CC-DD-EE-FF). This
// matches the field shape seen from
// Ubiquiti UFiber ONUs, which prefix the client MAC onto a longer
// remote-id string.
func remoteFirst12(o model.Option82Fields) (model.Option82Fields, bool) {
	remote := o.Remote
	if len(remote) < 12 {
		return model.Option82Fields{}, false
	}
	mac, err := parseBareHexMAC(remote[:12])
	if err != nil {
		return model.Option82Fields{}, false
	}
	return model.Option82Fields{Remote: strings.ToUpper(strings.ReplaceAll(mac.String(), ":", "-"))}, true
}

// normalizeRemoteMAC parses the entire Remote-ID field as a MAC address in
// any common form (colon, dash, or bare hex) and re-keys on the
// uppercase dash-formatted normalized form (AA-BB-CC-DD-EE-FF).
func normalizeRemoteMAC(o model.Option82Fields) (model.Option82Fields, bool) {
	remote := o.Remote
	if remote == "" {
		return model.Option82Fields{}, false
	}
	mac, err := net.ParseMAC(remote)
	if err != nil {
		if len(remote) == 12 {
			mac, err = parseBareHexMAC(remote)
		}
		if err != nil {
			return model.Option82Fields{}, false
		}
	}
	return model.Option82Fields{Remote: strings.ToUpper(strings.ReplaceAll(mac.String(), ":", "-"))}, true
}

func parseBareHexMAC(hex12 string) (net.HardwareAddr, error) {
	if len(hex12) != 12 {
		return nil, fmt.Errorf("extract: expected 12 hex chars, got %d", len(hex12))
	}
	var parts [6]string
	for i := 0; i < 6; i++ {
		parts[i] = hex12[i*2 : i*2+2]
	}
	return net.ParseMAC(strings.Join(parts[:], ":"))
}

// Option82Extractors is the closed registry of named Option82 extractor
// functions, resolvable by the names a config.json may list.
var Option82Extractors = map[string]Option82ExtractorFn{
	"remote_first_12":      remoteFirst12,
	"normalize_remote_mac": normalizeRemoteMAC,
}

// NamedOption82Extractor pairs a registry name with its function, in the
// order the config requested them.
type NamedOption82Extractor struct {
	Name string
	Fn   Option82ExtractorFn
}

// ResolveOption82 resolves a list of extractor names against the closed
// registry, failing on the first unrecognized name.
func ResolveOption82(names []string) ([]NamedOption82Extractor, error) {
	out := make([]NamedOption82Extractor, 0, len(names))
	for _, name := range names {
		fn, ok := Option82Extractors[name]
		if !ok {
			return nil, fmt.Errorf("unknown option82 extractor function `%s`", name)
		}
		out = append(out, NamedOption82Extractor{Name: name, Fn: fn})
	}
	return out, nil
}
