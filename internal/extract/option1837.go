package extract

import (
	"fmt"

	"github.com/shadowisp/dhcpreserved/internal/model"
)

// Option1837ExtractorFn normalizes a DHCPv6 relay's Option 18/37 fields
// into a match key, returning ok=false when its required fields are
// absent.
type Option1837ExtractorFn func(model.Option1837Fields) (model.Option1837Fields, bool)

// interfaceOnly keeps the Interface-ID (Option 18) only, when present.
func interfaceOnly(o model.Option1837Fields) (model.Option1837Fields, bool) {
	if o.Interface == "" {
		return model.Option1837Fields{}, false
	}
	return model.Option1837Fields{Interface: o.Interface}, true
}

// remoteOnly keeps the Remote-ID (Option 37) string only, when present.
func remoteOnly(o model.Option1837Fields) (model.Option1837Fields, bool) {
	if o.Remote == "" {
		return model.Option1837Fields{}, false
	}
	return model.Option1837Fields{Remote: o.Remote}, true
}

// interfaceAndRemote keeps both fields, requiring both to be present.
func interfaceAndRemote(o model.Option1837Fields) (model.Option1837Fields, bool) {
	if o.Interface == "" || o.Remote == "" {
		return model.Option1837Fields{}, false
	}
	return model.Option1837Fields{Interface: o.Interface, Remote: o.Remote}, true
}

// remoteWithEnterprise keeps the Remote-ID and its enterprise number,
// requiring both to be present.
func remoteWithEnterprise(o model.Option1837Fields) (model.Option1837Fields, bool) {
	if o.Remote == "" || !o.HasEnt {
		return model.Option1837Fields{}, false
	}
	return model.Option1837Fields{Remote: o.Remote, Enterprise: o.Enterprise, HasEnt: true}, true
}

// allFields keeps every field verbatim, requiring at least interface or
// remote to be present.
func allFields(o model.Option1837Fields) (model.Option1837Fields, bool) {
	if o.Interface == "" && o.Remote == "" {
		return model.Option1837Fields{}, false
	}
	return o, true
}

// Option1837Extractors is the closed registry of named Option1837
// extractor functions.
var Option1837Extractors = map[string]Option1837ExtractorFn{
	"interface_only":         interfaceOnly,
	"remote_only":            remoteOnly,
	"interface_and_remote":   interfaceAndRemote,
	"remote_with_enterprise": remoteWithEnterprise,
	"all_fields":             allFields,
}

// NamedOption1837Extractor pairs a registry name with its function.
type NamedOption1837Extractor struct {
	Name string
	Fn   Option1837ExtractorFn
}

// ResolveOption1837 resolves a list of names against the closed registry.
func ResolveOption1837(names []string) ([]NamedOption1837Extractor, error) {
	out := make([]NamedOption1837Extractor, 0, len(names))
	for _, name := range names {
		fn, ok := Option1837Extractors[name]
		if !ok {
			return nil, fmt.Errorf("unknown option1837 extractor function `%s`", name)
		}
		out = append(out, NamedOption1837Extractor{Name: name, Fn: fn})
	}
	return out, nil
}
