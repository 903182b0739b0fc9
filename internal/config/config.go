// Package config loads the server's JSON configuration: config.json for
// tunables and extractor selection, ids.json for the server's own
// identifiers, and reservations.json for the reservation set. Shaped
// after the original implementation's Config::load_from_files, adapted
// to this codebase's cobra-driven CLI and zap logging conventions.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/shadowisp/dhcpreserved/internal/extract"
	"github.com/shadowisp/dhcpreserved/internal/model"
)

// Config is the fully resolved, ready-to-use server configuration.
type Config struct {
	V4ServerID           net.IP
	DNSv4                []net.IP
	SubnetsV4            []model.V4Subnet
	V6ServerDUID         model.Duid
	Option82Extractors   []extract.NamedOption82Extractor
	Option1837Extractors []extract.NamedOption1837Extractor
	MacExtractors        []extract.NamedMacExtractor
	LogLevel             string
	EventsAddress        string // empty means disabled
	MgmtAddress          string // empty means disabled
	V4BindAddress        string
	V6BindAddress        string
	V6Interface          string // empty means: don't join the relay-agents multicast group
}

// rawServerConfig mirrors config.json's on-disk shape before extractor
// names are resolved against the closed registries.
type rawServerConfig struct {
	DNSv4                []string         `json:"dns_v4"`
	SubnetsV4            []rawSubnetV4    `json:"subnets_v4"`
	Option82Extractors   []string         `json:"option82_extractors"`
	Option1837Extractors []string         `json:"option1837_extractors"`
	MacExtractors        []string         `json:"mac_extractors"`
	LogLevel             string           `json:"log_level"`
	EventsAddress        string           `json:"events_address"`
	MgmtAddress          string           `json:"mgmt_address"`
	V4BindAddress        string           `json:"v4_bind_address"`
	V6BindAddress        string           `json:"v6_bind_address"`
	V6Interface          string           `json:"v6_interface"`
}

type rawSubnetV4 struct {
	CIDR           string `json:"cidr"`
	Gateway        string `json:"gateway"`
	ReplyPrefixLen *int   `json:"reply_prefix_len,omitempty"`
}

// rawServerIDs mirrors ids.json.
type rawServerIDs struct {
	V4 string `json:"v4"`
	V6 string `json:"v6"`
}

// rawReservation mirrors one entry of reservations.json.
type rawReservation struct {
	IPv4       string          `json:"ipv4,omitempty"`
	IPv6NA     string          `json:"ipv6_na,omitempty"`
	IPv6PD     string          `json:"ipv6_pd,omitempty"`
	MAC        string          `json:"mac,omitempty"`
	DUID       string          `json:"duid,omitempty"`
	Option82   *rawOption82    `json:"option82,omitempty"`
	Option1837 *rawOption1837  `json:"option1837,omitempty"`
}

type rawOption82 struct {
	Circuit    string `json:"circuit,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
}

type rawOption1837 struct {
	Interface  string  `json:"interface,omitempty"`
	Remote     string  `json:"remote,omitempty"`
	Enterprise *uint32 `json:"enterprise,omitempty"`
}

const (
	defaultV4BindAddress = "0.0.0.0:67"
	defaultV6BindAddress = "[::]:547"
)

// Load reads config.json and ids.json from dir and resolves extractor
// names against the closed registries, failing on any name the registry
// doesn't recognize.
func Load(dir string) (*Config, error) {
	var raw rawServerConfig
	if err := readJSON(filepath.Join(dir, "config.json"), &raw); err != nil {
		return nil, err
	}

	var ids rawServerIDs
	if err := readJSON(filepath.Join(dir, "ids.json"), &ids); err != nil {
		return nil, err
	}

	v4ServerID := net.ParseIP(ids.V4)
	if v4ServerID == nil {
		return nil, fmt.Errorf("config: ids.json: invalid v4 server id %q", ids.V4)
	}
	v6Duid, err := model.ParseDuid(ids.V6)
	if err != nil {
		return nil, fmt.Errorf("config: ids.json: %w", err)
	}

	dns := make([]net.IP, 0, len(raw.DNSv4))
	for _, s := range raw.DNSv4 {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("config: invalid dns_v4 entry %q", s)
		}
		dns = append(dns, ip)
	}

	subnets := make([]model.V4Subnet, 0, len(raw.SubnetsV4))
	for _, rs := range raw.SubnetsV4 {
		_, ipnet, err := net.ParseCIDR(rs.CIDR)
		if err != nil {
			return nil, fmt.Errorf("config: invalid subnet cidr %q: %w", rs.CIDR, err)
		}
		gw := net.ParseIP(rs.Gateway)
		if gw == nil {
			return nil, fmt.Errorf("config: invalid subnet gateway %q", rs.Gateway)
		}
		sub := model.V4Subnet{Net: ipnet, Gateway: gw}
		if rs.ReplyPrefixLen != nil {
			sub.HasReplyPrefix = true
			sub.ReplyPrefixLen = *rs.ReplyPrefixLen
		}
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		subnets = append(subnets, sub)
	}

	opt82, err := extract.ResolveOption82(raw.Option82Extractors)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opt1837, err := extract.ResolveOption1837(raw.Option1837Extractors)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	macExtractors, err := extract.ResolveMacExtractors(raw.MacExtractors)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logLevel := raw.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	if err := validateLogLevel(logLevel); err != nil {
		return nil, err
	}

	v4Bind := raw.V4BindAddress
	if v4Bind == "" {
		v4Bind = defaultV4BindAddress
	}
	v6Bind := raw.V6BindAddress
	if v6Bind == "" {
		v6Bind = defaultV6BindAddress
	}

	return &Config{
		V4ServerID:           v4ServerID,
		DNSv4:                dns,
		SubnetsV4:            subnets,
		V6ServerDUID:         v6Duid,
		Option82Extractors:   opt82,
		Option1837Extractors: opt1837,
		MacExtractors:        macExtractors,
		LogLevel:             logLevel,
		EventsAddress:        raw.EventsAddress,
		MgmtAddress:          raw.MgmtAddress,
		V4BindAddress:        v4Bind,
		V6BindAddress:        v6Bind,
		V6Interface:          raw.V6Interface,
	}, nil
}

func validateLogLevel(s string) error {
	switch s {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unexpected log level %s. expected one of [trace, debug, info, warn, error]", s)
	}
}

func readJSON(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening `%s`: %w", path, err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config: parsing `%s`: %w", path, err)
	}
	return nil
}

// LoadReservations reads reservations.json from dir and returns the
// parsed, as-yet-unvalidated reservation list (validation happens when
// the reservation index is built, so a single bad entry's error message
// can report its index).
func LoadReservations(dir string) ([]*model.Reservation, error) {
	var raws []rawReservation
	if err := readJSON(filepath.Join(dir, "reservations.json"), &raws); err != nil {
		return nil, err
	}
	return decodeReservations(raws)
}

// ParseReservationsJSON decodes a reservations.json payload already held
// in memory — used by the mgmt socket's "replace" command, which receives
// the reservation set inline rather than from a file.
func ParseReservationsJSON(data []byte) ([]*model.Reservation, error) {
	var raws []rawReservation
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("config: parsing reservations payload: %w", err)
	}
	return decodeReservations(raws)
}

func decodeReservations(raws []rawReservation) ([]*model.Reservation, error) {
	out := make([]*model.Reservation, 0, len(raws))
	for i, rr := range raws {
		r := &model.Reservation{}
		if rr.IPv4 != "" {
			ip := net.ParseIP(rr.IPv4)
			if ip == nil {
				return nil, fmt.Errorf("reservation %d: invalid ipv4 %q", i, rr.IPv4)
			}
			r.IPv4 = ip.To4()
		}
		if rr.IPv6NA != "" {
			ip := net.ParseIP(rr.IPv6NA)
			if ip == nil {
				return nil, fmt.Errorf("reservation %d: invalid ipv6_na %q", i, rr.IPv6NA)
			}
			r.IPv6NA = ip
		}
		if rr.IPv6PD != "" {
			_, pd, err := net.ParseCIDR(rr.IPv6PD)
			if err != nil {
				return nil, fmt.Errorf("reservation %d: invalid ipv6_pd %q: %w", i, rr.IPv6PD, err)
			}
			r.IPv6PD = pd
		}
		if rr.MAC != "" {
			mac, err := net.ParseMAC(rr.MAC)
			if err != nil {
				return nil, fmt.Errorf("reservation %d: invalid mac %q: %w", i, rr.MAC, err)
			}
			r.MAC = mac
		}
		if rr.DUID != "" {
			d, err := model.ParseDuid(rr.DUID)
			if err != nil {
				return nil, fmt.Errorf("reservation %d: %w", i, err)
			}
			r.DUID = &d
		}
		if rr.Option82 != nil {
			r.Option82 = &model.Option82Fields{
				Circuit:    rr.Option82.Circuit,
				Remote:     rr.Option82.Remote,
				Subscriber: rr.Option82.Subscriber,
			}
		}
		if rr.Option1837 != nil {
			f := model.Option1837Fields{
				Interface: rr.Option1837.Interface,
				Remote:    rr.Option1837.Remote,
			}
			if rr.Option1837.Enterprise != nil {
				f.Enterprise = *rr.Option1837.Enterprise
				f.HasEnt = true
			}
			r.Option1837 = &f
		}
		out = append(out, r)
	}
	return out, nil
}

// AvailableExtractorNames lists the three closed registries, used by the
// CLI's --available-extractors flag.
func AvailableExtractorNames() (option82, option1837, mac []string) {
	for name := range extract.Option82Extractors {
		option82 = append(option82, name)
	}
	for name := range extract.Option1837Extractors {
		option1837 = append(option1837, name)
	}
	for name := range extract.MacExtractors {
		mac = append(mac, name)
	}
	return
}
