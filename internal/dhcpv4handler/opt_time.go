package dhcpv4handler

import (
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// optDuration is a uint32-seconds option value, matching the encoding
// used by dhcpv4.Duration (unexported outside the library) for options
// such as IP address lease time.
type optDuration time.Duration

func (d optDuration) ToBytes() []byte {
	return dhcpv4.Duration(d).ToBytes()
}

func (d optDuration) String() string {
	return time.Duration(d).String()
}

// optRenewTimeValue returns the DHCP renewal (T1) time option (RFC 2132,
// option 58). The upstream dhcpv4 package does not expose a constructor
// for it, unlike OptIPAddressLeaseTime.
func optRenewTimeValue(seconds uint32) dhcpv4.Option {
	return dhcpv4.Option{Code: dhcpv4.OptionRenewTimeValue, Value: optDuration(time.Duration(seconds) * time.Second)}
}

// optRebindingTimeValue returns the DHCP rebinding (T2) time option
// (RFC 2132, option 59).
func optRebindingTimeValue(seconds uint32) dhcpv4.Option {
	return dhcpv4.Option{Code: dhcpv4.OptionRebindingTimeValue, Value: optDuration(time.Duration(seconds) * time.Second)}
}
