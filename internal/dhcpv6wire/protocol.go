// Package dhcpv6wire implements the DHCPv6 wire codec needed by a
// relay-fronted reservation server: message and option parsing (RFC 8415),
// Relay-Forw/Relay-Repl envelope unwrapping, and the handful of relay
// options (Interface-ID, Remote-ID, Client Link-Layer Address) a relay
// agent uses to identify a client. It generalizes the base option/IA
// codec shape used elsewhere in this codebase for the allocating case,
// extended with the relay envelope that a pure-relay deployment requires.
package dhcpv6wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Message types.
const (
	MsgTypeSolicit            = 1
	MsgTypeAdvertise          = 2
	MsgTypeRequest            = 3
	MsgTypeConfirm            = 4
	MsgTypeRenew              = 5
	MsgTypeRebind             = 6
	MsgTypeReply              = 7
	MsgTypeRelease            = 8
	MsgTypeDecline            = 9
	MsgTypeReconfigure        = 10
	MsgTypeInformationRequest = 11
	MsgTypeRelayForw          = 12
	MsgTypeRelayRepl          = 13
)

// Option codes.
const (
	OptClientID             = 1
	OptServerID             = 2
	OptIANA                 = 3
	OptIATA                 = 4
	OptIAAddr               = 5
	OptORO                  = 6
	OptPreference           = 7
	OptElapsedTime          = 8
	OptRelayMsg             = 9
	OptAuth                 = 11
	OptUnicast              = 12
	OptStatusCode           = 13
	OptRapidCommit          = 14
	OptUserClass            = 15
	OptVendorClass          = 16
	OptVendorOpts           = 17
	OptInterfaceID          = 18
	OptReconfMsg            = 19
	OptReconfAccept         = 20
	OptDNSServers           = 23
	OptIAPD                 = 25
	OptIAPrefix             = 26
	OptRemoteID             = 37
	OptClientLinklayerAddr  = 79
	OptSOLMaxRT             = 82
	OptINFMaxRT             = 83
)

// Status codes.
const (
	StatusSuccess       = 0
	StatusUnspecFail    = 1
	StatusNoAddrsAvail  = 2
	StatusNoBinding     = 3
	StatusNotOnLink     = 4
	StatusUseMulticast  = 5
	StatusNoPrefixAvail = 6
)

// DUID types.
const (
	DUIDTypeLLT  = 1
	DUIDTypeEN   = 2
	DUIDTypeLL   = 3
	DUIDTypeUUID = 4
)

// HardwareTypeEthernet is the htype value (RFC 826 ARP registry) this
// server accepts for DUID-LLT/DUID-LL MAC extraction; any other hardware
// type (e.g. Infiniband's 32) is rejected, matching field observation that
// non-Ethernet link layers don't carry a usable 6-byte MAC.
const HardwareTypeEthernet = 1

var (
	AllDHCPRelayAgentsAndServers = net.ParseIP("ff02::1:2")
	AllDHCPServers               = net.ParseIP("ff05::1:3")
)

const (
	DHCPv6ClientPort = 546
	DHCPv6ServerPort = 547
)

// MaxRelayHops bounds the number of nested Relay-Forw envelopes this
// server will unwrap before declaring a relay loop.
const MaxRelayHops = 32

// Option is a single DHCPv6 TLV option.
type Option struct {
	Code uint16
	Data []byte
}

// Options is an ordered list of options with convenience accessors.
type Options []Option

// Get returns the first option matching code.
func (o Options) Get(code uint16) (Option, bool) {
	for _, opt := range o {
		if opt.Code == code {
			return opt, true
		}
	}
	return Option{}, false
}

// GetAll returns every option matching code.
func (o Options) GetAll(code uint16) []Option {
	var out []Option
	for _, opt := range o {
		if opt.Code == code {
			out = append(out, opt)
		}
	}
	return out
}

// ParseOptions decodes a flat run of 2-byte-code/2-byte-length TLVs.
func ParseOptions(data []byte) (Options, error) {
	var opts Options
	offset := 0
	for offset+4 <= len(data) {
		code := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		if offset+4+int(length) > len(data) {
			return nil, fmt.Errorf("dhcpv6wire: option length exceeds remaining data")
		}
		buf := make([]byte, length)
		copy(buf, data[offset+4:offset+4+int(length)])
		opts = append(opts, Option{Code: code, Data: buf})
		offset += 4 + int(length)
	}
	if offset != len(data) {
		return nil, fmt.Errorf("dhcpv6wire: trailing bytes after options")
	}
	return opts, nil
}

// Serialize encodes options back to wire form.
func (o Options) Serialize() []byte {
	var buf []byte
	for _, opt := range o {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], opt.Code)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(opt.Data)))
		buf = append(buf, hdr...)
		buf = append(buf, opt.Data...)
	}
	return buf
}

// Message is a non-relay DHCPv6 client/server message (type 1-11).
type Message struct {
	Type          uint8
	TransactionID [3]byte
	Options       Options
}

// ParseMessage decodes a non-relay message (4-byte header + options).
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("dhcpv6wire: message too short")
	}
	msg := &Message{Type: data[0]}
	copy(msg.TransactionID[:], data[1:4])
	opts, err := ParseOptions(data[4:])
	if err != nil {
		return nil, err
	}
	msg.Options = opts
	return msg, nil
}

// Serialize encodes a non-relay message.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 4)
	buf[0] = m.Type
	copy(buf[1:4], m.TransactionID[:])
	return append(buf, m.Options.Serialize()...)
}

// ClientID returns the raw DUID bytes from Option 1, if present.
func (m *Message) ClientID() ([]byte, bool) {
	if opt, ok := m.Options.Get(OptClientID); ok {
		return opt.Data, true
	}
	return nil, false
}

// ServerID returns the raw DUID bytes from Option 2, if present.
func (m *Message) ServerID() ([]byte, bool) {
	if opt, ok := m.Options.Get(OptServerID); ok {
		return opt.Data, true
	}
	return nil, false
}

// RapidCommit reports whether Option 14 is present.
func (m *Message) RapidCommit() bool {
	_, ok := m.Options.Get(OptRapidCommit)
	return ok
}

// IANA returns the first IA_NA option, decoded, if present.
func (m *Message) IANA() (*IANA, bool) {
	opt, ok := m.Options.Get(OptIANA)
	if !ok {
		return nil, false
	}
	iana, err := ParseIANA(opt.Data)
	if err != nil {
		return nil, false
	}
	return iana, true
}

// IAPD returns the first IA_PD option, decoded, if present.
func (m *Message) IAPD() (*IAPD, bool) {
	opt, ok := m.Options.Get(OptIAPD)
	if !ok {
		return nil, false
	}
	iapd, err := ParseIAPD(opt.Data)
	if err != nil {
		return nil, false
	}
	return iapd, true
}

// IANA represents an Identity Association for Non-temporary Addresses.
type IANA struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options Options
}

func ParseIANA(data []byte) (*IANA, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("dhcpv6wire: IA_NA too short")
	}
	ia := &IANA{
		IAID: binary.BigEndian.Uint32(data[0:4]),
		T1:   binary.BigEndian.Uint32(data[4:8]),
		T2:   binary.BigEndian.Uint32(data[8:12]),
	}
	if len(data) > 12 {
		opts, err := ParseOptions(data[12:])
		if err != nil {
			return nil, err
		}
		ia.Options = opts
	}
	return ia, nil
}

func (ia *IANA) Serialize() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], ia.IAID)
	binary.BigEndian.PutUint32(buf[4:8], ia.T1)
	binary.BigEndian.PutUint32(buf[8:12], ia.T2)
	return append(buf, ia.Options.Serialize()...)
}

// IAPD represents an Identity Association for Prefix Delegation.
type IAPD struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options Options
}

func ParseIAPD(data []byte) (*IAPD, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("dhcpv6wire: IA_PD too short")
	}
	ia := &IAPD{
		IAID: binary.BigEndian.Uint32(data[0:4]),
		T1:   binary.BigEndian.Uint32(data[4:8]),
		T2:   binary.BigEndian.Uint32(data[8:12]),
	}
	if len(data) > 12 {
		opts, err := ParseOptions(data[12:])
		if err != nil {
			return nil, err
		}
		ia.Options = opts
	}
	return ia, nil
}

func (ia *IAPD) Serialize() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], ia.IAID)
	binary.BigEndian.PutUint32(buf[4:8], ia.T1)
	binary.BigEndian.PutUint32(buf[8:12], ia.T2)
	return append(buf, ia.Options.Serialize()...)
}

// IAAddress is an IA Address option (nested within IA_NA).
type IAAddress struct {
	Address           net.IP
	PreferredLifetime uint32
	ValidLifetime     uint32
	Options           Options
}

func ParseIAAddress(data []byte) (*IAAddress, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("dhcpv6wire: IA Address too short")
	}
	addr := &IAAddress{
		Address:           net.IP(append([]byte(nil), data[0:16]...)),
		PreferredLifetime: binary.BigEndian.Uint32(data[16:20]),
		ValidLifetime:     binary.BigEndian.Uint32(data[20:24]),
	}
	if len(data) > 24 {
		opts, err := ParseOptions(data[24:])
		if err != nil {
			return nil, err
		}
		addr.Options = opts
	}
	return addr, nil
}

func (a *IAAddress) Serialize() []byte {
	buf := make([]byte, 24)
	copy(buf[0:16], a.Address.To16())
	binary.BigEndian.PutUint32(buf[16:20], a.PreferredLifetime)
	binary.BigEndian.PutUint32(buf[20:24], a.ValidLifetime)
	return append(buf, a.Options.Serialize()...)
}

// IAPrefix is an IA Prefix option (nested within IA_PD).
type IAPrefix struct {
	PreferredLifetime uint32
	ValidLifetime     uint32
	PrefixLength      uint8
	Prefix            net.IP
	Options           Options
}

func ParseIAPrefix(data []byte) (*IAPrefix, error) {
	if len(data) < 25 {
		return nil, fmt.Errorf("dhcpv6wire: IA Prefix too short")
	}
	p := &IAPrefix{
		PreferredLifetime: binary.BigEndian.Uint32(data[0:4]),
		ValidLifetime:     binary.BigEndian.Uint32(data[4:8]),
		PrefixLength:      data[8],
		Prefix:            net.IP(append([]byte(nil), data[9:25]...)),
	}
	if len(data) > 25 {
		opts, err := ParseOptions(data[25:])
		if err != nil {
			return nil, err
		}
		p.Options = opts
	}
	return p, nil
}

func (p *IAPrefix) Serialize() []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint32(buf[0:4], p.PreferredLifetime)
	binary.BigEndian.PutUint32(buf[4:8], p.ValidLifetime)
	buf[8] = p.PrefixLength
	copy(buf[9:25], p.Prefix.To16())
	return append(buf, p.Options.Serialize()...)
}

func MakeStatusCodeOption(code uint16, message string) Option {
	data := make([]byte, 2+len(message))
	binary.BigEndian.PutUint16(data[0:2], code)
	copy(data[2:], message)
	return Option{Code: OptStatusCode, Data: data}
}

func MakeDNSServersOption(servers []net.IP) Option {
	data := make([]byte, 16*len(servers))
	for i, srv := range servers {
		copy(data[i*16:(i+1)*16], srv.To16())
	}
	return Option{Code: OptDNSServers, Data: data}
}

func MakeServerIDOption(duidBytes []byte) Option {
	return Option{Code: OptServerID, Data: duidBytes}
}

func MakeClientIDOption(duidBytes []byte) Option {
	return Option{Code: OptClientID, Data: duidBytes}
}

func MakeIANAOption(iana *IANA) Option {
	return Option{Code: OptIANA, Data: iana.Serialize()}
}

func MakeIAPDOption(iapd *IAPD) Option {
	return Option{Code: OptIAPD, Data: iapd.Serialize()}
}

func MakeIAAddressOption(addr *IAAddress) Option {
	return Option{Code: OptIAAddr, Data: addr.Serialize()}
}

func MakeIAPrefixOption(prefix *IAPrefix) Option {
	return Option{Code: OptIAPrefix, Data: prefix.Serialize()}
}
