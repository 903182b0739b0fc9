package model

import (
	"net"
	"testing"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("net.ParseMAC(%q) failed: %v", s, err)
	}
	return mac
}

func TestReservationValidateV4RequiresMatchKey(t *testing.T) {
	r := &Reservation{IPv4: net.ParseIP("10.0.0.5")}
	if err := r.Validate(); err == nil {
		t.Error("expected error: v4 reservation with no MAC or option82")
	}

	r.MAC = mustMAC(t, "aa:bb:cc:dd:ee:ff")
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error with MAC set: %v", err)
	}
}

func TestReservationValidateV6RequiresMatchKey(t *testing.T) {
	r := &Reservation{IPv6NA: net.ParseIP("2001:db8::1")}
	if err := r.Validate(); err == nil {
		t.Error("expected error: v6 reservation with no match key")
	}

	r.Option1837 = &Option1837Fields{Interface: "eth0"}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error with option1837 set: %v", err)
	}
}

func TestReservationValidateRequiresAnAddress(t *testing.T) {
	r := &Reservation{MAC: mustMAC(t, "aa:bb:cc:dd:ee:ff")}
	if err := r.Validate(); err == nil {
		t.Error("expected error: reservation with no address at all")
	}
}

func TestReservationValidatePDOnly(t *testing.T) {
	_, prefix, err := net.ParseCIDR("2001:db8:1::/64")
	if err != nil {
		t.Fatalf("ParseCIDR failed: %v", err)
	}
	r := &Reservation{
		IPv6PD: prefix,
		DUID:   &Duid{Bytes: []byte{0x00, 0x03, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
	}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestV4MatchKeyPrefersMACOverOption82(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	r := &Reservation{
		IPv4:     net.ParseIP("10.0.0.5"),
		MAC:      mac,
		Option82: &Option82Fields{Circuit: "1/1/1"},
	}
	key, ok := r.V4MatchKey()
	if !ok {
		t.Fatal("expected a match key")
	}
	if key.MAC != mac.String() {
		t.Errorf("expected MAC key %q, got %q", mac.String(), key.MAC)
	}
	if key.Option82 != nil {
		t.Error("expected Option82 to be unset when MAC is present")
	}
}

func TestV4MatchKeyFallsBackToOption82(t *testing.T) {
	opt := &Option82Fields{Circuit: "1/1/1", Remote: "remote-id"}
	r := &Reservation{IPv4: net.ParseIP("10.0.0.5"), Option82: opt}
	key, ok := r.V4MatchKey()
	if !ok {
		t.Fatal("expected a match key")
	}
	if key.Option82 != opt {
		t.Error("expected Option82 key to be set")
	}
	if key.MAC != "" {
		t.Error("expected MAC to be empty")
	}
}

func TestV4MatchKeyNoneAvailable(t *testing.T) {
	r := &Reservation{IPv4: net.ParseIP("10.0.0.5")}
	if _, ok := r.V4MatchKey(); ok {
		t.Error("expected no match key when neither MAC nor Option82 is set")
	}
}

func TestOption82FieldsEmptyTreatedAsAbsent(t *testing.T) {
	o := Option82Fields{}
	if o.hasCircuit() || o.hasRemote() || o.hasSubscriber() {
		t.Error("zero-value Option82Fields should report no fields present")
	}
	o.Circuit = "1/1/1"
	if !o.hasCircuit() {
		t.Error("expected hasCircuit true once Circuit is set")
	}
}

func TestOption82KeyStability(t *testing.T) {
	a := Option82Fields{Circuit: "1/1/1", Remote: "r1", Subscriber: "s1"}
	b := Option82Fields{Circuit: "1/1/1", Remote: "r1", Subscriber: "s1"}
	c := Option82Fields{Circuit: "1/1/2", Remote: "r1", Subscriber: "s1"}
	if Option82Key(a) != Option82Key(b) {
		t.Error("identical fields should produce identical keys")
	}
	if Option82Key(a) == Option82Key(c) {
		t.Error("different fields should produce different keys")
	}
}

func TestOption1837KeyStability(t *testing.T) {
	a := Option1837Fields{Interface: "eth0", Remote: "r1", Enterprise: 9, HasEnt: true}
	b := Option1837Fields{Interface: "eth0", Remote: "r1", Enterprise: 9, HasEnt: true}
	c := Option1837Fields{Interface: "eth1", Remote: "r1", Enterprise: 9, HasEnt: true}
	if Option1837Key(a) != Option1837Key(b) {
		t.Error("identical fields should produce identical keys")
	}
	if Option1837Key(a) == Option1837Key(c) {
		t.Error("different fields should produce different keys")
	}
}

func TestV4SubnetValidateRejectsOutOfRangePrefix(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.0.0.0/24")
	s := V4Subnet{Net: n, HasReplyPrefix: true, ReplyPrefixLen: 33}
	if err := s.Validate(); err == nil {
		t.Error("expected error for reply_prefix_len > 32")
	}
}

func TestV4SubnetReplyNetmaskDefaultsToSubnetPrefix(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.0.0.0/24")
	s := V4Subnet{Net: n}
	want := net.IPv4Mask(255, 255, 255, 0)
	if got := s.ReplyNetmask(); got.String() != want.String() {
		t.Errorf("ReplyNetmask() = %v, want %v", got, want)
	}
}

func TestV4SubnetReplyNetmaskHonorsOverride(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.0.0.0/24")
	s := V4Subnet{Net: n, HasReplyPrefix: true, ReplyPrefixLen: 30}
	want := net.IPv4Mask(255, 255, 255, 252)
	if got := s.ReplyNetmask(); got.String() != want.String() {
		t.Errorf("ReplyNetmask() = %v, want %v", got, want)
	}
}

func TestV4SubnetReplyNetmaskHandlesExtremes(t *testing.T) {
	_, n, _ := net.ParseCIDR("10.0.0.0/24")

	zero := V4Subnet{Net: n, HasReplyPrefix: true, ReplyPrefixLen: 0}
	if got := zero.ReplyNetmask(); got.String() != net.IPv4Mask(0, 0, 0, 0).String() {
		t.Errorf("prefix 0: got %v", got)
	}

	full := V4Subnet{Net: n, HasReplyPrefix: true, ReplyPrefixLen: 32}
	if got := full.ReplyNetmask(); got.String() != net.IPv4Mask(255, 255, 255, 255).String() {
		t.Errorf("prefix 32: got %v", got)
	}
}
