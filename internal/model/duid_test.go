package model

import "testing"

func TestNewDuidRejectsEmptyAndOversized(t *testing.T) {
	if _, err := NewDuid(nil); err == nil {
		t.Error("expected error for empty duid")
	}
	if _, err := NewDuid([]byte{}); err == nil {
		t.Error("expected error for empty duid")
	}
	if _, err := NewDuid(make([]byte, MaxDuidLen+1)); err == nil {
		t.Error("expected error for oversized duid")
	}
	d, err := NewDuid(make([]byte, MaxDuidLen))
	if err != nil {
		t.Fatalf("NewDuid at max length failed: %v", err)
	}
	if len(d.Bytes) != MaxDuidLen {
		t.Errorf("expected %d bytes, got %d", MaxDuidLen, len(d.Bytes))
	}
}

func TestDuidStringAndKey(t *testing.T) {
	d, err := NewDuid([]byte{0x00, 0x01, 0xab, 0xcd})
	if err != nil {
		t.Fatalf("NewDuid failed: %v", err)
	}
	want := "00:01:ab:cd"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if d.Key() != string(d.Bytes) {
		t.Errorf("Key() should equal raw bytes as string")
	}
}

func TestParseDuidColonAndDash(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []byte
	}{
		{"colon", "00:01:ab:cd", []byte{0x00, 0x01, 0xab, 0xcd}},
		{"dash", "00-01-ab-cd", []byte{0x00, 0x01, 0xab, 0xcd}},
		{"bare hex", "0001abcd", []byte{0x00, 0x01, 0xab, 0xcd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDuid(tt.value)
			if err != nil {
				t.Fatalf("ParseDuid(%q) failed: %v", tt.value, err)
			}
			if string(d.Bytes) != string(tt.want) {
				t.Errorf("ParseDuid(%q) = %x, want %x", tt.value, d.Bytes, tt.want)
			}
		})
	}
}

func TestParseDuidRejectsGarbage(t *testing.T) {
	if _, err := ParseDuid(""); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := ParseDuid("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestDuidRoundTrip(t *testing.T) {
	orig, err := NewDuid([]byte{0x00, 0x02, 0x00, 0x00, 0x0a, 0xbb, 0x8c, 0x3d})
	if err != nil {
		t.Fatalf("NewDuid failed: %v", err)
	}
	parsed, err := ParseDuid(orig.String())
	if err != nil {
		t.Fatalf("ParseDuid(%q) failed: %v", orig.String(), err)
	}
	if parsed.Key() != orig.Key() {
		t.Errorf("round trip mismatch: got %x, want %x", parsed.Bytes, orig.Bytes)
	}
}
