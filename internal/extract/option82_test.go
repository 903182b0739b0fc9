package extract

import (
	"testing"

	"github.com/shadowisp/dhcpreserved/internal/model"
)

func TestRemoteFirst12(t *testing.T) {
	fields := model.Option82Fields{Remote: "aabbccddeeff-onu-42"}
	got, ok := remoteFirst12(fields)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got.Remote != "AA-BB-CC-DD-EE-FF" {
		t.Errorf("got remote %q", got.Remote)
	}
}

func TestRemoteFirst12TooShort(t *testing.T) {
	if _, ok := remoteFirst12(model.Option82Fields{Remote: "aabbcc"}); ok {
		t.Error("expected failure on short remote-id")
	}
}

func TestRemoteFirst12InvalidHex(t *testing.T) {
	if _, ok := remoteFirst12(model.Option82Fields{Remote: "zzzzzzzzzzzz"}); ok {
		t.Error("expected failure on non-hex remote-id")
	}
}

func TestNormalizeRemoteMACColonForm(t *testing.T) {
	got, ok := normalizeRemoteMAC(model.Option82Fields{Remote: "AA:BB:CC:DD:EE:FF"})
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got.Remote != "AA-BB-CC-DD-EE-FF" {
		t.Errorf("got remote %q", got.Remote)
	}
}

func TestNormalizeRemoteMACBareHex(t *testing.T) {
	got, ok := normalizeRemoteMAC(model.Option82Fields{Remote: "aabbccddeeff"})
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got.Remote != "AA-BB-CC-DD-EE-FF" {
		t.Errorf("got remote %q", got.Remote)
	}
}

func TestNormalizeRemoteMACEmpty(t *testing.T) {
	if _, ok := normalizeRemoteMAC(model.Option82Fields{}); ok {
		t.Error("expected failure on empty remote-id")
	}
}

func TestNormalizeRemoteMACGarbage(t *testing.T) {
	if _, ok := normalizeRemoteMAC(model.Option82Fields{Remote: "not-a-mac"}); ok {
		t.Error("expected failure on garbage remote-id")
	}
}

func TestResolveOption82(t *testing.T) {
	resolved, err := ResolveOption82([]string{"remote_first_12", "normalize_remote_mac"})
	if err != nil {
		t.Fatalf("ResolveOption82 failed: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved extractors, got %d", len(resolved))
	}
	if resolved[0].Name != "remote_first_12" {
		t.Errorf("unexpected order: %+v", resolved)
	}
}

func TestResolveOption82UnknownName(t *testing.T) {
	if _, err := ResolveOption82([]string{"not_a_real_extractor"}); err == nil {
		t.Error("expected error for unknown extractor name")
	}
}
