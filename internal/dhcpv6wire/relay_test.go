package dhcpv6wire

import (
	"net"
	"testing"
)

func TestParseRelayRejectsTooShort(t *testing.T) {
	if _, err := ParseRelay(make([]byte, 10)); err == nil {
		t.Error("expected error for too-short relay message")
	}
}

func TestRelayMessageRoundTrip(t *testing.T) {
	rm := &RelayMessage{
		Type:        MsgTypeRelayForw,
		HopCount:    1,
		LinkAddress: net.ParseIP("2001:db8::1"),
		PeerAddress: net.ParseIP("fe80::2"),
		Options: Options{
			{Code: OptInterfaceID, Data: []byte("eth0")},
		},
	}
	wire := rm.Serialize()
	parsed, err := ParseRelay(wire)
	if err != nil {
		t.Fatalf("ParseRelay failed: %v", err)
	}
	if parsed.Type != rm.Type || parsed.HopCount != rm.HopCount {
		t.Errorf("header mismatch: %+v", parsed)
	}
	if !parsed.LinkAddress.Equal(rm.LinkAddress) {
		t.Errorf("link address mismatch: %v vs %v", parsed.LinkAddress, rm.LinkAddress)
	}
	iface, ok := parsed.InterfaceID()
	if !ok || iface != "eth0" {
		t.Errorf("unexpected interface id: %q ok=%v", iface, ok)
	}
}

func TestInnerRelayMessageSetAndGet(t *testing.T) {
	rm := &RelayMessage{Type: MsgTypeRelayForw}
	if _, ok := rm.InnerRelayMessage(); ok {
		t.Error("expected no inner message initially")
	}
	rm.SetInnerRelayMessage([]byte{0x01, 0x02, 0x03})
	inner, ok := rm.InnerRelayMessage()
	if !ok || string(inner) != "\x01\x02\x03" {
		t.Errorf("unexpected inner message: %x ok=%v", inner, ok)
	}
	// Setting again should replace, not duplicate.
	rm.SetInnerRelayMessage([]byte{0xaa})
	inner, ok = rm.InnerRelayMessage()
	if !ok || string(inner) != "\xaa" {
		t.Errorf("expected replacement, got %x", inner)
	}
}

func TestRemoteIDDecoding(t *testing.T) {
	data := make([]byte, 4)
	data[3] = 9 // enterprise number 9
	data = append(data, []byte("onu-42")...)
	rm := &RelayMessage{Options: Options{{Code: OptRemoteID, Data: data}}}

	rid, ok := rm.RemoteID()
	if !ok {
		t.Fatal("expected remote id present")
	}
	if rid.EnterpriseNumber != 9 {
		t.Errorf("expected enterprise 9, got %d", rid.EnterpriseNumber)
	}
	if string(rid.ID) != "onu-42" {
		t.Errorf("expected id 'onu-42', got %q", rid.ID)
	}
}

func TestRemoteIDAbsentOrTooShort(t *testing.T) {
	rm := &RelayMessage{}
	if _, ok := rm.RemoteID(); ok {
		t.Error("expected no remote id")
	}
	rm2 := &RelayMessage{Options: Options{{Code: OptRemoteID, Data: []byte{0x00, 0x00}}}}
	if _, ok := rm2.RemoteID(); ok {
		t.Error("expected failure for too-short remote id data")
	}
}

func TestClientLinkLayerAddressRequiresExactly6Bytes(t *testing.T) {
	good := &RelayMessage{Options: Options{
		{Code: OptClientLinklayerAddr, Data: append([]byte{0x00, 0x01}, 1, 2, 3, 4, 5, 6)},
	}}
	mac, ok := good.ClientLinkLayerAddress()
	if !ok || mac.String() != "01:02:03:04:05:06" {
		t.Errorf("unexpected result: %v ok=%v", mac, ok)
	}

	bad := &RelayMessage{Options: Options{
		{Code: OptClientLinklayerAddr, Data: append([]byte{0x00, 0x01}, 1, 2, 3)},
	}}
	if _, ok := bad.ClientLinkLayerAddress(); ok {
		t.Error("expected failure for wrong-length address")
	}
}

func TestClosestToClientEmptyAndNonEmpty(t *testing.T) {
	var chain RelayChain
	if _, ok := chain.ClosestToClient(); ok {
		t.Error("expected false on empty chain")
	}

	outer := &RelayMessage{Type: MsgTypeRelayForw, PeerAddress: net.ParseIP("2001:db8::1")}
	inner := &RelayMessage{Type: MsgTypeRelayForw, PeerAddress: net.ParseIP("fe80::2")}
	chain = RelayChain{outer, inner}

	closest, ok := chain.ClosestToClient()
	if !ok {
		t.Fatal("expected success on non-empty chain")
	}
	if closest != inner {
		t.Error("expected the last (innermost) envelope to be closest to the client")
	}
}

func TestOption1837MergesAcrossHops(t *testing.T) {
	outer := &RelayMessage{Options: Options{{Code: OptInterfaceID, Data: []byte("eth0")}}}
	remoteData := append([]byte{0, 0, 0, 9}, []byte("onu-42")...)
	inner := &RelayMessage{Options: Options{{Code: OptRemoteID, Data: remoteData}}}
	chain := RelayChain{outer, inner}

	iface, remote, ent, hasEnt, ok := chain.Option1837()
	if !ok {
		t.Fatal("expected Option1837 to report ok")
	}
	if iface != "eth0" {
		t.Errorf("expected interface 'eth0', got %q", iface)
	}
	if remote != "onu-42" || ent != 9 || !hasEnt {
		t.Errorf("unexpected remote fields: %q %d %v", remote, ent, hasEnt)
	}
}

func TestOption1837NoFields(t *testing.T) {
	chain := RelayChain{{}}
	_, _, _, _, ok := chain.Option1837()
	if ok {
		t.Error("expected ok=false when no hop carries interface or remote id")
	}
}

func TestUnwrapRelayChainSingleHop(t *testing.T) {
	client := &Message{Type: MsgTypeSolicit, Options: Options{{Code: OptClientID, Data: []byte{1, 2, 3}}}}
	rm := &RelayMessage{
		Type:        MsgTypeRelayForw,
		HopCount:    0,
		LinkAddress: net.ParseIP("2001:db8::1"),
		PeerAddress: net.ParseIP("fe80::2"),
	}
	rm.SetInnerRelayMessage(client.Serialize())

	chain, msg, err := UnwrapRelayChain(rm.Serialize())
	if err != nil {
		t.Fatalf("UnwrapRelayChain failed: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("expected chain length 1, got %d", len(chain))
	}
	if msg.Type != MsgTypeSolicit {
		t.Errorf("expected solicit message, got type %d", msg.Type)
	}
}

func TestUnwrapRelayChainNested(t *testing.T) {
	client := &Message{Type: MsgTypeRequest}
	inner := &RelayMessage{Type: MsgTypeRelayForw, PeerAddress: net.ParseIP("fe80::2")}
	inner.SetInnerRelayMessage(client.Serialize())
	outer := &RelayMessage{Type: MsgTypeRelayForw, PeerAddress: net.ParseIP("2001:db8::1")}
	outer.SetInnerRelayMessage(inner.Serialize())

	chain, msg, err := UnwrapRelayChain(outer.Serialize())
	if err != nil {
		t.Fatalf("UnwrapRelayChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected chain length 2, got %d", len(chain))
	}
	if msg.Type != MsgTypeRequest {
		t.Errorf("expected request message, got type %d", msg.Type)
	}
	closest, ok := chain.ClosestToClient()
	if !ok || !closest.PeerAddress.Equal(net.ParseIP("fe80::2")) {
		t.Errorf("expected innermost envelope's peer address to be fe80::2, got %v", closest.PeerAddress)
	}
}

func TestUnwrapRelayChainRejectsUnrelayedMessage(t *testing.T) {
	msg := &Message{Type: MsgTypeSolicit}
	if _, _, err := UnwrapRelayChain(msg.Serialize()); err == nil {
		t.Error("expected error for an unrelayed message")
	}
}

func TestUnwrapRelayChainRejectsEmptyPayload(t *testing.T) {
	if _, _, err := UnwrapRelayChain(nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestUnwrapRelayChainRejectsExcessiveNesting(t *testing.T) {
	var payload []byte
	innermost := &Message{Type: MsgTypeSolicit}
	payload = innermost.Serialize()
	for i := 0; i < MaxRelayHops+1; i++ {
		rm := &RelayMessage{Type: MsgTypeRelayForw, PeerAddress: net.ParseIP("fe80::1")}
		rm.SetInnerRelayMessage(payload)
		payload = rm.Serialize()
	}
	if _, _, err := UnwrapRelayChain(payload); err == nil {
		t.Error("expected error for relay chain exceeding MaxRelayHops")
	}
}
