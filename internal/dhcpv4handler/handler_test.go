package dhcpv4handler

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.uber.org/zap"

	"github.com/shadowisp/dhcpreserved/internal/events"
	"github.com/shadowisp/dhcpreserved/internal/extract"
	"github.com/shadowisp/dhcpreserved/internal/maccache"
	"github.com/shadowisp/dhcpreserved/internal/model"
	"github.com/shadowisp/dhcpreserved/internal/reservation"
)

var testMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
var testGiaddr = net.ParseIP("10.0.0.254")

func newTestDeps(t *testing.T, reservations []*model.Reservation) (*Deps, *[]events.Event) {
	t.Helper()
	mgr := reservation.NewManager()
	if _, err := mgr.Replace(reservations); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	_, subnet, err := net.ParseCIDR("10.0.0.0/24")
	if err != nil {
		t.Fatalf("ParseCIDR failed: %v", err)
	}

	var emitted []events.Event
	d := &Deps{
		Logger:       zap.NewNop(),
		Reservations: mgr,
		MacCache:     maccache.New(maccache.DefaultTTL, maccache.DefaultCapacity),
		ServerID:     net.ParseIP("10.0.0.1"),
		DNS:          []net.IP{net.ParseIP("8.8.8.8")},
		Subnets:      []model.V4Subnet{{Net: subnet, Gateway: net.ParseIP("10.0.0.1")}},
		EventSink:    func(e events.Event) { emitted = append(emitted, e) },
	}
	return d, &emitted
}

func TestHandleDiscoverMatchedByMAC(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.50"), MAC: testMAC}
	d, emitted := newTestDeps(t, []*model.Reservation{res})

	req, err := dhcpv4.NewDiscovery(testMAC, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}

	reply := d.Handle(req)
	if reply == nil {
		t.Fatal("expected an offer reply")
	}
	if reply.MessageType() != dhcpv4.MessageTypeOffer {
		t.Errorf("expected OFFER, got %v", reply.MessageType())
	}
	if !reply.YourIPAddr.Equal(net.ParseIP("10.0.0.50")) {
		t.Errorf("unexpected yiaddr: %v", reply.YourIPAddr)
	}
	if len(*emitted) != 1 || !(*emitted)[0].Success {
		t.Errorf("expected one successful event, got %+v", *emitted)
	}
}

func TestHandleDiscoverNoReservation(t *testing.T) {
	d, emitted := newTestDeps(t, nil)

	req, err := dhcpv4.NewDiscovery(testMAC, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}

	if reply := d.Handle(req); reply != nil {
		t.Errorf("expected no reply, got %v", reply)
	}
	if len(*emitted) != 1 || (*emitted)[0].Success {
		t.Errorf("expected one failed event, got %+v", *emitted)
	}
}

func TestHandleNonRelayedMessageDroppedSilently(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.50"), MAC: testMAC}
	d, emitted := newTestDeps(t, []*model.Reservation{res})

	req, err := dhcpv4.NewDiscovery(testMAC)
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}

	if reply := d.Handle(req); reply != nil {
		t.Errorf("expected no reply for a non-relayed (giaddr=0) message, got %v", reply)
	}
	if len(*emitted) != 1 || (*emitted)[0].Success || (*emitted)[0].FailureReason != "non_relayed" {
		t.Errorf("expected a non_relayed failure event, got %+v", *emitted)
	}
}

func TestHandleDiscoverNoConfiguredSubnet(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("192.168.99.50"), MAC: testMAC}
	d, _ := newTestDeps(t, []*model.Reservation{res})

	req, err := dhcpv4.NewDiscovery(testMAC, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	if reply := d.Handle(req); reply != nil {
		t.Errorf("expected no reply when no subnet matches the reserved address, got %v", reply)
	}
}

func TestHandleRequestSelectingAcksReservedIP(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.50"), MAC: testMAC}
	d, _ := newTestDeps(t, []*model.Reservation{res})

	discover, err := dhcpv4.NewDiscovery(testMAC, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	offer, err := dhcpv4.NewReplyFromRequest(discover,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithServerIP(net.ParseIP("10.0.0.1")),
		dhcpv4.WithYourIP(net.ParseIP("10.0.0.50")),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.ParseIP("10.0.0.1"))),
	)
	if err != nil {
		t.Fatalf("NewReplyFromRequest failed: %v", err)
	}
	req, err := dhcpv4.NewRequestFromOffer(offer, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewRequestFromOffer failed: %v", err)
	}

	reply := d.Handle(req)
	if reply == nil {
		t.Fatal("expected an ACK reply")
	}
	if reply.MessageType() != dhcpv4.MessageTypeAck {
		t.Errorf("expected ACK, got %v", reply.MessageType())
	}
}

func TestHandleRequestMismatchSendsNAK(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.50"), MAC: testMAC}
	d, _ := newTestDeps(t, []*model.Reservation{res})

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(testMAC),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.ParseIP("10.0.0.99"))),
		dhcpv4.WithGatewayIP(testGiaddr),
	)
	if err != nil {
		t.Fatalf("dhcpv4.New failed: %v", err)
	}

	reply := d.Handle(req)
	if reply == nil {
		t.Fatal("expected a NAK reply")
	}
	if reply.MessageType() != dhcpv4.MessageTypeNak {
		t.Errorf("expected NAK, got %v", reply.MessageType())
	}
	if !reply.YourIPAddr.Equal(net.IPv4zero) {
		t.Errorf("expected yiaddr zeroed on NAK, got %v", reply.YourIPAddr)
	}
}

func TestHandleRequestRelayedMismatchSetsBroadcastFlag(t *testing.T) {
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.50"), MAC: testMAC}
	d, _ := newTestDeps(t, []*model.Reservation{res})

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(testMAC),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.ParseIP("10.0.0.99"))),
		dhcpv4.WithGatewayIP(net.ParseIP("10.0.0.254")),
	)
	if err != nil {
		t.Fatalf("dhcpv4.New failed: %v", err)
	}

	reply := d.Handle(req)
	if reply == nil {
		t.Fatal("expected a NAK reply")
	}
	if !reply.IsBroadcast() {
		t.Error("expected broadcast flag set on a relayed NAK")
	}
}

func TestHandleRequestOption82MatchPopulatesMacCache(t *testing.T) {
	opt82 := model.Option82Fields{Circuit: "1/1/1", Remote: "remote-id"}
	res := &model.Reservation{IPv4: net.ParseIP("10.0.0.60"), Option82: &opt82}
	d, _ := newTestDeps(t, []*model.Reservation{res})
	d.Option82 = []extract.NamedOption82Extractor{
		{Name: "identity", Fn: func(o model.Option82Fields) (model.Option82Fields, bool) { return o, true }},
	}

	discover, err := dhcpv4.NewDiscovery(testMAC, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewDiscovery failed: %v", err)
	}
	discover.UpdateOption(dhcpv4.OptGeneric(dhcpv4.OptionRelayAgentInformation,
		append([]byte{1, 5, '1', '/', '1', '/', '1'}, append([]byte{2, 9}, []byte("remote-id")...)...)))

	offer, err := dhcpv4.NewReplyFromRequest(discover,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithServerIP(net.ParseIP("10.0.0.1")),
		dhcpv4.WithYourIP(net.ParseIP("10.0.0.60")),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.ParseIP("10.0.0.1"))),
	)
	if err != nil {
		t.Fatalf("NewReplyFromRequest failed: %v", err)
	}
	req, err := dhcpv4.NewRequestFromOffer(offer, dhcpv4.WithGatewayIP(testGiaddr))
	if err != nil {
		t.Fatalf("NewRequestFromOffer failed: %v", err)
	}
	req.UpdateOption(dhcpv4.OptGeneric(dhcpv4.OptionRelayAgentInformation,
		append([]byte{1, 5, '1', '/', '1', '/', '1'}, append([]byte{2, 9}, []byte("remote-id")...)...)))

	reply := d.Handle(req)
	if reply == nil || reply.MessageType() != dhcpv4.MessageTypeAck {
		t.Fatalf("expected ACK reply, got %v", reply)
	}

	if _, ok := d.MacCache.LookupByMAC(testMAC.String()); !ok {
		t.Error("expected mac cache to be populated on an option82 match")
	}
}
