package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewInitializesAndRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	if m.RequestsTotal == nil || m.RepliesTotal == nil || m.NoMatchTotal == nil ||
		m.LookupDuration == nil || m.CacheHits == nil || m.CacheMisses == nil ||
		m.CacheSize == nil || m.EventsDropped == nil || m.EventsSent == nil ||
		m.MgmtRequests == nil || m.ReservationSize == nil {
		t.Fatal("expected every metric field to be initialized")
	}

	m.RequestsTotal.WithLabelValues("v4", "discover").Inc()
	m.RepliesTotal.WithLabelValues("v4", "offer").Inc()
	m.NoMatchTotal.WithLabelValues("v4", "no_reservation").Inc()
	m.LookupDuration.WithLabelValues("v4").Observe(0.001)
	m.MgmtRequests.WithLabelValues("status").Inc()
	m.CacheHits.Inc()
	m.ReservationSize.Set(42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	want := map[string]bool{
		"dhcpreserved_requests_total":         false,
		"dhcpreserved_replies_total":          false,
		"dhcpreserved_no_match_total":         false,
		"dhcpreserved_reservation_lookup_seconds": false,
		"dhcpreserved_maccache_hits_total":    false,
		"dhcpreserved_maccache_misses_total":  false,
		"dhcpreserved_maccache_size":          false,
		"dhcpreserved_events_dropped_total":   false,
		"dhcpreserved_events_sent_total":      false,
		"dhcpreserved_mgmt_requests_total":    false,
		"dhcpreserved_reservations_loaded":    false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("metric %q not found in registry", name)
		}
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustRegister to panic on a duplicate collector registration")
		}
	}()
	New(reg)
}
