// Package metrics exposes the Prometheus counters and histograms this
// server tracks, following the field/registration style used throughout
// the wider codebase's metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/histogram this server registers.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RepliesTotal    *prometheus.CounterVec
	NoMatchTotal    *prometheus.CounterVec
	LookupDuration  *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheSize       prometheus.Gauge
	EventsDropped   prometheus.Counter
	EventsSent      prometheus.Counter
	MgmtRequests    *prometheus.CounterVec
	ReservationSize prometheus.Gauge
}

// New registers and returns the metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "requests_total",
			Help:      "DHCP requests received, by protocol and message type.",
		}, []string{"protocol", "message_type"}),
		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "replies_total",
			Help:      "DHCP replies sent, by protocol and reply type.",
		}, []string{"protocol", "reply_type"}),
		NoMatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "no_match_total",
			Help:      "Requests that produced no response, by protocol and reason.",
		}, []string{"protocol", "reason"}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dhcpreserved",
			Name:      "reservation_lookup_seconds",
			Help:      "Time spent resolving a reservation match key.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "maccache_hits_total",
			Help:      "MAC<->Option82 cache lookups that found a binding.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "maccache_misses_total",
			Help:      "MAC<->Option82 cache lookups that found nothing.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhcpreserved",
			Name:      "maccache_size",
			Help:      "Current MAC<->Option82 cache entry count.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the event queue was full.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "events_sent_total",
			Help:      "Events successfully delivered to the event sink.",
		}),
		MgmtRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcpreserved",
			Name:      "mgmt_requests_total",
			Help:      "Management socket requests, by command.",
		}, []string{"command"}),
		ReservationSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhcpreserved",
			Name:      "reservations_loaded",
			Help:      "Reservation count in the currently published index.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RepliesTotal,
		m.NoMatchTotal,
		m.LookupDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSize,
		m.EventsDropped,
		m.EventsSent,
		m.MgmtRequests,
		m.ReservationSize,
	)
	return m
}
