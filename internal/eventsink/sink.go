// Package eventsink delivers event records (C8) to a remote collector
// over a newline-delimited JSON TCP connection. Events are batched up to
// a size or time bound, whichever comes first, and the connection
// reconnects with an exponential backoff on failure, following the
// reconnect-loop shape used elsewhere in the wider codebase for talking
// to a remote service that may be temporarily unreachable.
package eventsink

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/dhcpreserved/internal/events"
	"github.com/shadowisp/dhcpreserved/internal/metrics"
)

const (
	// BatchSize is the maximum number of events flushed in one batch.
	BatchSize = 256
	// BatchInterval is the maximum time an event waits in the queue
	// before a batch is flushed, even if BatchSize hasn't been reached.
	BatchInterval = 3 * time.Second

	// InitialBackoff is the reconnect delay after the first failure.
	InitialBackoff = 1 * time.Second
	// MaxBackoff caps the reconnect delay.
	MaxBackoff = 30 * time.Second

	queueCapacity = 4096
	dialTimeout   = 5 * time.Second
	writeTimeout  = 5 * time.Second
)

// Sink owns the connection to the remote event collector and the queue
// feeding it. Send is safe to call from any goroutine; it never blocks
// longer than it takes to enqueue, dropping the event being sent (and
// counting it) if the queue is full rather than applying backpressure to
// the DHCP request path.
type Sink struct {
	addr    string
	logger  *zap.Logger
	metrics *metrics.Metrics
	queue   chan events.Event
}

// New constructs a Sink targeting addr. Run must be called to actually
// start delivering events; until then, Send only enqueues.
func New(addr string, logger *zap.Logger, m *metrics.Metrics) *Sink {
	return &Sink{
		addr:    addr,
		logger:  logger,
		metrics: m,
		queue:   make(chan events.Event, queueCapacity),
	}
}

// Send enqueues an event for delivery. It never blocks: if the queue is
// full, the event is dropped and EventsDropped is incremented.
func (s *Sink) Send(e events.Event) {
	select {
	case s.queue <- e:
	default:
		if s.metrics != nil {
			s.metrics.EventsDropped.Inc()
		}
		s.logger.Warn("event queue full, dropping event", zap.String("request_id", e.RequestID))
	}
}

// Run drives the batching and reconnect loop until ctx is canceled.
func (s *Sink) Run(ctx context.Context) {
	backoff := InitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
		if err != nil {
			s.logger.Warn("eventsink: dial failed, backing off", zap.String("addr", s.addr), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, MaxBackoff)
			continue
		}

		s.logger.Info("eventsink: connected", zap.String("addr", s.addr))
		backoff = InitialBackoff
		if err := s.deliverLoop(ctx, conn); err != nil {
			s.logger.Warn("eventsink: connection lost", zap.Error(err))
		}
		conn.Close()
	}
}

// deliverLoop batches events from the queue onto conn until ctx is
// canceled or a write fails. A fresh connection always starts this loop
// with a full backoff reset, so errors here re-enter Run's dial retry.
func (s *Sink) deliverLoop(ctx context.Context, conn net.Conn) error {
	w := bufio.NewWriter(conn)
	ticker := time.NewTicker(BatchInterval)
	defer ticker.Stop()

	batch := make([]events.Event, 0, BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		for _, e := range batch {
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("eventsink: marshal failed", zap.Error(err))
				continue
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.EventsSent.Add(float64(len(batch)))
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
