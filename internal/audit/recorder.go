package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ruletrace/pkg/platform/circuit"
	"ruletrace/pkg/requestcontext"
)

// probeInterval bounds how often an open breaker lets one publish through to
// test whether the broker has recovered.
const probeInterval = 30 * time.Second

// Sink receives every recorded event after it is persisted. The Kafka
// publisher implements this; tests use a slice-backed fake.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily. The stream
// sink is best effort: a publish failure is logged, never surfaced, because
// the persisted row is the authoritative record. A circuit breaker stops
// hammering a broker that keeps refusing publishes.
type Recorder struct {
	store   Store
	sink    Sink
	breaker *circuit.Breaker
	logger  *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
}

// NewRecorder wires the recorder to a store and an optional stream sink.
func NewRecorder(store Store, sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		sink:    sink,
		breaker: circuit.New("audit-sink"),
		logger:  logger,
	}
}

// Record persists one event, filling in identity, timestamp, and request
// correlation from the context.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := r.store.Append(ctx, event); err != nil {
		return err
	}
	if r.sink != nil {
		r.publish(ctx, event)
	}
	return nil
}

func (r *Recorder) publish(ctx context.Context, event Event) {
	if r.breaker.IsOpen() {
		if !r.shouldProbe() {
			return
		}
		if err := r.sink.Publish(ctx, event); err != nil {
			r.breaker.RecordFailure()
			return
		}
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "audit stream recovered", "breaker", r.breaker.Name())
		}
		return
	}

	err := r.sink.Publish(ctx, event)
	if err == nil {
		r.breaker.RecordSuccess()
		return
	}

	_, change := r.breaker.RecordFailure()
	r.logger.ErrorContext(ctx, "audit stream publish failed",
		"request_id", event.RequestID,
		"action", string(event.Action),
		"error", err.Error(),
	)
	if change.Opened {
		r.mu.Lock()
		r.lastProbe = time.Now()
		r.mu.Unlock()
		r.logger.ErrorContext(ctx, "audit stream circuit opened", "breaker", r.breaker.Name())
	}
}

func (r *Recorder) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastProbe) < probeInterval {
		return false
	}
	r.lastProbe = time.Now()
	return true
}
