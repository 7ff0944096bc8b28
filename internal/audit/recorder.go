package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auctoritas.org/internal/ids"
	"auctoritas.org/internal/obs"
)

const (
	defaultQueueSize    = 1024
	defaultAppendWindow = 5 * time.Second
)

// Recorder accepts events on a bounded queue drained by one background
// worker. Record never blocks and never surfaces an error to the caller:
// audit availability must not gate the decision path.
type Recorder struct {
	store Store
	now   func() time.Time

	queue chan Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Event, n)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder and starts its drain worker.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
		queue: make(chan Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drain()
	return r
}

// Record enqueues an event, enriching metadata with request context. When the
// queue is full or the recorder is closed the event is dropped and counted.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}

	// Snapshot the metadata before handing the event to the drain worker.
	// Callers keep mutating their map after emitting intermediate events;
	// the stored record must reflect the state at Record time.
	meta := make(map[string]any, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	if info, ok := RequestInfoFromContext(ctx); ok {
		if info.ClientIP != "" {
			e.Metadata["ipv4"] = info.ClientIP
		}
		if info.UserAgent != "" {
			e.Metadata["user-agent"] = info.UserAgent
		}
		if info.ID != "" {
			e.Metadata["request_id"] = info.ID
		}
	}

	// The enqueue happens under the same mutex that Close holds while
	// closing the queue, so a send can never hit a closed channel.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.drop(e, "recorder closed")
		return
	}
	select {
	case r.queue <- e:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.drop(e, "queue full")
	}
}

// Close stops intake and waits for the queue to drain or ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("audit: recorder already closed")
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: drain interrupted: %w", ctx.Err())
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultAppendWindow)
		err := r.store.Append(ctx, e)
		cancel()
		if err != nil {
			obs.Log(map[string]any{
				"level": "error",
				"msg":   "audit append failed",
				"event": e.Type,
				"error": err.Error(),
			})
		}
	}
}

func (r *Recorder) drop(e Event, reason string) {
	obs.RecordAuditDrop()
	obs.Log(map[string]any{
		"level":  "warn",
		"msg":    "audit event dropped",
		"event":  e.Type,
		"reason": reason,
	})
}
