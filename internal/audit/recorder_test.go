package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *memStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestRecorderDeliversAndStamps(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store)

	rec.Record(context.Background(), Event{Type: EventAccessGranted, ApplicationName: "shop"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatal("expected generated event id")
	}
	if e.OccurredAt.IsZero() {
		t.Fatal("expected timestamp")
	}
	if e.Type != EventAccessGranted || e.ApplicationName != "shop" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestRecorderEnrichesFromContext(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store)

	ctx := WithRequestInfo(context.Background(), RequestInfo{
		ID:        "req-1",
		ClientIP:  "10.1.2.3",
		UserAgent: "curl/8.0",
	})
	rec.Record(ctx, Event{Type: EventAccessDenied})

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	meta := events[0].Metadata
	if meta["ipv4"] != "10.1.2.3" || meta["user-agent"] != "curl/8.0" || meta["request_id"] != "req-1" {
		t.Fatalf("metadata not enriched: %v", meta)
	}
}

func TestRecorderNeverBlocksWhenFull(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block}
	rec := NewRecorder(store, WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			rec.Record(context.Background(), Event{Type: EventAccessGranted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = rec.Close(ctx)
}

type blockingStore struct {
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	n       int
}

func (s *blockingStore) Append(_ context.Context, _ Event) error {
	s.once.Do(func() { <-s.release })
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	store := &memStore{err: errors.New("audit db down")}
	rec := NewRecorder(store)

	// Must not panic or surface anything to the caller.
	rec.Record(context.Background(), Event{Type: EventAccessGranted})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRecorderSnapshotsMetadataAtRecordTime(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store)

	meta := map[string]any{"step": "provisioned"}
	rec.Record(context.Background(), Event{Type: EventAccessGranted, Metadata: meta})

	// The caller keeps mutating its map after emitting the event.
	meta["step"] = "decided"
	meta["roles"] = []string{"customer"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0].Metadata
	if got["step"] != "provisioned" {
		t.Fatalf("step = %v, want value at Record time", got["step"])
	}
	if _, leaked := got["roles"]; leaked {
		t.Fatal("later mutation leaked into the stored event")
	}
}

func TestRecorderRecordDuringClose(t *testing.T) {
	// Record racing Close must drop, never panic on a closed queue.
	for i := 0; i < 200; i++ {
		rec := NewRecorder(&memStore{})

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					rec.Record(context.Background(), Event{Type: EventAccessGranted})
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = rec.Close(ctx)
		cancel()
		wg.Wait()
	}
}

func TestRecorderDropsAfterClose(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec.Record(context.Background(), Event{Type: EventAccessGranted})
	if n := len(store.snapshot()); n != 0 {
		t.Fatalf("stored %d events after close, want 0", n)
	}
}

func TestRecorderDoubleClose(t *testing.T) {
	rec := NewRecorder(&memStore{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := rec.Close(ctx); err == nil {
		t.Fatal("expected error on second Close")
	}
}
