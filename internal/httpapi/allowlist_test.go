package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"auctoritas.org/internal/audit"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestHostFilterRules(t *testing.T) {
	filter, err := NewHostFilter("10.1.2.3, 192.168.1.*, 172.16.0.0/12", nil)
	if err != nil {
		t.Fatalf("NewHostFilter: %v", err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"10.1.2.4", false},
		{"192.168.1.50", true},
		{"192.168.2.50", false},
		{"172.16.0.1", true},
		{"172.31.255.254", true},
		{"172.32.0.1", false},
		{"not-an-ip", false},
	}
	for _, tc := range cases {
		if got := filter.Allowed(tc.ip); got != tc.want {
			t.Errorf("Allowed(%q) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestHostFilterEmptyAdmitsEveryone(t *testing.T) {
	filter, err := NewHostFilter("", nil)
	if err != nil {
		t.Fatalf("NewHostFilter: %v", err)
	}
	if !filter.Allowed("203.0.113.77") {
		t.Fatal("empty rule set must admit any address")
	}
}

func TestHostFilterRejectsBadRule(t *testing.T) {
	if _, err := NewHostFilter("10.0.0.0/not-a-prefix", nil); err == nil {
		t.Fatal("expected error for malformed CIDR rule")
	}
	if _, err := NewHostFilter("bogus-host", nil); err == nil {
		t.Fatal("expected error for non-IP rule")
	}
}

func TestHostFilterWildcardDoesNotCrossDots(t *testing.T) {
	filter, err := NewHostFilter("10.*.1.1", nil)
	if err != nil {
		t.Fatalf("NewHostFilter: %v", err)
	}
	if !filter.Allowed("10.44.1.1") {
		t.Fatal("single-label wildcard should match")
	}
	if filter.Allowed("10.44.55.1.1") {
		t.Fatal("wildcard must not span multiple labels")
	}
}

func TestHostFilterMiddlewareRejectsAndAudits(t *testing.T) {
	rec := &captureRecorder{}
	filter, err := NewHostFilter("10.1.2.3", rec)
	if err != nil {
		t.Fatalf("NewHostFilter: %v", err)
	}

	called := false
	h := filter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/authorize", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if called {
		t.Fatal("handler must not run for a rejected address")
	}
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if rec.count() != 1 {
		t.Fatalf("audited %d events, want 1", rec.count())
	}
	if rec.events[0].Type != audit.EventHostRejected {
		t.Fatalf("event type = %q", rec.events[0].Type)
	}
}

func TestHostFilterMiddlewareAdmitsMatch(t *testing.T) {
	rec := &captureRecorder{}
	filter, err := NewHostFilter("10.1.2.3", rec)
	if err != nil {
		t.Fatalf("NewHostFilter: %v", err)
	}

	called := false
	h := filter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/authorize", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatal("handler must run for an allowed address")
	}
	if rec.count() != 0 {
		t.Fatalf("audited %d events for an allowed request", rec.count())
	}
}
