package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) last(t *testing.T) audit.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return r.events[len(r.events)-1]
}

func newTestInterceptor(t *testing.T) (*Interceptor, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	i, err := NewInterceptor(rec)
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}
	return i, rec
}

func staticProbe(known ...string) Probe {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	return ProbeFunc(func(_ context.Context, value string) (bool, error) {
		return set[value], nil
	})
}

func TestRunMustExistPasses(t *testing.T) {
	i, rec := newTestInterceptor(t)
	if err := i.RegisterProbe("role", staticProbe("role-1")); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event:       "ROLE_UPDATE",
		Description: "Role updated.",
		Preconditions: []Precondition{
			{Probe: "role", Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}

	ran := false
	err := i.Run(context.Background(), op, Args{"roleId": "role-1"}, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("operation body did not run")
	}
	e := rec.last(t)
	if e.Type != "ROLE_UPDATE" || e.Description != "Role updated." {
		t.Fatalf("unexpected audit event %q / %q", e.Type, e.Description)
	}
	if e.Metadata["outcome"] != "success" || e.Metadata["roleId"] != "role-1" {
		t.Fatalf("unexpected metadata %v", e.Metadata)
	}
}

func TestRunMustExistFailsNotFound(t *testing.T) {
	i, rec := newTestInterceptor(t)
	if err := i.RegisterProbe("role", staticProbe()); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event: "ROLE_UPDATE",
		Preconditions: []Precondition{
			{Probe: "role", Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}

	ran := false
	err := i.Run(context.Background(), op, Args{"roleId": "missing"}, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "role not found") {
		t.Fatalf("err = %v, want configured message", err)
	}
	if ran {
		t.Fatal("operation body ran after failed precondition")
	}
	if rec.last(t).Metadata["outcome"] != "failure" {
		t.Fatal("failure outcome not audited")
	}
}

func TestRunMustNotExistFailsConflict(t *testing.T) {
	i, _ := newTestInterceptor(t)
	if err := i.RegisterProbe("application", staticProbe("storefront")); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event: "APPLICATION_CREATE",
		Preconditions: []Precondition{
			{Probe: "application", Param: "applicationName", Check: false, ConflictMessage: "application already exists"},
		},
	}

	err := i.Run(context.Background(), op, Args{"applicationName": "storefront"}, func(context.Context) error {
		t.Fatal("operation body ran after failed precondition")
		return nil
	})
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if !strings.Contains(err.Error(), "application already exists") {
		t.Fatalf("err = %v, want configured message", err)
	}
}

func TestRunStackedPreconditionsShortCircuit(t *testing.T) {
	i, _ := newTestInterceptor(t)
	probed := []string{}
	record := func(name string, hit bool) Probe {
		return ProbeFunc(func(context.Context, string) (bool, error) {
			probed = append(probed, name)
			return hit, nil
		})
	}
	if err := i.RegisterProbe("role", record("role", false)); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}
	if err := i.RegisterProbe("permission", record("permission", true)); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event: "PERMISSION_ROLE_CREATE",
		Preconditions: []Precondition{
			{Probe: "role", Param: "roleId", Check: true, NotFoundMessage: "role not found"},
			{Probe: "permission", Param: "permissionId", Check: true, NotFoundMessage: "permission not found"},
		},
	}

	err := i.Run(context.Background(), op, Args{"roleId": "r", "permissionId": "p"}, func(context.Context) error {
		return nil
	})
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(probed) != 1 || probed[0] != "role" {
		t.Fatalf("probes run = %v, want just the first", probed)
	}
}

func TestRunUnknownParamIsDescriptorError(t *testing.T) {
	i, _ := newTestInterceptor(t)
	if err := i.RegisterProbe("role", staticProbe()); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event: "ROLE_UPDATE",
		Preconditions: []Precondition{
			{Probe: "role", Param: "roleId", Check: true},
		},
	}

	err := i.Run(context.Background(), op, Args{"id": "r"}, func(context.Context) error { return nil })
	if !errors.Is(err, ErrDescriptor) {
		t.Fatalf("err = %v, want ErrDescriptor", err)
	}
	if errors.Is(err, authz.ErrNotFound) {
		t.Fatal("descriptor error must not read as not-found")
	}
}

func TestRunUnknownProbeIsDescriptorError(t *testing.T) {
	i, _ := newTestInterceptor(t)

	op := Operation{
		Event: "ROLE_UPDATE",
		Preconditions: []Precondition{
			{Probe: "nope", Param: "roleId", Check: true},
		},
	}

	err := i.Run(context.Background(), op, Args{"roleId": "r"}, func(context.Context) error { return nil })
	if !errors.Is(err, ErrDescriptor) {
		t.Fatalf("err = %v, want ErrDescriptor", err)
	}
}

func TestRunProbeFailurePropagates(t *testing.T) {
	i, _ := newTestInterceptor(t)
	boom := errors.New("connection refused")
	if err := i.RegisterProbe("role", ProbeFunc(func(context.Context, string) (bool, error) {
		return false, boom
	})); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}

	op := Operation{
		Event: "ROLE_UPDATE",
		Preconditions: []Precondition{
			{Probe: "role", Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}

	err := i.Run(context.Background(), op, Args{"roleId": "r"}, func(context.Context) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped probe failure", err)
	}
	if errors.Is(err, authz.ErrNotFound) {
		t.Fatal("probe outage must not read as not-found")
	}
}

func TestRunAuditsBodyFailure(t *testing.T) {
	i, rec := newTestInterceptor(t)

	op := Operation{Event: "ROLE_CREATE", Description: "Role created."}
	boom := errors.New("insert failed")
	err := i.Run(context.Background(), op, Args{"name": "admin"}, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want body error", err)
	}
	e := rec.last(t)
	if e.Metadata["outcome"] != "failure" {
		t.Fatalf("outcome = %v, want failure", e.Metadata["outcome"])
	}
	if !strings.Contains(e.Description, "insert failed") {
		t.Fatalf("description %q does not carry the failure", e.Description)
	}
}

func TestRegisterProbeRejectsDuplicates(t *testing.T) {
	i, _ := newTestInterceptor(t)
	if err := i.RegisterProbe("role", staticProbe()); err != nil {
		t.Fatalf("first RegisterProbe: %v", err)
	}
	if err := i.RegisterProbe("role", staticProbe()); err == nil {
		t.Fatal("duplicate probe registration accepted")
	}
}
