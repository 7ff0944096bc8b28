// Package guard enforces declarative existence preconditions around domain
// operations and forwards their outcome to the audit channel. Preconditions
// are data: a named probe, the argument feeding it, the expected truth value
// and the message for each failure direction. Probes form a closed
// vocabulary, registered once at startup; anything a descriptor references
// that was never registered is a configuration bug and fails loudly instead
// of masquerading as a lookup miss.
package guard

import (
	"context"
	"errors"
	"fmt"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
)

// ErrDescriptor marks an operation descriptor that references an unknown
// probe or parameter. It is a programming error, never a caller error.
var ErrDescriptor = errors.New("guard: invalid operation descriptor")

// Probe answers whether an entity identified by value exists.
type Probe interface {
	Exists(ctx context.Context, value string) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, value string) (bool, error)

// Exists calls f.
func (f ProbeFunc) Exists(ctx context.Context, value string) (bool, error) {
	return f(ctx, value)
}

// Args carries an operation's runtime arguments by name. Call sites build it
// explicitly; the interceptor never inspects the operation body.
type Args map[string]string

// Precondition declares one existence check to run before an operation body.
type Precondition struct {
	// Probe names a registered Probe.
	Probe string
	// Param names the Args entry whose value feeds the probe.
	Param string
	// Check is the expected probe result: true means the entity must
	// exist, false means it must not.
	Check bool
	// NotFoundMessage is reported when Check is true and the probe says
	// absent.
	NotFoundMessage string
	// ConflictMessage is reported when Check is false and the probe says
	// present.
	ConflictMessage string
}

// Operation bundles an audit descriptor with the preconditions guarding it.
type Operation struct {
	Event         string
	Description   string
	Preconditions []Precondition
}

// Recorder is the audit sink the interceptor reports outcomes to.
type Recorder interface {
	Record(ctx context.Context, e audit.Event)
}

// Interceptor runs guarded operations against a fixed probe table.
type Interceptor struct {
	probes   map[string]Probe
	recorder Recorder
}

// NewInterceptor returns an Interceptor with an empty probe table.
func NewInterceptor(recorder Recorder) (*Interceptor, error) {
	if recorder == nil {
		return nil, errors.New("guard: recorder is required")
	}
	return &Interceptor{probes: make(map[string]Probe), recorder: recorder}, nil
}

// RegisterProbe adds a named probe to the table. Names are registered once;
// a duplicate is a wiring bug surfaced at startup.
func (i *Interceptor) RegisterProbe(name string, p Probe) error {
	if name == "" {
		return errors.New("guard: probe name is required")
	}
	if p == nil {
		return fmt.Errorf("guard: probe %q is nil", name)
	}
	if _, ok := i.probes[name]; ok {
		return fmt.Errorf("guard: probe %q already registered", name)
	}
	i.probes[name] = p
	return nil
}

// Run checks op's preconditions in declaration order, short-circuiting on
// the first failure, then executes fn. The outcome, pass or fail, is
// reported to the audit channel; audit delivery never affects the returned
// error.
func (i *Interceptor) Run(ctx context.Context, op Operation, args Args, fn func(ctx context.Context) error) error {
	err := i.check(ctx, op, args)
	if err == nil {
		err = fn(ctx)
	}
	i.record(ctx, op, args, err)
	return err
}

func (i *Interceptor) check(ctx context.Context, op Operation, args Args) error {
	for _, pre := range op.Preconditions {
		value, ok := args[pre.Param]
		if !ok {
			return fmt.Errorf("%w: %s references unknown parameter %q", ErrDescriptor, op.Event, pre.Param)
		}
		probe, ok := i.probes[pre.Probe]
		if !ok {
			return fmt.Errorf("%w: %s references unknown probe %q", ErrDescriptor, op.Event, pre.Probe)
		}
		exists, err := probe.Exists(ctx, value)
		if err != nil {
			return fmt.Errorf("guard: probe %q: %w", pre.Probe, err)
		}
		if exists == pre.Check {
			continue
		}
		if pre.Check {
			return fmt.Errorf("%w: %s", authz.ErrNotFound, pre.message(pre.NotFoundMessage, "not found"))
		}
		return fmt.Errorf("%w: %s", authz.ErrConflict, pre.message(pre.ConflictMessage, "already exists"))
	}
	return nil
}

func (p Precondition) message(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return p.Param + " " + fallback
}

func (i *Interceptor) record(ctx context.Context, op Operation, args Args, opErr error) {
	meta := make(map[string]any, len(args)+1)
	for k, v := range args {
		meta[k] = v
	}
	description := op.Description
	if opErr != nil {
		meta["outcome"] = "failure"
		description = op.Description + " failed: " + opErr.Error()
	} else {
		meta["outcome"] = "success"
	}
	i.recorder.Record(ctx, audit.Event{
		Type:            op.Event,
		ApplicationName: args["applicationName"],
		Description:     description,
		Metadata:        meta,
	})
}
