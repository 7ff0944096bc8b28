package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
)

// Hasher is the deterministic one-way transform applied to external user
// identifiers before any lookup or write.
type Hasher interface {
	Sum(value string) string
}

// Recorder is the fire-and-forget audit side channel.
type Recorder interface {
	Record(ctx context.Context, e audit.Event)
}

// Engine resolves authenticator, application, identity and role state into a
// grant-or-deny decision, provisioning users and default roles on first use.
type Engine struct {
	store    Store
	hasher   Hasher
	recorder Recorder
	now      func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs the decision engine.
func NewEngine(store Store, hasher Hasher, recorder Recorder, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	if hasher == nil {
		return nil, errors.New("authz: hasher is required")
	}
	if recorder == nil {
		return nil, errors.New("authz: recorder is required")
	}
	e := &Engine{store: store, hasher: hasher, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AuthorizeAccess decides whether the external identity presented by
// authenticatorName may access applicationName, and with which roles. Every
// outcome, granted or denied, is reported to the audit channel; audit
// failures never affect the decision.
func (e *Engine) AuthorizeAccess(ctx context.Context, applicationName, authenticatorName, externalUserID string) (Decision, error) {
	applicationName = strings.TrimSpace(applicationName)
	authenticatorName = strings.TrimSpace(authenticatorName)
	if applicationName == "" || authenticatorName == "" || externalUserID == "" {
		return Decision{}, fmt.Errorf("%w: applicationName, authenticatorName and externalUserId are required", ErrInvalidInput)
	}

	// The raw external id goes into audit metadata for operator
	// traceability; only its keyed hash ever reaches the store.
	meta := map[string]any{
		"applicationName":   applicationName,
		"authenticatorName": authenticatorName,
		"externalUserId":    externalUserID,
	}

	decision, err := e.authorize(ctx, applicationName, authenticatorName, externalUserID, meta)
	if err != nil {
		var userID *uuid.UUID
		if decision.UserID != uuid.Nil {
			id := decision.UserID
			userID = &id
		}
		e.recorder.Record(ctx, audit.Event{
			UserID:          userID,
			Type:            audit.EventAccessDenied,
			ApplicationName: applicationName,
			Description:     "Access denied: " + err.Error(),
			Metadata:        meta,
		})
		return Decision{}, err
	}

	id := decision.UserID
	e.recorder.Record(ctx, audit.Event{
		UserID:          &id,
		Type:            audit.EventAccessGranted,
		ApplicationName: applicationName,
		Description:     "Access granted with assigned roles.",
		Metadata:        meta,
	})
	return decision, nil
}

// authorize runs the resolution steps in order and fills meta as state
// becomes known. Lookups and the default-role grant share one store
// transaction, so a failure after the grant insert rolls the grant back;
// identity provisioning keeps its own boundary inside CreateWithUser. A
// partially filled Decision comes back alongside the error so the caller
// can attribute the denial to a resolved user.
func (e *Engine) authorize(ctx context.Context, applicationName, authenticatorName, externalUserID string, meta map[string]any) (Decision, error) {
	var decision Decision
	err := e.store.WithinTx(ctx, func(store Store) error {
		authenticator, err := e.resolveAuthenticator(ctx, store, authenticatorName)
		if err != nil {
			return err
		}

		application, err := e.resolveApplication(ctx, store, applicationName)
		if err != nil {
			return err
		}

		if err := e.resolveBinding(ctx, store, application, authenticator); err != nil {
			return err
		}

		user, err := e.resolveIdentity(ctx, store, authenticator, externalUserID, applicationName, meta)
		if err != nil {
			return err
		}
		decision.UserID = user.ID
		meta["userId"] = user.ID.String()

		roles, err := e.resolveRoles(ctx, store, user, application, meta)
		if err != nil {
			return err
		}

		roleMap := make(map[uuid.UUID]string, len(roles))
		for _, r := range roles {
			roleMap[r.ID] = r.Name
		}
		meta["roles"] = roleNames(roles)
		decision.Roles = roleMap
		return nil
	})
	if err != nil {
		return Decision{UserID: decision.UserID}, err
	}
	return decision, nil
}

// resolveAuthenticator collapses "missing" and "inactive" into one outcome
// so the existence of disabled authenticators does not leak.
func (e *Engine) resolveAuthenticator(ctx context.Context, store Store, name string) (Authenticator, error) {
	authenticator, err := store.Authenticators().FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return Authenticator{}, ErrAuthenticatorUnavailable
	}
	if err != nil {
		return Authenticator{}, transient("lookup authenticator", err)
	}
	if !authenticator.Active {
		return Authenticator{}, ErrAuthenticatorUnavailable
	}
	return authenticator, nil
}

func (e *Engine) resolveApplication(ctx context.Context, store Store, name string) (Application, error) {
	application, err := store.Applications().FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return Application{}, ErrApplicationNotFound
	}
	if err != nil {
		return Application{}, transient("lookup application", err)
	}
	return application, nil
}

func (e *Engine) resolveBinding(ctx context.Context, store Store, application Application, authenticator Authenticator) error {
	binding, err := store.Bindings().FindByPair(ctx, application.ID, authenticator.ID)
	if errors.Is(err, ErrNotFound) {
		return ErrBindingUnavailable
	}
	if err != nil {
		return transient("lookup binding", err)
	}
	if !binding.Active {
		return ErrBindingUnavailable
	}
	return nil
}

// resolveIdentity finds the user behind the external identity, provisioning
// a new user and mapping on first sight. Two racing first-time calls both
// converge on the winner's user: the loser's insert fails on the unique
// (authenticator, external id) pair and is retried as a re-read, once.
func (e *Engine) resolveIdentity(ctx context.Context, store Store, authenticator Authenticator, externalUserID, applicationName string, meta map[string]any) (User, error) {
	hash := e.hasher.Sum(externalUserID)
	mappings := store.Mappings()

	mapping, err := mappings.FindByExternal(ctx, authenticator.ID, hash)
	if err == nil {
		return User{ID: mapping.UserID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, transient("lookup mapping", err)
	}

	user, _, err := mappings.CreateWithUser(ctx, authenticator.ID, hash)
	if err == nil {
		id := user.ID
		e.recorder.Record(ctx, audit.Event{
			UserID:          &id,
			Type:            audit.EventAccessGranted,
			ApplicationName: applicationName,
			Description:     "User created and mapped on login.",
			Metadata:        meta,
		})
		return user, nil
	}
	if !errors.Is(err, ErrConflict) {
		return User{}, transient("provision identity", err)
	}

	// Lost the provisioning race; the winner's mapping exists now.
	mapping, err = mappings.FindByExternal(ctx, authenticator.ID, hash)
	if err != nil {
		return User{}, transient("re-read mapping after conflict", err)
	}
	return User{ID: mapping.UserID}, nil
}

// resolveRoles returns the explicit grant set, or materializes the
// application default role as a real grant row on first authorization.
func (e *Engine) resolveRoles(ctx context.Context, store Store, user User, application Application, meta map[string]any) ([]Role, error) {
	roles, err := store.Grants().RolesFor(ctx, user.ID, application.ID)
	if err != nil {
		return nil, transient("lookup grants", err)
	}
	if len(roles) > 0 {
		return roles, nil
	}

	if application.DefaultRoleID == nil {
		return nil, ErrNoRoleAssigned
	}

	// Ensure is an on-conflict-do-nothing insert: a racing duplicate must
	// not abort the surrounding transaction.
	if err := store.Grants().Ensure(ctx, user.ID, *application.DefaultRoleID, application.ID); err != nil {
		return nil, transient("assign default role", err)
	}

	role, err := store.Roles().FindByID(ctx, *application.DefaultRoleID)
	if err != nil {
		return nil, transient("lookup default role", err)
	}

	id := user.ID
	e.recorder.Record(ctx, audit.Event{
		UserID:          &id,
		Type:            audit.EventAccessGranted,
		ApplicationName: application.Name,
		Description:     "Assigned default role to user on first login.",
		Metadata:        meta,
	})
	return []Role{role}, nil
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func roleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}
