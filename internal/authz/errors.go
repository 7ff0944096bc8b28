package authz

import "errors"

var (
	// ErrNotFound is the base kind for every lookup miss; the specific
	// denial reasons below wrap it so boundaries can map them uniformly.
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: resource conflict")
	ErrInvalidInput = errors.New("authz: invalid input")

	// ErrUnavailable marks collaborator failures (store down, timeout).
	// Safe for the caller to retry; never a final decision.
	ErrUnavailable = errors.New("authz: store unavailable")
)

// Denial reasons. Absent and inactive authenticators are deliberately
// indistinguishable; a missing binding stays distinct from a missing
// application.
var (
	ErrAuthenticatorUnavailable = wrapNotFound("authenticator not found or inactive")
	ErrApplicationNotFound      = wrapNotFound("application not found")
	ErrBindingUnavailable       = wrapNotFound("auth provider not active for this application")
	ErrNoRoleAssigned           = wrapNotFound("access denied: no assigned role")
)

func wrapNotFound(msg string) error {
	return &denialError{msg: msg}
}

type denialError struct {
	msg string
}

func (e *denialError) Error() string { return e.msg }

func (e *denialError) Unwrap() error { return ErrNotFound }
