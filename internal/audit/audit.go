package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain event types. Stored as audit_event_types rows, created on first use.
const (
	EventAccessGranted = "ACCESS_GRANTED"
	EventAccessDenied  = "ACCESS_DENIED"

	EventApplicationGet    = "APPLICATION_GET"
	EventApplicationCreate = "APPLICATION_CREATE"
	EventApplicationUpdate = "APPLICATION_UPDATE"

	EventRoleGet    = "ROLE_GET"
	EventRoleCreate = "ROLE_CREATE"
	EventRoleUpdate = "ROLE_UPDATE"

	EventPermissionGet    = "PERMISSION_GET"
	EventPermissionCreate = "PERMISSION_CREATE"
	EventPermissionUpdate = "PERMISSION_UPDATE"

	EventPermissionRoleGet    = "PERMISSION_ROLE_GET"
	EventPermissionRoleCreate = "PERMISSION_ROLE_CREATE"
	EventPermissionRoleDelete = "PERMISSION_ROLE_DELETE"

	EventUserRoleGet    = "USER_ROLE_GET"
	EventUserRoleCreate = "USER_ROLE_CREATE"
	EventUserRoleDelete = "USER_ROLE_DELETE"

	EventApplicationRoleGet    = "APPLICATION_ROLE_GET"
	EventApplicationRoleCreate = "APPLICATION_ROLE_CREATE"
	EventApplicationRoleDelete = "APPLICATION_ROLE_DELETE"

	EventAuthenticatorActive = "AUTHENTICATOR_ACTIVE"
	EventAuthenticatorGet    = "AUTHENTICATOR_GET"
	EventAuthenticatorCreate = "AUTHENTICATOR_CREATE"
	EventAuthenticatorUpdate = "AUTHENTICATOR_UPDATE"
	EventAuthenticatorDelete = "AUTHENTICATOR_DELETE"

	EventMappingGet    = "USER_AUTHENTICATOR_MAPPING_GET"
	EventMappingCreate = "USER_AUTHENTICATOR_MAPPING_CREATE"
	EventMappingDelete = "USER_AUTHENTICATOR_MAPPING_DELETE"

	EventBindingActive = "APPLICATION_AUTHENTICATOR_ACTIVE"
	EventBindingGet    = "APPLICATION_AUTHENTICATOR_GET"
	EventBindingCreate = "APPLICATION_AUTHENTICATOR_CREATE"
	EventBindingDelete = "APPLICATION_AUTHENTICATOR_DELETE"

	EventHostRejected = "HOST_REJECTED"
)

// Event is one append-only audit record.
type Event struct {
	ID              string
	UserID          *uuid.UUID
	Type            string
	ApplicationName string
	Description     string
	Metadata        map[string]any
	OccurredAt      time.Time
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, e Event) error
}

// RequestInfo carries the caller context captured at the HTTP boundary.
type RequestInfo struct {
	ID        string
	ClientIP  string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo attaches request metadata for later audit enrichment.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext extracts previously attached request metadata.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	if !ok {
		return RequestInfo{}, false
	}
	return info, true
}

// RequestIDFromContext returns the request correlation id if present.
func RequestIDFromContext(ctx context.Context) string {
	info, ok := RequestInfoFromContext(ctx)
	if !ok {
		return ""
	}
	return strings.TrimSpace(info.ID)
}
