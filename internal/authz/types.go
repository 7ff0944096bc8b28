package authz

import (
	"time"

	"github.com/google/uuid"
)

// Application is a registered consumer of the broker. DefaultRoleID, when
// set, is granted on a user's first authorization without an explicit grant.
type Application struct {
	ID            uuid.UUID
	Name          string
	Description   string
	DefaultRoleID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Authenticator is an external identity provider. Config is stored protected
// and only revealed on the admin read path.
type Authenticator struct {
	ID        uuid.UUID
	Name      string
	AuthType  string
	Config    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Binding enables an authenticator for one application, with its own
// activation flag and per-application protected config.
type Binding struct {
	ID              uuid.UUID
	ApplicationID   uuid.UUID
	AuthenticatorID uuid.UUID
	Config          string
	DisplayOrder    int
	Active          bool
	CreatedAt       time.Time
}

// User is an internal identity. It carries no intrinsic attributes; external
// authenticator accounts attach to it through mappings.
type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// Mapping links one external account, identified by the keyed hash of its
// external user id, to one internal user. The (authenticator, external id)
// pair is unique at the store.
type Mapping struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	AuthenticatorID uuid.UUID
	ExternalHash    string
	CreatedAt       time.Time
}

// Role groups permissions under a unique name.
type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a fine-grained capability with a unique name.
type Permission struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Grant records that a user holds a role within an application. These rows
// are the sole source of truth for the authorization decision.
type Grant struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	RoleID        uuid.UUID
	ApplicationID uuid.UUID
	CreatedAt     time.Time
}

// Decision is the successful outcome of AuthorizeAccess: the resolved
// internal user and the roles it holds in the application.
type Decision struct {
	UserID uuid.UUID            `json:"user_id"`
	Roles  map[uuid.UUID]string `json:"roles"`
}
