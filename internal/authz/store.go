package authz

import (
	"context"

	"github.com/google/uuid"
)

// Store bundles the persistence surfaces required by the broker.
type Store interface {
	// WithinTx runs fn against a store view whose operations share one
	// transaction, committed when fn returns nil and rolled back
	// otherwise. CreateWithUser keeps its own write boundary even when
	// called inside fn.
	WithinTx(ctx context.Context, fn func(Store) error) error

	Applications() ApplicationStore
	Authenticators() AuthenticatorStore
	Bindings() BindingStore
	Users() UserStore
	Mappings() MappingStore
	Roles() RoleStore
	Permissions() PermissionStore
	PermissionRoles() PermissionRoleStore
	ApplicationRoles() ApplicationRoleStore
	Grants() GrantStore
}

// ApplicationStore manages applications.
type ApplicationStore interface {
	Create(ctx context.Context, name, description string, defaultRoleID *uuid.UUID) (Application, error)
	FindByID(ctx context.Context, id uuid.UUID) (Application, error)
	FindByName(ctx context.Context, name string) (Application, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context, id uuid.UUID, name, description string, defaultRoleID *uuid.UUID) (Application, error)
}

// AuthenticatorStore manages authenticators.
type AuthenticatorStore interface {
	Create(ctx context.Context, name, authType, config string) (Authenticator, error)
	FindByID(ctx context.Context, id uuid.UUID) (Authenticator, error)
	FindByName(ctx context.Context, name string) (Authenticator, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]Authenticator, error)
	Update(ctx context.Context, id uuid.UUID, name, authType, config string, active bool) (Authenticator, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BindingStore manages application-authenticator bindings.
type BindingStore interface {
	Create(ctx context.Context, applicationID, authenticatorID uuid.UUID, config string, displayOrder int) (Binding, error)
	FindByID(ctx context.Context, id uuid.UUID) (Binding, error)
	FindByPair(ctx context.Context, applicationID, authenticatorID uuid.UUID) (Binding, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	ExistsByPair(ctx context.Context, applicationID, authenticatorID uuid.UUID) (bool, error)
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]Binding, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserStore manages internal users.
type UserStore interface {
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
}

// MappingStore manages external-identity mappings. CreateWithUser provisions
// a fresh user and its mapping in one atomic write; it reports ErrConflict
// when the (authenticator, external id) pair already exists.
type MappingStore interface {
	CreateWithUser(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (User, Mapping, error)
	Create(ctx context.Context, userID, authenticatorID uuid.UUID, externalHash string) (Mapping, error)
	FindByExternal(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (Mapping, error)
	ExistsByExternal(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Mapping, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, name, description string) (Role, error)
	FindByID(ctx context.Context, id uuid.UUID) (Role, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	Update(ctx context.Context, id uuid.UUID, name, description string) (Role, error)
}

// PermissionStore manages permissions.
type PermissionStore interface {
	Create(ctx context.Context, name, description string) (Permission, error)
	FindByID(ctx context.Context, id uuid.UUID) (Permission, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	Update(ctx context.Context, id uuid.UUID, name, description string) (Permission, error)
}

// PermissionRoleStore manages the role-permission links.
type PermissionRoleStore interface {
	Link(ctx context.Context, roleID, permissionID uuid.UUID) (uuid.UUID, error)
	Unlink(ctx context.Context, roleID, permissionID uuid.UUID) error
	Exists(ctx context.Context, roleID, permissionID uuid.UUID) (bool, error)
	ListByRole(ctx context.Context, roleID uuid.UUID) ([]Permission, error)
}

// ApplicationRoleStore manages the application-role catalog.
type ApplicationRoleStore interface {
	Link(ctx context.Context, applicationID, roleID uuid.UUID) (uuid.UUID, error)
	Unlink(ctx context.Context, applicationID, roleID uuid.UUID) error
	Exists(ctx context.Context, applicationID, roleID uuid.UUID) (bool, error)
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]Role, error)
}

// GrantStore manages (user, role, application) access grants. Create reports
// ErrConflict when the triple already exists; Ensure treats it as success.
type GrantStore interface {
	Create(ctx context.Context, userID, roleID, applicationID uuid.UUID) (Grant, error)
	Ensure(ctx context.Context, userID, roleID, applicationID uuid.UUID) error
	Delete(ctx context.Context, userID, roleID, applicationID uuid.UUID) error
	Exists(ctx context.Context, userID, roleID, applicationID uuid.UUID) (bool, error)
	RolesFor(ctx context.Context, userID, applicationID uuid.UUID) ([]Role, error)
}
