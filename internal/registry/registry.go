// Package registry exposes the administrative services for the broker's
// entities. Every operation runs through the guard interceptor, which
// enforces its declared existence preconditions and audits the outcome.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
	"auctoritas.org/internal/secrets"
)

// Probe names. The closed vocabulary every operation descriptor draws from.
const (
	probeApplicationID     = "application-id"
	probeApplicationName   = "application-name"
	probeAuthenticatorID   = "authenticator-id"
	probeAuthenticatorName = "authenticator-name"
	probeBindingID         = "binding-id"
	probeUserID            = "user-id"
	probeRoleID            = "role-id"
	probePermissionID      = "permission-id"
)

// Registry bundles the administrative services over one store.
type Registry struct {
	Applications   *ApplicationService
	Authenticators *AuthenticatorService
	Bindings       *BindingService
	Mappings       *MappingService
	Roles          *RoleService
}

// New wires the services and registers the probe table on the interceptor.
func New(store authz.Store, cipher *secrets.Cipher, hasher *secrets.Hasher, interceptor *guard.Interceptor) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: store is required")
	}
	if cipher == nil {
		return nil, errors.New("registry: cipher is required")
	}
	if hasher == nil {
		return nil, errors.New("registry: hasher is required")
	}
	if interceptor == nil {
		return nil, errors.New("registry: interceptor is required")
	}
	if err := registerProbes(store, interceptor); err != nil {
		return nil, err
	}
	return &Registry{
		Applications:   &ApplicationService{store: store, guard: interceptor},
		Authenticators: &AuthenticatorService{store: store, cipher: cipher, guard: interceptor},
		Bindings:       &BindingService{store: store, cipher: cipher, guard: interceptor},
		Mappings:       &MappingService{store: store, hasher: hasher, guard: interceptor},
		Roles:          &RoleService{store: store, guard: interceptor},
	}, nil
}

func registerProbes(store authz.Store, interceptor *guard.Interceptor) error {
	probes := map[string]guard.Probe{
		probeApplicationID:     idProbe(store.Applications().ExistsByID),
		probeApplicationName:   textProbe(store.Applications().ExistsByName),
		probeAuthenticatorID:   idProbe(store.Authenticators().ExistsByID),
		probeAuthenticatorName: textProbe(store.Authenticators().ExistsByName),
		probeBindingID:         idProbe(store.Bindings().ExistsByID),
		probeUserID:            idProbe(store.Users().ExistsByID),
		probeRoleID:            idProbe(store.Roles().ExistsByID),
		probePermissionID:      idProbe(store.Permissions().ExistsByID),
	}
	for name, probe := range probes {
		if err := interceptor.RegisterProbe(name, probe); err != nil {
			return err
		}
	}
	return nil
}

// idProbe adapts an existence check keyed by uuid to the string-valued
// probe contract. A malformed id is a caller error, not a lookup miss.
func idProbe(exists func(ctx context.Context, id uuid.UUID) (bool, error)) guard.Probe {
	return guard.ProbeFunc(func(ctx context.Context, value string) (bool, error) {
		id, err := uuid.Parse(value)
		if err != nil {
			return false, fmt.Errorf("%w: invalid id %q", authz.ErrInvalidInput, value)
		}
		return exists(ctx, id)
	})
}

func textProbe(exists func(ctx context.Context, value string) (bool, error)) guard.Probe {
	return guard.ProbeFunc(exists)
}
