package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
	"auctoritas.org/internal/secrets"
)

// AuthenticatorService administers identity providers. Config blobs are
// protected at rest and revealed only on the read path.
type AuthenticatorService struct {
	store  authz.Store
	cipher *secrets.Cipher
	guard  *guard.Interceptor
}

// Get returns the authenticator with the given name, config revealed.
func (s *AuthenticatorService) Get(ctx context.Context, name string) (authz.Authenticator, error) {
	op := guard.Operation{
		Event:       audit.EventAuthenticatorGet,
		Description: "Authenticator fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeAuthenticatorName, Param: "authenticatorName", Check: true, NotFoundMessage: "authenticator not found"},
		},
	}
	var out authz.Authenticator
	err := s.guard.Run(ctx, op, guard.Args{"authenticatorName": name}, func(ctx context.Context) error {
		a, err := s.store.Authenticators().FindByName(ctx, name)
		if err != nil {
			return err
		}
		a.Config, err = s.cipher.Reveal(a.Config)
		if err != nil {
			return fmt.Errorf("reveal config for %q: %w", name, err)
		}
		out = a
		return nil
	})
	return out, err
}

// List returns all authenticators, configs revealed.
func (s *AuthenticatorService) List(ctx context.Context) ([]authz.Authenticator, error) {
	all, err := s.store.Authenticators().List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].Config, err = s.cipher.Reveal(all[i].Config)
		if err != nil {
			return nil, fmt.Errorf("reveal config for %q: %w", all[i].Name, err)
		}
	}
	return all, nil
}

// Active reports whether the named authenticator exists and is enabled.
func (s *AuthenticatorService) Active(ctx context.Context, name string) (bool, error) {
	op := guard.Operation{
		Event:       audit.EventAuthenticatorActive,
		Description: "Authenticator activity checked.",
	}
	var active bool
	err := s.guard.Run(ctx, op, guard.Args{"authenticatorName": name}, func(ctx context.Context) error {
		a, err := s.store.Authenticators().FindByName(ctx, name)
		if errors.Is(err, authz.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		active = a.Active
		return nil
	})
	return active, err
}

// Create registers a new authenticator with its config protected at rest.
func (s *AuthenticatorService) Create(ctx context.Context, name, authType, config string) (authz.Authenticator, error) {
	op := guard.Operation{
		Event:       audit.EventAuthenticatorCreate,
		Description: "Authenticator created.",
		Preconditions: []guard.Precondition{
			{Probe: probeAuthenticatorName, Param: "authenticatorName", Check: false, ConflictMessage: "authenticator already exists"},
		},
	}
	var out authz.Authenticator
	err := s.guard.Run(ctx, op, guard.Args{"authenticatorName": name}, func(ctx context.Context) error {
		protected, err := s.cipher.Protect(config)
		if err != nil {
			return fmt.Errorf("protect config: %w", err)
		}
		out, err = s.store.Authenticators().Create(ctx, name, authType, protected)
		if err != nil {
			return err
		}
		out.Config = config
		return nil
	})
	return out, err
}

// Update rewrites an authenticator, re-protecting the config.
func (s *AuthenticatorService) Update(ctx context.Context, id uuid.UUID, name, authType, config string, active bool) (authz.Authenticator, error) {
	op := guard.Operation{
		Event:       audit.EventAuthenticatorUpdate,
		Description: "Authenticator updated.",
		Preconditions: []guard.Precondition{
			{Probe: probeAuthenticatorID, Param: "authenticatorId", Check: true, NotFoundMessage: "authenticator not found"},
		},
	}
	args := guard.Args{"authenticatorId": id.String(), "authenticatorName": name}
	var out authz.Authenticator
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		protected, err := s.cipher.Protect(config)
		if err != nil {
			return fmt.Errorf("protect config: %w", err)
		}
		out, err = s.store.Authenticators().Update(ctx, id, name, authType, protected, active)
		if err != nil {
			return err
		}
		out.Config = config
		return nil
	})
	return out, err
}

// Delete removes an authenticator.
func (s *AuthenticatorService) Delete(ctx context.Context, id uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventAuthenticatorDelete,
		Description: "Authenticator deleted.",
		Preconditions: []guard.Precondition{
			{Probe: probeAuthenticatorID, Param: "authenticatorId", Check: true, NotFoundMessage: "authenticator not found"},
		},
	}
	return s.guard.Run(ctx, op, guard.Args{"authenticatorId": id.String()}, func(ctx context.Context) error {
		return s.store.Authenticators().Delete(ctx, id)
	})
}

// BindingService administers per-application authenticator enablement.
type BindingService struct {
	store  authz.Store
	cipher *secrets.Cipher
	guard  *guard.Interceptor
}

// ListByApplication returns the bindings of one application in display
// order, configs revealed.
func (s *BindingService) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]authz.Binding, error) {
	op := guard.Operation{
		Event:       audit.EventBindingGet,
		Description: "Application authenticators fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
		},
	}
	var out []authz.Binding
	err := s.guard.Run(ctx, op, guard.Args{"applicationId": applicationID.String()}, func(ctx context.Context) error {
		bindings, err := s.store.Bindings().ListByApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		for i := range bindings {
			bindings[i].Config, err = s.cipher.Reveal(bindings[i].Config)
			if err != nil {
				return fmt.Errorf("reveal binding config: %w", err)
			}
		}
		out = bindings
		return nil
	})
	return out, err
}

// Active reports whether the (application, authenticator) binding exists
// and is enabled.
func (s *BindingService) Active(ctx context.Context, applicationID, authenticatorID uuid.UUID) (bool, error) {
	op := guard.Operation{
		Event:       audit.EventBindingActive,
		Description: "Application authenticator activity checked.",
	}
	args := guard.Args{
		"applicationId":   applicationID.String(),
		"authenticatorId": authenticatorID.String(),
	}
	var active bool
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		b, err := s.store.Bindings().FindByPair(ctx, applicationID, authenticatorID)
		if errors.Is(err, authz.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		active = b.Active
		return nil
	})
	return active, err
}

// Create binds an authenticator to an application. The pair must be new.
func (s *BindingService) Create(ctx context.Context, applicationID, authenticatorID uuid.UUID, config string, displayOrder int) (authz.Binding, error) {
	op := guard.Operation{
		Event:       audit.EventBindingCreate,
		Description: "Authenticator bound to application.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
			{Probe: probeAuthenticatorID, Param: "authenticatorId", Check: true, NotFoundMessage: "authenticator not found"},
		},
	}
	args := guard.Args{
		"applicationId":   applicationID.String(),
		"authenticatorId": authenticatorID.String(),
	}
	var out authz.Binding
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.Bindings().ExistsByPair(ctx, applicationID, authenticatorID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: authenticator already bound to this application", authz.ErrConflict)
		}
		protected, err := s.cipher.Protect(config)
		if err != nil {
			return fmt.Errorf("protect binding config: %w", err)
		}
		out, err = s.store.Bindings().Create(ctx, applicationID, authenticatorID, protected, displayOrder)
		if err != nil {
			return err
		}
		out.Config = config
		return nil
	})
	return out, err
}

// Delete removes a binding.
func (s *BindingService) Delete(ctx context.Context, id uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventBindingDelete,
		Description: "Authenticator unbound from application.",
		Preconditions: []guard.Precondition{
			{Probe: probeBindingID, Param: "bindingId", Check: true, NotFoundMessage: "binding not found"},
		},
	}
	return s.guard.Run(ctx, op, guard.Args{"bindingId": id.String()}, func(ctx context.Context) error {
		return s.store.Bindings().Delete(ctx, id)
	})
}

// MappingService administers external-identity mappings on the admin path.
// External ids are hashed before they touch the store.
type MappingService struct {
	store  authz.Store
	hasher *secrets.Hasher
	guard  *guard.Interceptor
}

// ListByUser returns the mappings attached to one user.
func (s *MappingService) ListByUser(ctx context.Context, userID uuid.UUID) ([]authz.Mapping, error) {
	op := guard.Operation{
		Event:       audit.EventMappingGet,
		Description: "User mappings fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeUserID, Param: "userId", Check: true, NotFoundMessage: "user not found"},
		},
	}
	var out []authz.Mapping
	err := s.guard.Run(ctx, op, guard.Args{"userId": userID.String()}, func(ctx context.Context) error {
		var err error
		out, err = s.store.Mappings().ListByUser(ctx, userID)
		return err
	})
	return out, err
}

// Create attaches an external identity to an existing user. The
// (authenticator, external id) pair must be new.
func (s *MappingService) Create(ctx context.Context, userID, authenticatorID uuid.UUID, externalUserID string) (authz.Mapping, error) {
	op := guard.Operation{
		Event:       audit.EventMappingCreate,
		Description: "User mapped to authenticator.",
		Preconditions: []guard.Precondition{
			{Probe: probeUserID, Param: "userId", Check: true, NotFoundMessage: "user not found"},
			{Probe: probeAuthenticatorID, Param: "authenticatorId", Check: true, NotFoundMessage: "authenticator not found"},
		},
	}
	args := guard.Args{
		"userId":          userID.String(),
		"authenticatorId": authenticatorID.String(),
	}
	var out authz.Mapping
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		if externalUserID == "" {
			return fmt.Errorf("%w: externalUserId is required", authz.ErrInvalidInput)
		}
		hash := s.hasher.Sum(externalUserID)
		exists, err := s.store.Mappings().ExistsByExternal(ctx, authenticatorID, hash)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: external identity already mapped for this authenticator", authz.ErrConflict)
		}
		out, err = s.store.Mappings().Create(ctx, userID, authenticatorID, hash)
		return err
	})
	return out, err
}

// Delete removes a mapping.
func (s *MappingService) Delete(ctx context.Context, id uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventMappingDelete,
		Description: "User mapping removed.",
	}
	return s.guard.Run(ctx, op, guard.Args{"mappingId": id.String()}, func(ctx context.Context) error {
		return s.store.Mappings().Delete(ctx, id)
	})
}
