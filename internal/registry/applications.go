package registry

import (
	"context"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
)

// ApplicationService administers applications and their default roles.
type ApplicationService struct {
	store authz.Store
	guard *guard.Interceptor
}

// Get returns the application with the given name.
func (s *ApplicationService) Get(ctx context.Context, name string) (authz.Application, error) {
	op := guard.Operation{
		Event:       audit.EventApplicationGet,
		Description: "Application fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationName, Param: "applicationName", Check: true, NotFoundMessage: "application not found"},
		},
	}
	var app authz.Application
	err := s.guard.Run(ctx, op, guard.Args{"applicationName": name}, func(ctx context.Context) error {
		var err error
		app, err = s.store.Applications().FindByName(ctx, name)
		return err
	})
	return app, err
}

// Create registers a new application. The name must be free; a configured
// default role must exist.
func (s *ApplicationService) Create(ctx context.Context, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
	op := guard.Operation{
		Event:       audit.EventApplicationCreate,
		Description: "Application created.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationName, Param: "applicationName", Check: false, ConflictMessage: "application already exists"},
		},
	}
	args := guard.Args{"applicationName": name}
	if defaultRoleID != nil {
		op.Preconditions = append(op.Preconditions, guard.Precondition{
			Probe: probeRoleID, Param: "defaultRoleId", Check: true, NotFoundMessage: "default role not found",
		})
		args["defaultRoleId"] = defaultRoleID.String()
	}
	var app authz.Application
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		var err error
		app, err = s.store.Applications().Create(ctx, name, description, defaultRoleID)
		return err
	})
	return app, err
}

// Update rewrites an application's name, description and default role.
func (s *ApplicationService) Update(ctx context.Context, id uuid.UUID, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
	op := guard.Operation{
		Event:       audit.EventApplicationUpdate,
		Description: "Application updated.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
		},
	}
	args := guard.Args{"applicationId": id.String(), "applicationName": name}
	if defaultRoleID != nil {
		op.Preconditions = append(op.Preconditions, guard.Precondition{
			Probe: probeRoleID, Param: "defaultRoleId", Check: true, NotFoundMessage: "default role not found",
		})
		args["defaultRoleId"] = defaultRoleID.String()
	}
	var app authz.Application
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		var err error
		app, err = s.store.Applications().Update(ctx, id, name, description, defaultRoleID)
		return err
	})
	return app, err
}
