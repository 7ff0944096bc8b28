package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
	"auctoritas.org/internal/authz"
	"auctoritas.org/internal/guard"
)

// RoleService administers roles, permissions, their links, the per-application
// role catalog and user access grants.
type RoleService struct {
	store authz.Store
	guard *guard.Interceptor
}

// GetRole returns one role by id.
func (s *RoleService) GetRole(ctx context.Context, id uuid.UUID) (authz.Role, error) {
	op := guard.Operation{
		Event:       audit.EventRoleGet,
		Description: "Role fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}
	var role authz.Role
	err := s.guard.Run(ctx, op, guard.Args{"roleId": id.String()}, func(ctx context.Context) error {
		var err error
		role, err = s.store.Roles().FindByID(ctx, id)
		return err
	})
	return role, err
}

// CreateRole registers a new role. Name uniqueness is enforced by the store.
func (s *RoleService) CreateRole(ctx context.Context, name, description string) (authz.Role, error) {
	op := guard.Operation{Event: audit.EventRoleCreate, Description: "Role created."}
	var role authz.Role
	err := s.guard.Run(ctx, op, guard.Args{"roleName": name}, func(ctx context.Context) error {
		var err error
		role, err = s.store.Roles().Create(ctx, name, description)
		return err
	})
	return role, err
}

// UpdateRole rewrites a role's name and description.
func (s *RoleService) UpdateRole(ctx context.Context, id uuid.UUID, name, description string) (authz.Role, error) {
	op := guard.Operation{
		Event:       audit.EventRoleUpdate,
		Description: "Role updated.",
		Preconditions: []guard.Precondition{
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}
	var role authz.Role
	err := s.guard.Run(ctx, op, guard.Args{"roleId": id.String(), "roleName": name}, func(ctx context.Context) error {
		var err error
		role, err = s.store.Roles().Update(ctx, id, name, description)
		return err
	})
	return role, err
}

// GetPermission returns one permission by id.
func (s *RoleService) GetPermission(ctx context.Context, id uuid.UUID) (authz.Permission, error) {
	op := guard.Operation{
		Event:       audit.EventPermissionGet,
		Description: "Permission fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probePermissionID, Param: "permissionId", Check: true, NotFoundMessage: "permission not found"},
		},
	}
	var permission authz.Permission
	err := s.guard.Run(ctx, op, guard.Args{"permissionId": id.String()}, func(ctx context.Context) error {
		var err error
		permission, err = s.store.Permissions().FindByID(ctx, id)
		return err
	})
	return permission, err
}

// CreatePermission registers a new permission.
func (s *RoleService) CreatePermission(ctx context.Context, name, description string) (authz.Permission, error) {
	op := guard.Operation{Event: audit.EventPermissionCreate, Description: "Permission created."}
	var permission authz.Permission
	err := s.guard.Run(ctx, op, guard.Args{"permissionName": name}, func(ctx context.Context) error {
		var err error
		permission, err = s.store.Permissions().Create(ctx, name, description)
		return err
	})
	return permission, err
}

// UpdatePermission rewrites a permission's name and description.
func (s *RoleService) UpdatePermission(ctx context.Context, id uuid.UUID, name, description string) (authz.Permission, error) {
	op := guard.Operation{
		Event:       audit.EventPermissionUpdate,
		Description: "Permission updated.",
		Preconditions: []guard.Precondition{
			{Probe: probePermissionID, Param: "permissionId", Check: true, NotFoundMessage: "permission not found"},
		},
	}
	var permission authz.Permission
	err := s.guard.Run(ctx, op, guard.Args{"permissionId": id.String(), "permissionName": name}, func(ctx context.Context) error {
		var err error
		permission, err = s.store.Permissions().Update(ctx, id, name, description)
		return err
	})
	return permission, err
}

// PermissionsForRole returns the permissions linked to a role.
func (s *RoleService) PermissionsForRole(ctx context.Context, roleID uuid.UUID) ([]authz.Permission, error) {
	op := guard.Operation{
		Event:       audit.EventPermissionRoleGet,
		Description: "Role permissions fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}
	var out []authz.Permission
	err := s.guard.Run(ctx, op, guard.Args{"roleId": roleID.String()}, func(ctx context.Context) error {
		var err error
		out, err = s.store.PermissionRoles().ListByRole(ctx, roleID)
		return err
	})
	return out, err
}

// LinkPermission attaches a permission to a role. Both must exist and the
// pair must be new.
func (s *RoleService) LinkPermission(ctx context.Context, roleID, permissionID uuid.UUID) (uuid.UUID, error) {
	op := guard.Operation{
		Event:       audit.EventPermissionRoleCreate,
		Description: "Permission linked to role.",
		Preconditions: []guard.Precondition{
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
			{Probe: probePermissionID, Param: "permissionId", Check: true, NotFoundMessage: "permission not found"},
		},
	}
	args := guard.Args{"roleId": roleID.String(), "permissionId": permissionID.String()}
	var linkID uuid.UUID
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.PermissionRoles().Exists(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: permission already linked to this role", authz.ErrConflict)
		}
		linkID, err = s.store.PermissionRoles().Link(ctx, roleID, permissionID)
		return err
	})
	return linkID, err
}

// UnlinkPermission detaches a permission from a role.
func (s *RoleService) UnlinkPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventPermissionRoleDelete,
		Description: "Permission unlinked from role.",
	}
	args := guard.Args{"roleId": roleID.String(), "permissionId": permissionID.String()}
	return s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.PermissionRoles().Exists(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: permission not linked to this role", authz.ErrNotFound)
		}
		return s.store.PermissionRoles().Unlink(ctx, roleID, permissionID)
	})
}

// RolesForUser returns the roles a user holds within an application.
func (s *RoleService) RolesForUser(ctx context.Context, userID, applicationID uuid.UUID) ([]authz.Role, error) {
	op := guard.Operation{
		Event:       audit.EventUserRoleGet,
		Description: "User roles fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeUserID, Param: "userId", Check: true, NotFoundMessage: "user not found"},
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
		},
	}
	args := guard.Args{"userId": userID.String(), "applicationId": applicationID.String()}
	var out []authz.Role
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		var err error
		out, err = s.store.Grants().RolesFor(ctx, userID, applicationID)
		return err
	})
	return out, err
}

// AddGrant gives a user a role within an application. The store rejects a
// duplicate triple with a conflict.
func (s *RoleService) AddGrant(ctx context.Context, userID, roleID, applicationID uuid.UUID) (authz.Grant, error) {
	op := guard.Operation{
		Event:       audit.EventUserRoleCreate,
		Description: "Role granted to user.",
		Preconditions: []guard.Precondition{
			{Probe: probeUserID, Param: "userId", Check: true, NotFoundMessage: "user not found"},
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
		},
	}
	args := guard.Args{
		"userId":        userID.String(),
		"roleId":        roleID.String(),
		"applicationId": applicationID.String(),
	}
	var grant authz.Grant
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		var err error
		grant, err = s.store.Grants().Create(ctx, userID, roleID, applicationID)
		return err
	})
	return grant, err
}

// RemoveGrant revokes a user's role within an application.
func (s *RoleService) RemoveGrant(ctx context.Context, userID, roleID, applicationID uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventUserRoleDelete,
		Description: "Role revoked from user.",
	}
	args := guard.Args{
		"userId":        userID.String(),
		"roleId":        roleID.String(),
		"applicationId": applicationID.String(),
	}
	return s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.Grants().Exists(ctx, userID, roleID, applicationID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: grant not found", authz.ErrNotFound)
		}
		return s.store.Grants().Delete(ctx, userID, roleID, applicationID)
	})
}

// RolesForApplication returns the role catalog of an application.
func (s *RoleService) RolesForApplication(ctx context.Context, applicationID uuid.UUID) ([]authz.Role, error) {
	op := guard.Operation{
		Event:       audit.EventApplicationRoleGet,
		Description: "Application roles fetched.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
		},
	}
	var out []authz.Role
	err := s.guard.Run(ctx, op, guard.Args{"applicationId": applicationID.String()}, func(ctx context.Context) error {
		var err error
		out, err = s.store.ApplicationRoles().ListByApplication(ctx, applicationID)
		return err
	})
	return out, err
}

// LinkApplicationRole adds a role to an application's catalog.
func (s *RoleService) LinkApplicationRole(ctx context.Context, applicationID, roleID uuid.UUID) (uuid.UUID, error) {
	op := guard.Operation{
		Event:       audit.EventApplicationRoleCreate,
		Description: "Role added to application.",
		Preconditions: []guard.Precondition{
			{Probe: probeApplicationID, Param: "applicationId", Check: true, NotFoundMessage: "application not found"},
			{Probe: probeRoleID, Param: "roleId", Check: true, NotFoundMessage: "role not found"},
		},
	}
	args := guard.Args{"applicationId": applicationID.String(), "roleId": roleID.String()}
	var linkID uuid.UUID
	err := s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.ApplicationRoles().Exists(ctx, applicationID, roleID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: role already added to this application", authz.ErrConflict)
		}
		linkID, err = s.store.ApplicationRoles().Link(ctx, applicationID, roleID)
		return err
	})
	return linkID, err
}

// UnlinkApplicationRole removes a role from an application's catalog.
func (s *RoleService) UnlinkApplicationRole(ctx context.Context, applicationID, roleID uuid.UUID) error {
	op := guard.Operation{
		Event:       audit.EventApplicationRoleDelete,
		Description: "Role removed from application.",
	}
	args := guard.Args{"applicationId": applicationID.String(), "roleId": roleID.String()}
	return s.guard.Run(ctx, op, args, func(ctx context.Context) error {
		exists, err := s.store.ApplicationRoles().Exists(ctx, applicationID, roleID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: role not added to this application", authz.ErrNotFound)
		}
		return s.store.ApplicationRoles().Unlink(ctx, applicationID, roleID)
	})
}
