package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
)

type roles struct{ *Store }

func (s roles) Create(ctx context.Context, name, description string) (authz.Role, error) {
	var r authz.Role
	err := s.q.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, uuid.New(), name, description).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return authz.Role{}, mapWriteError(err)
	}
	return r, nil
}

func (s roles) FindByID(ctx context.Context, id uuid.UUID) (authz.Role, error) {
	var r authz.Role
	err := s.q.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Role{}, err
	}
	return r, nil
}

func (s roles) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from roles where id = $1)`, id)
}

func (s roles) Update(ctx context.Context, id uuid.UUID, name, description string) (authz.Role, error) {
	var r authz.Role
	err := s.q.QueryRowContext(ctx, `
		update roles
		set name = $2, description = $3, updated_at = now()
		where id = $1
		returning id, name, description, created_at, updated_at
	`, id, name, description).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Role{}, mapWriteError(err)
	}
	return r, nil
}

type permissions struct{ *Store }

func (s permissions) Create(ctx context.Context, name, description string) (authz.Permission, error) {
	var p authz.Permission
	err := s.q.QueryRowContext(ctx, `
		insert into permissions (id, name, description)
		values ($1, $2, $3)
		returning id, name, description, created_at, updated_at
	`, uuid.New(), name, description).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return authz.Permission{}, mapWriteError(err)
	}
	return p, nil
}

func (s permissions) FindByID(ctx context.Context, id uuid.UUID) (authz.Permission, error) {
	var p authz.Permission
	err := s.q.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from permissions
		where id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Permission{}, err
	}
	return p, nil
}

func (s permissions) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from permissions where id = $1)`, id)
}

func (s permissions) Update(ctx context.Context, id uuid.UUID, name, description string) (authz.Permission, error) {
	var p authz.Permission
	err := s.q.QueryRowContext(ctx, `
		update permissions
		set name = $2, description = $3, updated_at = now()
		where id = $1
		returning id, name, description, created_at, updated_at
	`, id, name, description).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Permission{}, mapWriteError(err)
	}
	return p, nil
}

type permissionRoles struct{ *Store }

func (s permissionRoles) Link(ctx context.Context, roleID, permissionID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.q.ExecContext(ctx, `
		insert into permission_roles (id, role_id, permission_id)
		values ($1, $2, $3)
	`, id, roleID, permissionID)
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	return id, nil
}

func (s permissionRoles) Unlink(ctx context.Context, roleID, permissionID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `
		delete from permission_roles where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s permissionRoles) Exists(ctx context.Context, roleID, permissionID uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `
		select exists(select 1 from permission_roles where role_id = $1 and permission_id = $2)
	`, roleID, permissionID)
}

func (s permissionRoles) ListByRole(ctx context.Context, roleID uuid.UUID) ([]authz.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select p.id, p.name, p.description, p.created_at, p.updated_at
		from permissions p
		join permission_roles pr on pr.permission_id = p.id
		where pr.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type applicationRoles struct{ *Store }

func (s applicationRoles) Link(ctx context.Context, applicationID, roleID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.q.ExecContext(ctx, `
		insert into application_roles (id, application_id, role_id)
		values ($1, $2, $3)
	`, id, applicationID, roleID)
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	return id, nil
}

func (s applicationRoles) Unlink(ctx context.Context, applicationID, roleID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `
		delete from application_roles where application_id = $1 and role_id = $2
	`, applicationID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s applicationRoles) Exists(ctx context.Context, applicationID, roleID uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `
		select exists(select 1 from application_roles where application_id = $1 and role_id = $2)
	`, applicationID, roleID)
}

func (s applicationRoles) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]authz.Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join application_roles ar on ar.role_id = r.id
		where ar.application_id = $1
		order by r.name
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

type grants struct{ *Store }

func (s grants) Create(ctx context.Context, userID, roleID, applicationID uuid.UUID) (authz.Grant, error) {
	var g authz.Grant
	err := s.q.QueryRowContext(ctx, `
		insert into user_role_applications (id, user_id, role_id, application_id)
		values ($1, $2, $3, $4)
		returning id, user_id, role_id, application_id, created_at
	`, uuid.New(), userID, roleID, applicationID).
		Scan(&g.ID, &g.UserID, &g.RoleID, &g.ApplicationID, &g.CreatedAt)
	if err != nil {
		return authz.Grant{}, mapWriteError(err)
	}
	return g, nil
}

// Ensure inserts the grant unless the triple already exists. The conflict
// is absorbed by the statement itself, so Ensure is safe inside an open
// transaction.
func (s grants) Ensure(ctx context.Context, userID, roleID, applicationID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
		insert into user_role_applications (id, user_id, role_id, application_id)
		values ($1, $2, $3, $4)
		on conflict (user_id, role_id, application_id) do nothing
	`, uuid.New(), userID, roleID, applicationID)
	return mapWriteError(err)
}

func (s grants) Delete(ctx context.Context, userID, roleID, applicationID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `
		delete from user_role_applications
		where user_id = $1 and role_id = $2 and application_id = $3
	`, userID, roleID, applicationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s grants) Exists(ctx context.Context, userID, roleID, applicationID uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `
		select exists(
			select 1 from user_role_applications
			where user_id = $1 and role_id = $2 and application_id = $3
		)
	`, userID, roleID, applicationID)
}

func (s grants) RolesFor(ctx context.Context, userID, applicationID uuid.UUID) ([]authz.Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from roles r
		join user_role_applications ura on ura.role_id = r.id
		where ura.user_id = $1 and ura.application_id = $2
		order by r.name
	`, userID, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func collectRoles(rows *sql.Rows) ([]authz.Role, error) {
	var result []authz.Role
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
