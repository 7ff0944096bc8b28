package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
)

type applications struct{ *Store }

func (s applications) Create(ctx context.Context, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
	var app authz.Application
	row := s.q.QueryRowContext(ctx, `
		insert into applications (id, name, description, default_role_id)
		values ($1, $2, $3, $4)
		returning id, name, description, default_role_id, created_at, updated_at
	`, uuid.New(), name, description, defaultRoleID)
	if err := scanApplication(row, &app); err != nil {
		return authz.Application{}, mapWriteError(err)
	}
	return app, nil
}

func (s applications) FindByID(ctx context.Context, id uuid.UUID) (authz.Application, error) {
	var app authz.Application
	row := s.q.QueryRowContext(ctx, `
		select id, name, description, default_role_id, created_at, updated_at
		from applications
		where id = $1
	`, id)
	if err := scanApplication(row, &app); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Application{}, authz.ErrNotFound
		}
		return authz.Application{}, err
	}
	return app, nil
}

func (s applications) FindByName(ctx context.Context, name string) (authz.Application, error) {
	var app authz.Application
	row := s.q.QueryRowContext(ctx, `
		select id, name, description, default_role_id, created_at, updated_at
		from applications
		where name = $1
	`, name)
	if err := scanApplication(row, &app); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Application{}, authz.ErrNotFound
		}
		return authz.Application{}, err
	}
	return app, nil
}

func (s applications) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from applications where id = $1)`, id)
}

func (s applications) ExistsByName(ctx context.Context, name string) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from applications where name = $1)`, name)
}

func (s applications) Update(ctx context.Context, id uuid.UUID, name, description string, defaultRoleID *uuid.UUID) (authz.Application, error) {
	var app authz.Application
	row := s.q.QueryRowContext(ctx, `
		update applications
		set name = $2, description = $3, default_role_id = $4, updated_at = now()
		where id = $1
		returning id, name, description, default_role_id, created_at, updated_at
	`, id, name, description, defaultRoleID)
	if err := scanApplication(row, &app); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Application{}, authz.ErrNotFound
		}
		return authz.Application{}, mapWriteError(err)
	}
	return app, nil
}

func scanApplication(row *sql.Row, app *authz.Application) error {
	var defaultRole uuid.NullUUID
	if err := row.Scan(&app.ID, &app.Name, &app.Description, &defaultRole, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return err
	}
	if defaultRole.Valid {
		id := defaultRole.UUID
		app.DefaultRoleID = &id
	}
	return nil
}
