package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
)

type authenticators struct{ *Store }

func (s authenticators) Create(ctx context.Context, name, authType, config string) (authz.Authenticator, error) {
	var a authz.Authenticator
	err := s.q.QueryRowContext(ctx, `
		insert into authenticators (id, name, auth_type, config, active)
		values ($1, $2, $3, $4, true)
		returning id, name, auth_type, config, active, created_at, updated_at
	`, uuid.New(), name, authType, config).
		Scan(&a.ID, &a.Name, &a.AuthType, &a.Config, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return authz.Authenticator{}, mapWriteError(err)
	}
	return a, nil
}

func (s authenticators) FindByID(ctx context.Context, id uuid.UUID) (authz.Authenticator, error) {
	return s.findBy(ctx, `where id = $1`, id)
}

func (s authenticators) FindByName(ctx context.Context, name string) (authz.Authenticator, error) {
	return s.findBy(ctx, `where name = $1`, name)
}

func (s authenticators) findBy(ctx context.Context, where string, arg any) (authz.Authenticator, error) {
	var a authz.Authenticator
	err := s.q.QueryRowContext(ctx, `
		select id, name, auth_type, config, active, created_at, updated_at
		from authenticators `+where, arg).
		Scan(&a.ID, &a.Name, &a.AuthType, &a.Config, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Authenticator{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Authenticator{}, err
	}
	return a, nil
}

func (s authenticators) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from authenticators where id = $1)`, id)
}

func (s authenticators) ExistsByName(ctx context.Context, name string) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from authenticators where name = $1)`, name)
}

func (s authenticators) List(ctx context.Context) ([]authz.Authenticator, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, name, auth_type, config, active, created_at, updated_at
		from authenticators
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Authenticator
	for rows.Next() {
		var a authz.Authenticator
		if err := rows.Scan(&a.ID, &a.Name, &a.AuthType, &a.Config, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s authenticators) Update(ctx context.Context, id uuid.UUID, name, authType, config string, active bool) (authz.Authenticator, error) {
	var a authz.Authenticator
	err := s.q.QueryRowContext(ctx, `
		update authenticators
		set name = $2, auth_type = $3, config = $4, active = $5, updated_at = now()
		where id = $1
		returning id, name, auth_type, config, active, created_at, updated_at
	`, id, name, authType, config, active).
		Scan(&a.ID, &a.Name, &a.AuthType, &a.Config, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Authenticator{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Authenticator{}, mapWriteError(err)
	}
	return a, nil
}

func (s authenticators) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `delete from authenticators where id = $1`, id)
	if err != nil {
		return mapWriteError(err)
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

type bindings struct{ *Store }

func (s bindings) Create(ctx context.Context, applicationID, authenticatorID uuid.UUID, config string, displayOrder int) (authz.Binding, error) {
	var b authz.Binding
	err := s.q.QueryRowContext(ctx, `
		insert into application_authenticators (id, application_id, authenticator_id, config, display_order, active)
		values ($1, $2, $3, $4, $5, true)
		returning id, application_id, authenticator_id, config, display_order, active, created_at
	`, uuid.New(), applicationID, authenticatorID, config, displayOrder).
		Scan(&b.ID, &b.ApplicationID, &b.AuthenticatorID, &b.Config, &b.DisplayOrder, &b.Active, &b.CreatedAt)
	if err != nil {
		return authz.Binding{}, mapWriteError(err)
	}
	return b, nil
}

func (s bindings) FindByID(ctx context.Context, id uuid.UUID) (authz.Binding, error) {
	var b authz.Binding
	err := s.q.QueryRowContext(ctx, `
		select id, application_id, authenticator_id, config, display_order, active, created_at
		from application_authenticators
		where id = $1
	`, id).Scan(&b.ID, &b.ApplicationID, &b.AuthenticatorID, &b.Config, &b.DisplayOrder, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Binding{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Binding{}, err
	}
	return b, nil
}

func (s bindings) FindByPair(ctx context.Context, applicationID, authenticatorID uuid.UUID) (authz.Binding, error) {
	var b authz.Binding
	err := s.q.QueryRowContext(ctx, `
		select id, application_id, authenticator_id, config, display_order, active, created_at
		from application_authenticators
		where application_id = $1 and authenticator_id = $2
	`, applicationID, authenticatorID).
		Scan(&b.ID, &b.ApplicationID, &b.AuthenticatorID, &b.Config, &b.DisplayOrder, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Binding{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Binding{}, err
	}
	return b, nil
}

func (s bindings) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from application_authenticators where id = $1)`, id)
}

func (s bindings) ExistsByPair(ctx context.Context, applicationID, authenticatorID uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `
		select exists(select 1 from application_authenticators where application_id = $1 and authenticator_id = $2)
	`, applicationID, authenticatorID)
}

func (s bindings) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]authz.Binding, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, application_id, authenticator_id, config, display_order, active, created_at
		from application_authenticators
		where application_id = $1
		order by display_order, created_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Binding
	for rows.Next() {
		var b authz.Binding
		if err := rows.Scan(&b.ID, &b.ApplicationID, &b.AuthenticatorID, &b.Config, &b.DisplayOrder, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s bindings) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `delete from application_authenticators where id = $1`, id)
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
