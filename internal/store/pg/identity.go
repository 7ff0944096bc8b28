package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
)

type users struct{ *Store }

func (s users) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return existsQuery(ctx, s.q, `select exists(select 1 from users where id = $1)`, id)
}

type mappings struct{ *Store }

// CreateWithUser provisions a user and its mapping in one transaction. A
// racing duplicate on (authenticator_id, external_hash) surfaces as
// authz.ErrConflict with nothing committed.
func (s mappings) CreateWithUser(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (authz.User, authz.Mapping, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.User{}, authz.Mapping{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var user authz.User
	err = tx.QueryRowContext(ctx, `
		insert into users (id)
		values ($1)
		returning id, created_at
	`, uuid.New()).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return authz.User{}, authz.Mapping{}, mapWriteError(err)
	}

	var mapping authz.Mapping
	err = tx.QueryRowContext(ctx, `
		insert into user_auth_mappings (id, user_id, authenticator_id, external_hash)
		values ($1, $2, $3, $4)
		returning id, user_id, authenticator_id, external_hash, created_at
	`, uuid.New(), user.ID, authenticatorID, externalHash).
		Scan(&mapping.ID, &mapping.UserID, &mapping.AuthenticatorID, &mapping.ExternalHash, &mapping.CreatedAt)
	if err != nil {
		return authz.User{}, authz.Mapping{}, mapWriteError(err)
	}

	if err := tx.Commit(); err != nil {
		return authz.User{}, authz.Mapping{}, mapWriteError(err)
	}
	return user, mapping, nil
}

func (s mappings) Create(ctx context.Context, userID, authenticatorID uuid.UUID, externalHash string) (authz.Mapping, error) {
	var mapping authz.Mapping
	err := s.q.QueryRowContext(ctx, `
		insert into user_auth_mappings (id, user_id, authenticator_id, external_hash)
		values ($1, $2, $3, $4)
		returning id, user_id, authenticator_id, external_hash, created_at
	`, uuid.New(), userID, authenticatorID, externalHash).
		Scan(&mapping.ID, &mapping.UserID, &mapping.AuthenticatorID, &mapping.ExternalHash, &mapping.CreatedAt)
	if err != nil {
		return authz.Mapping{}, mapWriteError(err)
	}
	return mapping, nil
}

func (s mappings) FindByExternal(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (authz.Mapping, error) {
	var mapping authz.Mapping
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, authenticator_id, external_hash, created_at
		from user_auth_mappings
		where authenticator_id = $1 and external_hash = $2
	`, authenticatorID, externalHash).
		Scan(&mapping.ID, &mapping.UserID, &mapping.AuthenticatorID, &mapping.ExternalHash, &mapping.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Mapping{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Mapping{}, err
	}
	return mapping, nil
}

func (s mappings) ExistsByExternal(ctx context.Context, authenticatorID uuid.UUID, externalHash string) (bool, error) {
	return existsQuery(ctx, s.q, `
		select exists(select 1 from user_auth_mappings where authenticator_id = $1 and external_hash = $2)
	`, authenticatorID, externalHash)
}

func (s mappings) ListByUser(ctx context.Context, userID uuid.UUID) ([]authz.Mapping, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, user_id, authenticator_id, external_hash, created_at
		from user_auth_mappings
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Mapping
	for rows.Next() {
		var mapping authz.Mapping
		if err := rows.Scan(&mapping.ID, &mapping.UserID, &mapping.AuthenticatorID, &mapping.ExternalHash, &mapping.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s mappings) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `delete from user_auth_mappings where id = $1`, id)
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
