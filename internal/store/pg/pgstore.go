// Package pg implements the broker's persistence on PostgreSQL via
// database/sql over the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"auctoritas.org/internal/authz"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// querier is the statement surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL-backed entity store. Entity queries run on q,
// which is the pool for the root store and the transaction inside WithinTx.
type Store struct {
	db *sql.DB
	q  querier
}

var _ authz.Store = (*Store)(nil)

// Open connects to dsn and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewStore wraps an existing handle, mainly for tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db, q: db} }

// WithinTx runs fn against a store view whose statements share one
// transaction. The nested CreateWithUser write keeps its own boundary on
// the root pool.
func (s *Store) WithinTx(ctx context.Context, fn func(authz.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", authz.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", authz.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports connectivity; the readiness probe uses it.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Applications() authz.ApplicationStore         { return applications{s} }
func (s *Store) Authenticators() authz.AuthenticatorStore     { return authenticators{s} }
func (s *Store) Bindings() authz.BindingStore                 { return bindings{s} }
func (s *Store) Users() authz.UserStore                       { return users{s} }
func (s *Store) Mappings() authz.MappingStore                 { return mappings{s} }
func (s *Store) Roles() authz.RoleStore                       { return roles{s} }
func (s *Store) Permissions() authz.PermissionStore           { return permissions{s} }
func (s *Store) PermissionRoles() authz.PermissionRoleStore   { return permissionRoles{s} }
func (s *Store) ApplicationRoles() authz.ApplicationRoleStore { return applicationRoles{s} }
func (s *Store) Grants() authz.GrantStore                     { return grants{s} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError turns constraint violations into the domain error kinds:
// a duplicate key is a conflict, a broken reference is a missing entity.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return authz.ErrConflict
		case pgErrForeignKeyViolation:
			return authz.ErrNotFound
		}
	}
	return err
}

func existsQuery(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
