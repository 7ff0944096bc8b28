// Package migrate applies SQL migration and seed files stored on disk.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultHistoryTable = "schema_history"

	// Advisory lock key shared by every runner against the same database.
	// Serializes concurrent API replicas racing to migrate on boot.
	lockKey = 0x61757468 // "auth"

	kindMigration = "migration"
	kindSeed      = "seed"
)

// Record is one applied entry in the history ledger.
type Record struct {
	Name      string
	Kind      string
	Checksum  string
	AppliedAt time.Time
}

// Runner executes .up.sql/.down.sql migrations and idempotent seed files,
// tracking both in a single history table.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
	table         string
}

// Option configures Runner.
type Option func(*Runner)

// WithHistoryTable overrides the default ledger table name.
func WithHistoryTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.table = name
		}
	}
}

// NewRunner constructs a Runner over the given directories.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Runner {
	r := &Runner{
		db:            db,
		migrationsDir: migrationsDir,
		seedsDir:      seedsDir,
		table:         defaultHistoryTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs every pending migration in name order. Already-applied files
// are verified against their recorded checksum so silent edits fail loudly.
func (r *Runner) Apply(ctx context.Context) error {
	return r.withLock(ctx, func() error {
		applied, err := r.records(ctx, kindMigration)
		if err != nil {
			return err
		}
		byName := make(map[string]Record, len(applied))
		for _, rec := range applied {
			byName[rec.Name] = rec
		}

		files, err := collectSQL(r.migrationsDir, ".up.sql")
		if err != nil {
			return err
		}
		for _, f := range files {
			sum, err := checksumFile(f.Path)
			if err != nil {
				return err
			}
			if rec, ok := byName[f.Base]; ok {
				if rec.Checksum != sum {
					return fmt.Errorf("migration %s changed after apply (checksum %s, recorded %s)", f.Base, sum, rec.Checksum)
				}
				continue
			}
			if err := r.execFile(ctx, f.Path); err != nil {
				return fmt.Errorf("apply migration %s: %w", f.Base, err)
			}
			if err := r.insertRecord(ctx, f.Base, kindMigration, sum); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rollback reverts the most recently applied migration using its .down.sql
// counterpart.
func (r *Runner) Rollback(ctx context.Context) error {
	return r.withLock(ctx, func() error {
		applied, err := r.records(ctx, kindMigration)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return errors.New("no migrations applied")
		}
		last := applied[len(applied)-1]
		downPath := strings.TrimSuffix(filepath.Join(r.migrationsDir, last.Name), ".up.sql") + ".down.sql"
		if _, err := os.Stat(downPath); err != nil {
			return fmt.Errorf("missing down migration for %s", last.Name)
		}
		if err := r.execFile(ctx, downPath); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last.Name, err)
		}
		_, err = r.db.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where name = $1 and kind = $2`, r.table),
			last.Name, kindMigration)
		return err
	})
}

// Seed applies pending seed files. Seeds run once; re-running Seed after new
// files land applies only the new ones.
func (r *Runner) Seed(ctx context.Context) error {
	return r.withLock(ctx, func() error {
		applied, err := r.records(ctx, kindSeed)
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(applied))
		for _, rec := range applied {
			done[rec.Name] = true
		}

		files, err := collectSQL(r.seedsDir, ".sql")
		if err != nil {
			return err
		}
		for _, f := range files {
			if done[f.Base] {
				continue
			}
			sum, err := checksumFile(f.Path)
			if err != nil {
				return err
			}
			if err := r.execFile(ctx, f.Path); err != nil {
				return fmt.Errorf("apply seed %s: %w", f.Base, err)
			}
			if err := r.insertRecord(ctx, f.Base, kindSeed, sum); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns every applied entry, migrations and seeds, in apply order.
func (r *Runner) History(ctx context.Context) ([]Record, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	return r.records(ctx, "")
}

func (r *Runner) withLock(ctx context.Context, fn func() error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey)
	}()
	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	return fn()
}

func (r *Runner) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text not null,
			kind text not null,
			checksum text not null default '',
			applied_at timestamptz not null default now(),
			primary key (name, kind)
		);`, r.table)
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *Runner) records(ctx context.Context, kind string) ([]Record, error) {
	query := fmt.Sprintf(`select name, kind, checksum, applied_at from %s`, r.table)
	args := []any{}
	if kind != "" {
		query += ` where kind = $1`
		args = append(args, kind)
	}
	query += ` order by applied_at asc, name asc`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.Kind, &rec.Checksum, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Runner) insertRecord(ctx context.Context, name, kind, checksum string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, kind, checksum, applied_at) values ($1, $2, $3, $4)`, r.table),
		name, kind, checksum, time.Now().UTC())
	return err
}

// execFile runs one SQL file inside a single transaction.
func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func checksumFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: d.Name(), Path: path})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements breaks a SQL file on semicolons outside single-quoted
// strings. Line comments are stripped so a semicolon in a comment does not
// split a statement.
func splitStatements(input string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	lines := strings.Split(input, "\n")
	for _, line := range lines {
		if !inString {
			if idx := strings.Index(line, "--"); idx >= 0 && !strings.Contains(line[:idx], "'") {
				line = line[:idx]
			}
		}
		for _, r := range line {
			switch r {
			case '\'':
				inString = !inString
				current.WriteRune(r)
			case ';':
				current.WriteRune(r)
				if !inString {
					stmts = append(stmts, current.String())
					current.Reset()
				}
			default:
				current.WriteRune(r)
			}
		}
		current.WriteRune('\n')
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
