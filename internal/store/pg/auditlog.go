package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"auctoritas.org/internal/audit"
)

// AuditStore appends audit records. Event types live in their own table and
// are created on first use, so new event names need no migration.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore wraps the shared handle.
func NewAuditStore(s *Store) *AuditStore { return &AuditStore{db: s.db} }

// Append writes one audit row.
func (s *AuditStore) Append(ctx context.Context, e audit.Event) error {
	typeID, err := s.eventTypeID(ctx, e.Type)
	if err != nil {
		return fmt.Errorf("resolve event type %q: %w", e.Type, err)
	}

	metaJSON := []byte("{}")
	if len(e.Metadata) > 0 {
		metaJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	var userID any
	if e.UserID != nil {
		userID = *e.UserID
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, user_id, event_type_id, application_name, description, metadata, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, userID, typeID, e.ApplicationName, e.Description, metaJSON, e.OccurredAt)
	return err
}

// eventTypeID finds or creates the audit_event_types row for name. The
// insert tolerates a racing creator and re-reads.
func (s *AuditStore) eventTypeID(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `select id from audit_event_types where name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		insert into audit_event_types (id, name)
		values ($1, $2)
		on conflict (name) do nothing
	`, uuid.New(), name); err != nil {
		return uuid.Nil, err
	}
	if err := s.db.QueryRowContext(ctx, `select id from audit_event_types where name = $1`, name).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
