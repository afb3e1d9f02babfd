package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/placelists/placelists/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// buildBatchInsert constructs a multi-row INSERT statement. User IDs that
// are not UUIDs are stored as NULL.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(user_id, action, metadata)"
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*3)

	for i, e := range events {
		base := i * 3
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))

		var userID *uuid.UUID
		if id, err := uuid.Parse(e.UserID); err == nil {
			userID = &id
		}

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		args = append(args, userID, e.Action, metaJSON)
	}

	sql := fmt.Sprintf("INSERT INTO identity_audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}
