package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
)

// Classification is one persisted entity type.
type Classification struct {
	Kind           qlc.EntityKind `json:"kind"`
	EntityID       string         `json:"entity_id"`
	Classification string         `json:"classification"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ClassificationRepository stores classifications in the classifications table.
type ClassificationRepository struct {
	db *sql.DB
}

// NewClassificationRepository creates a repository over an open database.
func NewClassificationRepository(db *sql.DB) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

// validKey checks kind and id before they reach SQL.
func validKey(kind qlc.EntityKind, id string) error {
	if kind != qlc.KindFunction && kind != qlc.KindWidget {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if strings.TrimSpace(id) == "" {
		return ErrIDRequired
	}
	return nil
}

// Save inserts or replaces the classification for (kind, id).
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - kind: qlc.KindFunction or qlc.KindWidget
//   - id: Controller object id
//   - classification: Type name reported by the controller
//
// Returns:
//   - error: ErrInvalidKind, ErrIDRequired or the underlying database error
func (r *ClassificationRepository) Save(ctx context.Context, kind qlc.EntityKind, id, classification string) error {
	if err := validKey(kind, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO classifications (kind, entity_id, classification, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, entity_id) DO UPDATE SET
		     classification = excluded.classification,
		     updated_at = excluded.updated_at`,
		string(kind), id, classification, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving classification: %w", err)
	}
	return nil
}

// List returns every stored classification ordered by kind and id.
func (r *ClassificationRepository) List(ctx context.Context) ([]Classification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, entity_id, classification, updated_at
		 FROM classifications
		 ORDER BY kind, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("querying classifications: %w", err)
	}
	defer rows.Close()

	var out []Classification
	for rows.Next() {
		var c Classification
		var kind, updatedAt string
		if err := rows.Scan(&kind, &c.EntityID, &c.Classification, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning classification: %w", err)
		}
		c.Kind = qlc.EntityKind(kind)
		if c.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating classifications: %w", err)
	}
	return out, nil
}

// Forget removes every classification, typically after a project reload on
// the controller reassigns ids.
func (r *ClassificationRepository) Forget(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM classifications")
	if err != nil {
		return 0, fmt.Errorf("deleting classifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// parseTimestamp parses an RFC3339 timestamp stored by this package.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return ts, nil
}
