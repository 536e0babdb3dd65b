package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// historyTimeLayout is fixed-width so stored values sort chronologically.
	historyTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// Status history source values.
const (
	SourceController = "controller"
	SourceCommand    = "command"
)

// HistoryEntry is one recorded status change.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	Kind       qlc.EntityKind `json:"kind"`
	EntityID   string         `json:"entity_id"`
	Status     string         `json:"status"`
	Source     string         `json:"source"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// HistoryRepository stores status changes in the status_history table.
type HistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Ensure HistoryRepository implements qlc.StatusRecorder.
var _ qlc.StatusRecorder = (*HistoryRepository)(nil)

// NewHistoryRepository creates a repository over an open database.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

// RecordStatus appends a status change.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - kind: "function" or "widget"
//   - id: Controller object id
//   - status: Reported status, e.g. Running
//   - source: Origin of the change (controller, command); empty means controller
//
// Returns:
//   - error: ErrInvalidKind, ErrIDRequired or the underlying database error
func (r *HistoryRepository) RecordStatus(ctx context.Context, kind, id, status, source string) error {
	if err := validKey(qlc.EntityKind(kind), id); err != nil {
		return err
	}
	if source == "" {
		source = SourceController
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO status_history (kind, entity_id, status, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		kind, id, status, source, r.now().UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

// GetHistory returns recent changes for one entity, newest first.
// limit defaults to 50 and is capped at 500.
func (r *HistoryRepository) GetHistory(ctx context.Context, kind qlc.EntityKind, id string, limit int) ([]HistoryEntry, error) {
	if err := validKey(kind, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, entity_id, status, source, recorded_at
		 FROM status_history
		 WHERE kind = ? AND entity_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		string(kind), id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var k, recordedAt string
		if err := rows.Scan(&e.ID, &k, &e.EntityID, &e.Status, &e.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}
		e.Kind = qlc.EntityKind(k)
		if e.RecordedAt, err = time.Parse(historyTimeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries recorded more than olderThan ago and
// returns how many were removed.
func (r *HistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(historyTimeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM status_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting status history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
