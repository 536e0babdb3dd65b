package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/qlc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/database"
	"github.com/nerrad567/qlc-bridge/migrations"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	log := &AuditLog{Action: "refresh", Outcome: OutcomeAccepted}
	if err := repo.Create(ctx, log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" || log.CreatedAt.IsZero() || log.Source != SourceAPI {
		t.Errorf("defaults not filled: %+v", log)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("List() = %+v, want one entry", res)
	}
	got := res.Logs[0]
	if got.ID != log.ID || got.EntityID != "" || got.Subject != "" || got.Details != nil {
		t.Errorf("stored entry = %+v", got)
	}
	if !got.CreatedAt.Equal(log.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, log.CreatedAt)
	}
}

func TestCreate_RequiresActionAndOutcome(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	for _, log := range []*AuditLog{
		{Outcome: OutcomeAccepted},
		{Action: "refresh"},
	} {
		if err := repo.Create(context.Background(), log); err == nil {
			t.Errorf("Create(%+v) should fail", log)
		}
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 21, 4, 0, 0, time.UTC)

	entries := []AuditLog{
		{Action: "set_function_status", EntityID: "3", Subject: "desk", Outcome: OutcomeAccepted,
			Details: map[string]any{"running": true}, CreatedAt: base},
		{Action: "set_blackout", Subject: "foh", Outcome: OutcomeFailed, CreatedAt: base.Add(100 * time.Millisecond)},
		{Action: "set_function_status", EntityID: "4", Subject: "desk", Outcome: OutcomeRejected, CreatedAt: base.Add(time.Second)},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all newest first", Filter{}, []string{entries[2].ID, entries[1].ID, entries[0].ID}, 3},
		{"by action", Filter{Action: "set_function_status"}, []string{entries[2].ID, entries[0].ID}, 2},
		{"by subject and outcome", Filter{Subject: "desk", Outcome: OutcomeAccepted}, []string{entries[0].ID}, 1},
		{"by entity", Filter{EntityID: "4"}, []string{entries[2].ID}, 1},
		{"paged", Filter{Limit: 1, Offset: 1}, []string{entries[1].ID}, 3},
		{"no match", Filter{Subject: "nobody"}, []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Logs) != len(tt.wantIDs) {
				t.Fatalf("got %d logs, want %d", len(res.Logs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Logs[i].ID != id {
					t.Errorf("Logs[%d].ID = %s, want %s", i, res.Logs[i].ID, id)
				}
			}
		})
	}

	res, _ := repo.List(ctx, Filter{EntityID: "3"})
	if res.Logs[0].Details["running"] != true {
		t.Errorf("Details = %v", res.Logs[0].Details)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-5, 50},
		{500, 200},
		{20, 20},
	}
	for _, tt := range tests {
		res, err := repo.List(context.Background(), Filter{Limit: tt.in, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Limit != tt.want || res.Offset != 0 {
			t.Errorf("Limit %d -> %d/%d, want %d/0", tt.in, res.Limit, res.Offset, tt.want)
		}
	}
}
