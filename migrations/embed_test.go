package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/qlc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/database"
)

func TestEmbeddedMigrationsApplyAndRollBack(t *testing.T) {
	ctx := context.Background()

	all, err := database.LoadMigrations(FS)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, m := range all {
		if m.DownSQL == "" {
			t.Errorf("migration %s (%s) has no down SQL", m.Version, m.Name)
		}
	}

	db, err := database.Open(ctx, config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "m.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for range all {
		if err := db.MigrateDown(ctx, FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	// Re-applying after a full rollback proves the down files are complete.
	if err := db.Migrate(ctx, FS); err != nil {
		t.Fatalf("Migrate() after rollback error = %v", err)
	}
}
