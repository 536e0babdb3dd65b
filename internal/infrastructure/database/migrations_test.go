package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_120000_create_things.up.sql":   {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
		"20260301_120000_create_things.down.sql": {Data: []byte("DROP TABLE things;")},
		"20260302_090000_add_labels.up.sql":      {Data: []byte("CREATE TABLE labels (id INTEGER PRIMARY KEY, label TEXT NOT NULL);")},
		"20260302_090000_add_labels.down.sql":    {Data: []byte("DROP TABLE labels;")},
		"README.md":                              {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"things", "labels"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_120000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	// Idempotent
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()
	fsys["20260303_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE nope (")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied=%d pending=%+v", len(applied), pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "labels") {
		t.Error("labels still exists after rollback")
	}
	if !tableExists(t, db, "things") {
		t.Error("things dropped by a single rollback")
	}

	_, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "20260302_090000" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestMigrateDownEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing applied", func(t *testing.T) {
		db := openTestDB(t)
		if err := db.MigrateDown(ctx, testMigrations()); err != nil {
			t.Errorf("MigrateDown() error = %v", err)
		}
	})

	t.Run("file removed", func(t *testing.T) {
		db := openTestDB(t)
		if err := db.Migrate(ctx, testMigrations()); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		err := db.MigrateDown(ctx, fstest.MapFS{})
		if !errors.Is(err, ErrMigrationNotFound) {
			t.Errorf("MigrateDown() error = %v, want ErrMigrationNotFound", err)
		}
	})

	t.Run("no down sql", func(t *testing.T) {
		db := openTestDB(t)
		fsys := fstest.MapFS{
			"20260301_120000_one_way.up.sql": {Data: []byte("CREATE TABLE one_way (id INTEGER);")},
		}
		if err := db.Migrate(ctx, fsys); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := db.MigrateDown(ctx, fsys); err == nil {
			t.Error("MigrateDown() expected error without down SQL")
		}
	})
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	if migrations[0].Name != "create_things" || migrations[1].Name != "add_labels" {
		t.Errorf("order/names = %s, %s", migrations[0].Name, migrations[1].Name)
	}
	if migrations[0].DownSQL == "" {
		t.Error("down SQL not paired with up SQL")
	}

	if m, err := LoadMigrations(nil); err != nil || m != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", m, err)
	}

	orphan := fstest.MapFS{"20260301_120000_x.down.sql": {Data: []byte("DROP TABLE x;")}}
	if _, err := LoadMigrations(orphan); err == nil {
		t.Error("LoadMigrations() expected error for down without up")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantDesc    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20260118_120000_add_email_to_users.down.sql", "20260118_120000", "add_email_to_users", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, desc, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || desc != tt.wantDesc || isUp != tt.wantIsUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, desc, isUp, tt.wantVersion, tt.wantDesc, tt.wantIsUp)
			}
		})
	}
}
