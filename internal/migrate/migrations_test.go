package migrate_test

import (
	"testing"

	"flashflow/internal/db"
	"flashflow/internal/migrate"
)

func TestMigrateIsIdempotentAndVersioned(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	v, err := migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != 0 {
		t.Fatalf("fresh db version = %d, want 0", v)
	}

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err = migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v < 1 {
		t.Fatalf("migrated version = %d, want >= 1", v)
	}

	// Re-running must not error or change the version.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	again, err := migrate.SchemaVersion(conn)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if again != v {
		t.Fatalf("version changed on re-migrate: %d -> %d", v, again)
	}
}
