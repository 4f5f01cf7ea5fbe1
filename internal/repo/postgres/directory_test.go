package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/animus-labs/dispatch-gateway/internal/repo"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestNewDirectoryStore_NilDB(t *testing.T) {
	if store := NewDirectoryStore(nil); store != nil {
		t.Fatalf("expected nil store for nil db")
	}
	var store *DirectoryStore
	if err := store.Put(context.Background(), "hello-1", "dep-1"); err == nil {
		t.Fatalf("expected error from uninitialized store")
	}
}

func TestUpsertEntrySQL_LastWriteWins(t *testing.T) {
	if !strings.Contains(upsertEntrySQL, "ON CONFLICT (unit_name) DO UPDATE") {
		t.Fatalf("upsert must overwrite existing entries: %s", upsertEntrySQL)
	}
	if !strings.Contains(listEntriesSQL, "ORDER BY unit_name") {
		t.Fatalf("list must be ordered by name: %s", listEntriesSQL)
	}
}

func TestHandleNotFound(t *testing.T) {
	if err := handleNotFound(sql.ErrNoRows); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("handleNotFound(ErrNoRows)=%v, want ErrNotFound", err)
	}
	other := errors.New("conn reset")
	if err := handleNotFound(other); err != other {
		t.Fatalf("handleNotFound() must pass through other errors")
	}
}

// TestDirectoryStore_Postgres runs against a live database when
// GATEWAY_TEST_DATABASE_URL points at one with migrations applied.
func TestDirectoryStore_Postgres(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("GATEWAY_TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("GATEWAY_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	store := NewDirectoryStore(db)
	if err := store.Put(ctx, "pg-test-unit", "dep-1"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := store.Put(ctx, "pg-test-unit", "dep-2"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	entry, err := store.Get(ctx, "pg-test-unit")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if entry.DeploymentID != "dep-2" {
		t.Fatalf("DeploymentID=%q, want dep-2", entry.DeploymentID)
	}
	if _, err := store.Get(ctx, "pg-test-missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Get() err=%v, want ErrNotFound", err)
	}
}
