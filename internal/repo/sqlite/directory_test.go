package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	platformsqlite "github.com/animus-labs/dispatch-gateway/internal/platform/sqlite"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
)

func newTestStore(t *testing.T) *DirectoryStore {
	t.Helper()
	db, err := platformsqlite.Open(context.Background(), platformsqlite.Config{
		Path: filepath.Join(t.TempDir(), "directory.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewDirectoryStore(db)
}

func TestDirectoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Get(ctx, "hello-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Get() err=%v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, "hello-1", "dep-1"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := store.Put(ctx, "hello-1", "dep-2"); err != nil {
		t.Fatalf("Put() overwrite err=%v", err)
	}
	if err := store.Put(ctx, "abc", "dep-a"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	entry, err := store.Get(ctx, "hello-1")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if entry.DeploymentID != "dep-2" {
		t.Fatalf("DeploymentID=%q, want dep-2", entry.DeploymentID)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(entries) != 2 || entries[0].Name != "abc" || entries[1].Name != "hello-1" {
		t.Fatalf("List()=%v, want [abc hello-1]", entries)
	}
}

func TestDirectoryStore_RejectsEmptyID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Put(context.Background(), "hello-1", ""); err == nil {
		t.Fatalf("Put() expected error for empty deployment id")
	}
}
