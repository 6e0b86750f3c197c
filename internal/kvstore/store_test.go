package kvstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"batchvec/internal/kvstore"
)

func openTestStore(t *testing.T) (*kvstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batchvec.db")
	store, err := kvstore.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSetGetDelete(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "a", "2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	value, ok, err := store.Get(ctx, "a")
	if err != nil || !ok || value != "2" {
		t.Fatalf("expected a=2, got %q ok=%v err=%v", value, ok, err)
	}
	if err := store.Set(ctx, "b", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "a", "b", "never"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "b"); ok {
		t.Fatal("expected b to be deleted")
	}
	if err := store.Set(ctx, " ", "x"); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestJSONRoundTripAndKeys(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	type snapshot struct {
		IsPaused bool     `json:"isPaused"`
		Names    []string `json:"names"`
	}
	if err := store.SetJSON(ctx, "alarm:autoPauseResume", snapshot{IsPaused: true, Names: []string{"a.png"}}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := store.SetJSON(ctx, "alarm:other", 1); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := store.SetJSON(ctx, "settings", map[string]any{"delay": 5}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got snapshot
	ok, err := store.GetJSON(ctx, "alarm:autoPauseResume", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON: ok=%v err=%v", ok, err)
	}
	if !got.IsPaused || len(got.Names) != 1 || got.Names[0] != "a.png" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	keys, err := store.Keys(ctx, "alarm:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "alarm:autoPauseResume" || keys[1] != "alarm:other" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := store.Set(ctx, "broken", "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.GetJSON(ctx, "broken", &got); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestReopenPersistsValues(t *testing.T) {
	store, path := openTestStore(t)
	if err := store.Set(context.Background(), "persistedQueue", `{"queue":[]}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = store.Close()

	reopened, err := kvstore.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, ok, err := reopened.Get(context.Background(), "persistedQueue")
	if err != nil || !ok || value != `{"queue":[]}` {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	store, path := openTestStore(t)
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = kvstore.OpenPath(path)
	if !errors.Is(err, kvstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenEnablesWAL(t *testing.T) {
	_, path := openTestStore(t)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}
