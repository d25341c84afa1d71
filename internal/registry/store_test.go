package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/sitesmith/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreRoundtrip(t *testing.T) {
	store := newTestStore(t)
	record := schema.SessionRecord{
		ID:        "sess-1",
		Prompt:    "landing page for a bakery",
		Status:    schema.StatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Set(record); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !store.Contains("sess-1") {
		t.Fatalf("expected record to exist")
	}
	got, err := store.Get("sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != record.ID || got.Prompt != record.Prompt || got.Status != record.Status {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("absent"); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreDeleteTolerant(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("absent"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	record := schema.SessionRecord{ID: "sess-2", Status: schema.StatusCompleted}
	if err := store.Set(record); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete("sess-2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Contains("sess-2") {
		t.Fatalf("expected record removed")
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()
	for i, id := range []schema.SessionID{"old", "mid", "new"} {
		record := schema.SessionRecord{
			ID:        id,
			Status:    schema.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Set(record); err != nil {
			t.Fatalf("Set %s: %v", id, err)
		}
	}
	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ID != "new" || records[2].ID != "old" {
		t.Fatalf("unexpected order: %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestStoreListSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set(schema.SessionRecord{ID: "good"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].ID != "good" {
		t.Fatalf("expected only the valid record, got %+v", records)
	}
}

func TestSanitizePath(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set(schema.SessionRecord{ID: "../../etc/passwd"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	path := store.pathFor("../../etc/passwd")
	if filepath.Dir(path) != store.dir {
		t.Fatalf("sanitized path escaped store dir: %s", path)
	}
}
