package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rev, err := store.Put(ctx, "offline_orders", []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	slot, err := store.Get(ctx, "offline_orders")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(slot.Value) != `[1]` || slot.Revision != 1 {
		t.Fatalf("unexpected slot: %+v", slot)
	}
	if slot.UpdatedAt.IsZero() {
		t.Fatalf("updated_at should be recorded")
	}
}

func TestStoreGetMissingSlot(t *testing.T) {
	store := newTestStore(t)
	slot, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if slot.Value != nil || slot.Revision != 0 {
		t.Fatalf("missing slot should be empty, got %+v", slot)
	}
}

func TestStorePutRejectsStaleRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "slot", []byte("a"), 0); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := store.Put(ctx, "slot", []byte("b"), 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %v", err)
	}
	slot, _ := store.Get(ctx, "slot")
	if string(slot.Value) != "a" {
		t.Fatalf("stale write must not change value, got %s", slot.Value)
	}
}

func TestStoreDeleteLeavesTombstone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rev, _ := store.Put(ctx, "slot", []byte("a"), 0)
	cleared, err := store.Delete(ctx, "slot", rev)
	if err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if cleared != rev+1 {
		t.Fatalf("delete should bump revision, got %d", cleared)
	}
	slot, _ := store.Get(ctx, "slot")
	if slot.Value != nil {
		t.Fatalf("cleared slot should have no value")
	}
	if _, err := store.Put(ctx, "slot", []byte("late"), rev); !errors.Is(err, ErrConflict) {
		t.Fatalf("writer holding pre-delete revision must conflict, got %v", err)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	store.Close()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
