package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/offline-hub/offline-hub/internal/storage"
)

func TestQueueAppendAddsMetadata(t *testing.T) {
	queue := newTestQueue(t)
	fixed := time.UnixMilli(1700000000123)
	queue.now = func() time.Time { return fixed }

	rec, err := queue.Append(context.Background(), map[string]any{"product": "suman", "offline": false})
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	if rec.Timestamp != fixed.UnixMilli() || !rec.Offline || rec.ID == "" {
		t.Fatalf("unexpected record metadata: %+v", rec)
	}

	snap, err := queue.Load(context.Background())
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].Fields["product"] != "suman" {
		t.Fatalf("unexpected queue contents: %+v", snap.Records)
	}
	if !snap.Records[0].Offline {
		t.Fatalf("caller supplied offline flag must be overridden")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := queue.Append(ctx, map[string]any{"name": name}); err != nil {
			t.Fatalf("append error: %v", err)
		}
	}
	snap, _ := queue.Load(ctx)
	for i, name := range []string{"a", "b", "c"} {
		if snap.Records[i].Fields["name"] != name {
			t.Fatalf("order mismatch at %d: %+v", i, snap.Records)
		}
	}
}

func TestCompareAndClearKeepsOrdersAppendedAfterSnapshot(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	queue.Append(ctx, map[string]any{"name": "first"})
	snap, _ := queue.Load(ctx)
	queue.Append(ctx, map[string]any{"name": "late"})

	if err := queue.CompareAndClear(ctx, snap); err != nil {
		t.Fatalf("compare and clear error: %v", err)
	}
	after, _ := queue.Load(ctx)
	if len(after.Records) != 1 || after.Records[0].Fields["name"] != "late" {
		t.Fatalf("late order should survive, got %+v", after.Records)
	}
}

func TestQueueClear(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()
	queue.Append(ctx, map[string]any{"name": "x"})
	if err := queue.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	snap, _ := queue.Load(ctx)
	if !snap.Empty() {
		t.Fatalf("queue should be empty after clear")
	}
	if err := queue.Clear(ctx); err != nil {
		t.Fatalf("clearing an empty queue should succeed: %v", err)
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewQueue(store, "offline_orders")
}
