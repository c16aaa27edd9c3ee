package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"github.com/rudransh-shrivastava/peer-share/internal/store"
)

func setupTestDB(t *testing.T) *store.TransferStore {
	t.Helper()
	gormDB, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return store.NewTransferStore(gormDB)
}

func TestTransferStore_Record(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	rec, err := ts.Record(ctx, db.TransferRecord{
		Direction: "send",
		FileName:  "photo.jpg",
		Size:      2048,
		Bytes:     2048,
		PeerID:    "los-abc123def",
		StartedAt: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if rec.Status != db.StatusCompleted {
		t.Errorf("expected default status %q, got %q", db.StatusCompleted, rec.Status)
	}

	got, err := ts.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FileName != "photo.jpg" {
		t.Errorf("expected name 'photo.jpg', got %q", got.FileName)
	}
	if got.Size != 2048 {
		t.Errorf("expected size 2048, got %d", got.Size)
	}
}

func TestTransferStore_Get_NotFound(t *testing.T) {
	ts := setupTestDB(t)

	_, err := ts.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransferStore_List(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	records := []db.TransferRecord{
		{Direction: "send", FileName: "a.txt", PeerID: "los-1", StartedAt: base},
		{Direction: "receive", FileName: "b.txt", PeerID: "los-2", StartedAt: base.Add(time.Minute)},
		{Direction: "send", FileName: "c.txt", PeerID: "los-2", Status: db.StatusFailed, Error: "channel closed", StartedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		if _, err := ts.Record(ctx, r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := ts.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].FileName != "c.txt" {
		t.Errorf("expected newest record first, got %q", all[0].FileName)
	}

	sent, err := ts.List(ctx, store.Filter{Direction: "send"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sent) != 2 {
		t.Errorf("expected 2 sent records, got %d", len(sent))
	}

	failed, err := ts.List(ctx, store.Filter{PeerID: "los-2", Status: db.StatusFailed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "channel closed" {
		t.Errorf("expected the failed transfer, got %+v", failed)
	}

	limited, err := ts.List(ctx, store.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 record, got %d", len(limited))
	}
}

func TestTransferStore_Clear(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if _, err := ts.Record(ctx, db.TransferRecord{Direction: "send", FileName: name}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	n, err := ts.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows removed, got %d", n)
	}

	all, err := ts.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty history, got %d", len(all))
	}
}
