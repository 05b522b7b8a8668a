package memory

import (
	"context"
	"errors"
	"testing"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

func TestCursorStore_PutAndGet(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "mint1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	c := &domain.BackfillCursor{Mint: "mint1", OldestSignature: "old", NewestSignature: "new1", NewestTimestamp: 10}
	if err := store.Put(ctx, c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	c.NewestSignature = "new2"
	c.Complete = true
	if err := store.Put(ctx, c); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "mint1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.NewestSignature != "new2" || !got.Complete || got.OldestSignature != "old" {
		t.Errorf("unexpected cursor: %+v", got)
	}

	if err := store.Put(ctx, &domain.BackfillCursor{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
