package memory

import (
	"context"
	"errors"
	"testing"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

func TestPositionStore_UpsertAndGet(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	err := store.Upsert(ctx, []*domain.Position{
		{Wallet: "w2", Mint: "mint1", BuyCount: 1, CurrentHolding: 10, IsActive: true},
		{Wallet: "w1", Mint: "mint1", BuyCount: 1},
		{Wallet: "w1", Mint: "mint2", BuyCount: 1},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, []*domain.Position{
		{Wallet: "w2", Mint: "mint1", BuyCount: 1, SellCount: 1, IsActive: false},
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	p, err := store.Get(ctx, "w2", "mint1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.SellCount != 1 || p.IsActive {
		t.Errorf("upsert should replace position: %+v", p)
	}

	all, err := store.GetByMint(ctx, "mint1")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if len(all) != 2 || all[0].Wallet != "w1" || all[1].Wallet != "w2" {
		t.Errorf("unexpected positions: %+v", all)
	}

	if _, err := store.Get(ctx, "w3", "mint1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
