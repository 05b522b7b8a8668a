package memory

import (
	"context"
	"testing"

	"curvewatch/internal/domain"
)

func TestAnomalyStore_InsertBulkIdempotent(t *testing.T) {
	store := NewAnomalyStore()
	ctx := context.Background()

	batch := []*domain.Anomaly{
		{ID: "b", Mint: "mint1", Slot: 20, Kind: domain.AnomalySellExceedsHolding},
		{ID: "a", Mint: "mint1", Slot: 10, Kind: domain.AnomalySellWithoutPosition},
	}
	for i := 0; i < 2; i++ {
		if err := store.InsertBulk(ctx, batch); err != nil {
			t.Fatalf("InsertBulk failed: %v", err)
		}
	}

	got, err := store.GetByMint(ctx, "mint1")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" {
		t.Errorf("unexpected anomalies: %+v", got)
	}
}
