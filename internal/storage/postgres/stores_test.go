package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

func TestPostgresStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("token markets", func(t *testing.T) {
		store := NewTokenMarketStore(pool)
		m := &domain.TokenMarket{
			Mint:            "MintA",
			BondingCurve:    "CurveA",
			Vault:           "VaultA",
			Decimals:        6,
			FirstSeenSlot:   100,
			Creator:         "Dev",
			CreateSignature: "CreateSig",
			CreatedAt:       1700000000,
		}
		require.NoError(t, store.Insert(ctx, m))
		assert.ErrorIs(t, store.Insert(ctx, m), storage.ErrDuplicateKey)
		require.NoError(t, store.Insert(ctx, &domain.TokenMarket{Mint: "MintB", BondingCurve: "CurveB", Vault: "VaultB", Decimals: 6, FirstSeenSlot: 50}))

		got, err := store.GetByMint(ctx, "MintA")
		require.NoError(t, err)
		assert.Equal(t, m, got)

		_, err = store.GetByMint(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "MintB", list[0].Mint)
	})

	t.Run("trade events", func(t *testing.T) {
		store := NewTradeEventStore(pool)
		events := []*domain.TradeEvent{
			{Signature: "s2", Mint: "MintA", Slot: 101, Timestamp: 1700000001, Type: domain.TradeBuy, Trader: "W",
				TokenAmount: 1000, SolAmount: 0.1, Price: 0.0001, Tags: []string{domain.TagEarlySniper, "block_+1"}},
			{Signature: "s1", Mint: "MintA", Slot: 100, Timestamp: 1700000000, Type: domain.TradeMint, Trader: "Dev",
				TokenAmount: 1e9, Tags: []string{domain.TagMint, domain.TagDev}},
		}

		n, err := store.InsertBulk(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.InsertBulk(ctx, append(events, &domain.TradeEvent{Signature: "s3", Mint: "MintA", Slot: 102, Type: domain.TradeBurn}))
		require.NoError(t, err)
		assert.Equal(t, 1, n, "existing signatures are skipped")

		assert.ErrorIs(t, store.Insert(ctx, events[0]), storage.ErrDuplicateKey)

		got, err := store.GetByMint(ctx, "MintA")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "s1", got[0].Signature)
		assert.Equal(t, domain.TradeMint, got[0].Type)
		assert.Equal(t, []string{domain.TagEarlySniper, "block_+1"}, got[1].Tags)
		assert.Empty(t, got[2].Tags)

		one, err := store.GetBySignature(ctx, "s2")
		require.NoError(t, err)
		assert.InDelta(t, 0.0001, one.Price, 1e-12)
	})

	t.Run("positions", func(t *testing.T) {
		store := NewPositionStore(pool)
		p := &domain.Position{
			Wallet: "W", Mint: "MintA", LifetimeID: "lid", Lifetime: 2, OpenedAt: 10, UpdatedAt: 20,
			BuyCount: 2, SellCount: 1, TotalTokensBought: 10, TotalTokensSold: 4, TotalSolSpent: 1, TotalSolReceived: 0.5,
			AvgBuyPrice: 0.1, AvgSellPrice: 0.125, CurrentHolding: 6, RealizedPnl: 0.1, UnrealizedPnl: 0.2, TotalPnl: 0.3,
			RealizedPnlPercent: 10, LastPrice: 0.13, IsActive: true,
			Prior: domain.PriorLifetimes{Count: 1, TotalSolSpent: 2, TotalSolReceived: 3, RealizedPnl: 1},
		}
		require.NoError(t, store.Upsert(ctx, []*domain.Position{p}))

		p.SellCount = 2
		p.IsActive = false
		require.NoError(t, store.Upsert(ctx, []*domain.Position{p}))

		got, err := store.Get(ctx, "W", "MintA")
		require.NoError(t, err)
		assert.Equal(t, p, got)

		all, err := store.GetByMint(ctx, "MintA")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = store.Get(ctx, "X", "MintA")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("cursors", func(t *testing.T) {
		store := NewCursorStore(pool)
		_, err := store.Get(ctx, "MintA")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		c := &domain.BackfillCursor{Mint: "MintA", OldestSignature: "s1", NewestSignature: "s2", NewestTimestamp: 1700000001, UpdatedAt: 5}
		require.NoError(t, store.Put(ctx, c))
		c.Complete = true
		c.NewestSignature = "s3"
		require.NoError(t, store.Put(ctx, c))

		got, err := store.Get(ctx, "MintA")
		require.NoError(t, err)
		assert.Equal(t, c, got)
	})

	t.Run("anomalies", func(t *testing.T) {
		store := NewAnomalyStore(pool)
		batch := []*domain.Anomaly{
			{ID: "a2", Mint: "MintA", Signature: "s9", Slot: 9, Wallet: "W", Kind: domain.AnomalySellExceedsHolding, Detail: "x"},
			{ID: "a1", Mint: "MintA", Signature: "s5", Slot: 5, Wallet: "W", Kind: domain.AnomalySellWithoutPosition},
		}
		require.NoError(t, store.InsertBulk(ctx, batch))
		require.NoError(t, store.InsertBulk(ctx, batch))

		got, err := store.GetByMint(ctx, "MintA")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a1", got[0].ID)
	})
}
