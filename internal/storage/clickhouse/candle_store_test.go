package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

func TestCandleStore_UpsertReplacesBucket(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(conn)

	err := store.Upsert(ctx, []*domain.Candle{
		{Mint: "MintA", Timeframe: "1m", BucketStart: 120, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1, Trades: 1},
		{Mint: "MintA", Timeframe: "1m", BucketStart: 60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Trades: 1},
		{Mint: "MintA", Timeframe: "1s", BucketStart: 60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, Trades: 1},
	})
	require.NoError(t, err)

	// open bucket keeps changing while trades arrive
	require.NoError(t, store.Upsert(ctx, []*domain.Candle{
		{Mint: "MintA", Timeframe: "1m", BucketStart: 120, Open: 1, High: 3, Low: 1, Close: 3, Volume: 2.5, Trades: 2},
	}))

	series, err := store.GetSeries(ctx, "MintA", "1m")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(60), series[0].BucketStart)
	assert.Equal(t, int64(120), series[1].BucketStart)
	assert.Equal(t, 3.0, series[1].Close)
	assert.Equal(t, 2, series[1].Trades)
	assert.InDelta(t, 2.5, series[1].Volume, 1e-12)

	other, err := store.GetSeries(ctx, "MintA", "1s")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestCandleStore_InvalidInput(t *testing.T) {
	store := NewCandleStore(nil)
	err := store.Upsert(context.Background(), []*domain.Candle{{Mint: "MintA"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.NoError(t, store.Upsert(context.Background(), nil))
}
