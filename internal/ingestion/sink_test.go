package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage/memory"
)

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Update) error { return f.err }

func TestStoreSink_Publish(t *testing.T) {
	ctx := context.Background()
	events := memory.NewTradeEventStore()
	candleStore := memory.NewCandleStore()
	positionStore := memory.NewPositionStore()
	anomalies := memory.NewAnomalyStore()
	sink := &StoreSink{Events: events, Candles: candleStore, Positions: positionStore, Anomalies: anomalies}

	u := Update{
		Mint: tMint,
		Events: []domain.TradeEvent{
			{Signature: "a", Mint: tMint, Slot: 1, Type: domain.TradeBuy},
			{Signature: "b", Mint: tMint, Slot: 2, Type: domain.TradeSell},
		},
		Candles: []domain.Candle{
			{Mint: tMint, Timeframe: "1m", BucketStart: 60, Open: 1, High: 2, Low: 1, Close: 2, Trades: 2},
		},
		Positions: []domain.Position{{Wallet: "w", Mint: tMint, CurrentHolding: 5, IsActive: true}},
		Anomalies: []domain.Anomaly{{ID: "x", Mint: tMint, Signature: "b", Kind: domain.AnomalySellWithoutPosition}},
	}
	require.NoError(t, sink.Publish(ctx, u))
	// republishing is idempotent
	require.NoError(t, sink.Publish(ctx, u))

	stored, err := events.GetByMint(ctx, tMint)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	series, err := candleStore.GetSeries(ctx, tMint, "1m")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 2.0, series[0].Close)

	p, err := positionStore.Get(ctx, "w", tMint)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.CurrentHolding)

	an, err := anomalies.GetByMint(ctx, tMint)
	require.NoError(t, err)
	assert.Len(t, an, 1)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	errA := errors.New("a")
	rec := newRecordingSink()
	sink := MultiSink{failingSink{errA}, nil, rec}

	err := sink.Publish(context.Background(), Update{Mint: tMint})
	assert.ErrorIs(t, err, errA)
	assert.Len(t, rec.all(), 1, "later sinks still receive the update")
}
