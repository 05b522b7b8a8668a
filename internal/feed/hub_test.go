package feed

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/domain"
	"curvewatch/internal/ingestion"
)

const mint = "MintFeed"

var quietLogger = log.New(io.Discard, "", 0)

func candle(tf string, bucket int64, close float64) domain.Candle {
	return domain.Candle{Mint: mint, Timeframe: tf, BucketStart: bucket, Open: close, High: close, Low: close, Close: close, Trades: 1}
}

func trade(sig string, slot int64) domain.TradeEvent {
	return domain.TradeEvent{Signature: sig, Mint: mint, Slot: slot, Type: domain.TradeBuy, Price: 1, TokenAmount: 1, SolAmount: 1}
}

func resetUpdate() ingestion.Update {
	return ingestion.Update{
		Mint:      mint,
		Reset:     true,
		Candles:   []domain.Candle{candle("1m", 60, 1), candle("1m", 0, 0.5), candle("1s", 61, 1)},
		Recent:    []domain.TradeEvent{trade("a", 1), trade("b", 2)},
		Events:    []domain.TradeEvent{trade("b", 2)},
		Positions: []domain.Position{{Wallet: "w2", Mint: mint}, {Wallet: "w1", Mint: mint}},
		Status:    domain.TokenStatus{Mint: mint, State: domain.StateLive, Events: 2},
	}
}

func TestHub_SnapshotThenIncrements(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubOptions{Logger: quietLogger})
	require.NoError(t, h.Publish(ctx, resetUpdate()))

	sub := h.Subscribe(mint)
	defer h.Unsubscribe(sub)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, 1, h.Subscribers())

	snap := <-sub.C
	assert.Equal(t, MessageSnapshot, snap.Type)
	assert.Equal(t, uint64(1), snap.Seq)
	require.Len(t, snap.Candles["1m"], 2)
	assert.Equal(t, int64(0), snap.Candles["1m"][0].BucketStart, "series ordered by bucket")
	assert.Len(t, snap.Candles["1s"], 1)
	assert.Equal(t, []string{"a", "b"}, []string{snap.Trades[0].Signature, snap.Trades[1].Signature})
	assert.Equal(t, "w1", snap.Positions[0].Wallet)
	require.NotNil(t, snap.Status)
	assert.Equal(t, domain.StateLive, snap.Status.State)

	require.NoError(t, h.Publish(ctx, ingestion.Update{
		Mint:      mint,
		Events:    []domain.TradeEvent{trade("c", 3)},
		Candles:   []domain.Candle{candle("1m", 60, 2), candle("1m", 120, 3)},
		Positions: []domain.Position{{Wallet: "w1", Mint: mint, CurrentHolding: 9}},
		Status:    domain.TokenStatus{Mint: mint, State: domain.StateLive, Events: 3},
	}))
	inc := <-sub.C
	assert.Equal(t, MessageUpdate, inc.Type)
	assert.Equal(t, uint64(2), inc.Seq)
	assert.Len(t, inc.Candles["1m"], 2)
	assert.Len(t, inc.Trades, 1)

	series, ok := h.Candles(mint, "1m")
	require.True(t, ok)
	require.Len(t, series, 3)
	assert.Equal(t, []int64{0, 60, 120}, []int64{series[0].BucketStart, series[1].BucketStart, series[2].BucketStart})
	assert.Equal(t, 2.0, series[1].Close, "bucket replaced in place")

	trades, _ := h.Trades(mint, 2)
	assert.Equal(t, "c", trades[1].Signature)
	positions, _ := h.Positions(mint)
	assert.Equal(t, 9.0, positions[0].CurrentHolding)
}

func TestHub_ResetReplacesSeries(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubOptions{Logger: quietLogger})
	require.NoError(t, h.Publish(ctx, resetUpdate()))

	require.NoError(t, h.Publish(ctx, ingestion.Update{
		Mint:    mint,
		Reset:   true,
		Candles: []domain.Candle{candle("1m", 600, 4)},
		Status:  domain.TokenStatus{Mint: mint, State: domain.StateLive},
	}))
	series, _ := h.Candles(mint, "1m")
	require.Len(t, series, 1)
	assert.Equal(t, int64(600), series[0].BucketStart)
	s1, _ := h.Candles(mint, "1s")
	assert.Empty(t, s1)
	positions, _ := h.Positions(mint)
	assert.Empty(t, positions)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	h := NewHub(HubOptions{ClientBuffer: 2, Logger: quietLogger})
	slow := h.Subscribe(mint)
	fast := h.Subscribe(mint)

	// snapshot + one update fill the slow queue; the next update drops it
	for i := 0; i < 2; i++ {
		require.NoError(t, h.Publish(ctx, ingestion.Update{Mint: mint, Events: []domain.TradeEvent{trade("x", int64(i))}}))
		<-fast.C
	}
	assert.Equal(t, 1, h.Subscribers())

	var got []Message
	for m := range slow.C {
		got = append(got, m)
	}
	assert.Len(t, got, 2, "slow subscriber keeps what was queued, then its channel closes")

	h.Unsubscribe(slow) // no-op
	h.Unsubscribe(fast)
	h.Unsubscribe(fast)
	assert.Zero(t, h.Subscribers())
	_, open := <-fast.C
	for open {
		_, open = <-fast.C
	}
}

func TestHub_UnknownTokenSnapshot(t *testing.T) {
	h := NewHub(HubOptions{})
	snap, ok := h.Snapshot("nope")
	assert.False(t, ok)
	assert.Equal(t, MessageSnapshot, snap.Type)
	assert.Nil(t, snap.Status)

	_, ok = h.Candles("nope", "1m")
	assert.False(t, ok)
	assert.Empty(t, h.Mints())
}

func TestUpsertCandle(t *testing.T) {
	var s []domain.Candle
	for _, b := range []int64{60, 0, 120, 60, 30} {
		s = upsertCandle(s, candle("1m", b, float64(b)))
	}
	require.Len(t, s, 4)
	for i, want := range []int64{0, 30, 60, 120} {
		assert.Equal(t, want, s[i].BucketStart)
	}
}
