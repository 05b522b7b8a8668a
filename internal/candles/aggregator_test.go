package candles

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/domain"
)

const testMint = "MintAAAA"

func trade(sig string, slot, ts int64, typ domain.TradeType, price, sol float64) domain.TradeEvent {
	ev := domain.TradeEvent{
		Signature: sig,
		Mint:      testMint,
		Slot:      slot,
		Timestamp: ts,
		Type:      typ,
		Price:     price,
		SolAmount: sol,
	}
	if typ.Priced() && price > 0 {
		ev.TokenAmount = sol / price
	}
	return ev
}

// randomEvents builds a reproducible stream with monotone block times,
// several events per slot and occasional mint/burn events.
func randomEvents(seed uint64, n int) []domain.TradeEvent {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]domain.TradeEvent, 0, n+1)
	out = append(out, trade("sig-mint", 100, 1_700_000_000, domain.TradeMint, 0, 0))
	slot, ts, price := int64(100), int64(1_700_000_000), 0.00000003
	for i := 0; i < n; i++ {
		if r.IntN(3) == 0 {
			slot += int64(r.IntN(5))
			ts += int64(r.IntN(200))
		}
		typ := domain.TradeBuy
		switch r.IntN(10) {
		case 0:
			typ = domain.TradeBurn
		case 1, 2, 3, 4:
			typ = domain.TradeSell
		}
		price *= 1 + (r.Float64()-0.5)/10
		p, sol := price, r.Float64()*3
		if typ == domain.TradeBurn {
			p, sol = 0, 0
		}
		out = append(out, trade(fmt.Sprintf("sig-%04d", i), slot, ts, typ, p, sol))
	}
	return out
}

func assertGapFree(t *testing.T, series []domain.Candle) {
	t.Helper()
	for i, c := range series {
		assert.GreaterOrEqual(t, c.High, max(c.Open, c.Close), "candle %d high", i)
		assert.LessOrEqual(t, c.Low, min(c.Open, c.Close), "candle %d low", i)
		if i == 0 {
			continue
		}
		assert.Equal(t, series[i-1].Close, c.Open, "candle %d open must equal previous close", i)
		assert.Greater(t, c.BucketStart, series[i-1].BucketStart, "buckets must increase")
	}
}

func TestFold_EmptyBucketOmitted(t *testing.T) {
	events := []domain.TradeEvent{
		trade("a", 10, 0, domain.TradeBuy, 1.0, 1),
		trade("b", 20, 130, domain.TradeBuy, 1.2, 2),
	}

	series := Fold(testMint, domain.Timeframe1m, events)

	require.Len(t, series, 2)
	assert.Equal(t, int64(0), series[0].BucketStart)
	assert.Equal(t, int64(120), series[1].BucketStart)
	assert.Equal(t, 1.0, series[1].Open)
	assert.Equal(t, 1.2, series[1].High)
	assert.Equal(t, 1.0, series[1].Low)
	assert.Equal(t, 1.2, series[1].Close)
	assert.Equal(t, 2.0, series[1].Volume)
}

func TestFold_FirstCandleOpensAtFirstPrice(t *testing.T) {
	events := []domain.TradeEvent{
		trade("a", 10, 5, domain.TradeBuy, 2.0, 1),
		trade("b", 10, 6, domain.TradeSell, 1.5, 1),
		trade("c", 11, 7, domain.TradeBuy, 2.5, 1),
	}

	series := Fold(testMint, domain.Timeframe1m, events)

	require.Len(t, series, 1)
	c := series[0]
	assert.Equal(t, 2.0, c.Open)
	assert.Equal(t, 2.5, c.High)
	assert.Equal(t, 1.5, c.Low)
	assert.Equal(t, 2.5, c.Close)
	assert.Equal(t, 3, c.Trades)
	assert.InDelta(t, 3.0, c.Volume, 1e-12)
}

func TestFold_ClampsToEnforcedOpen(t *testing.T) {
	events := []domain.TradeEvent{
		trade("a", 10, 0, domain.TradeBuy, 1.0, 1),
		trade("b", 20, 60, domain.TradeBuy, 2.0, 1),
	}

	series := Fold(testMint, domain.Timeframe1m, events)

	require.Len(t, series, 2)
	assert.Equal(t, 1.0, series[1].Open)
	assert.Equal(t, 1.0, series[1].Low)
	assert.Equal(t, 2.0, series[1].High)
}

func TestFold_MintAndBurnCreateNoBucket(t *testing.T) {
	events := []domain.TradeEvent{
		trade("m", 10, 0, domain.TradeMint, 0, 0),
		trade("x", 11, 100, domain.TradeBurn, 0, 0),
	}

	assert.Empty(t, Fold(testMint, domain.Timeframe1s, events))
}

func TestFold_BackwardsBlockTimeStaysInBucket(t *testing.T) {
	events := []domain.TradeEvent{
		trade("a", 10, 61, domain.TradeBuy, 1.0, 1),
		trade("b", 11, 59, domain.TradeBuy, 1.1, 1),
	}

	series := Fold(testMint, domain.Timeframe1m, events)

	require.Len(t, series, 1)
	assert.Equal(t, int64(60), series[0].BucketStart)
	assert.Equal(t, 1.1, series[0].Close)
}

func TestFold_GapFreeAllTimeframes(t *testing.T) {
	events := randomEvents(7, 2000)
	SortEvents(events)

	for _, tf := range domain.DefaultTimeframes() {
		t.Run(tf.Label, func(t *testing.T) {
			series := Fold(testMint, tf, events)
			require.NotEmpty(t, series)
			assertGapFree(t, series)
		})
	}
}

func TestAggregator_ShuffledApplyMatchesFold(t *testing.T) {
	events := randomEvents(11, 500)
	sorted := append([]domain.TradeEvent(nil), events...)
	SortEvents(sorted)

	r := rand.New(rand.NewPCG(3, 4))
	shuffled := append([]domain.TradeEvent(nil), events...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	agg := NewAggregator(testMint, nil)
	for _, ev := range shuffled {
		_, added := agg.Apply(ev)
		require.True(t, added)
	}

	require.NoError(t, ValidateOrdering(agg.Events()))
	for _, tf := range domain.DefaultTimeframes() {
		assert.Equal(t, Fold(testMint, tf, sorted), agg.Candles(tf.Label), tf.Label)
	}
}

func TestAggregator_InOrderApplyMatchesBatch(t *testing.T) {
	events := randomEvents(5, 300)
	SortEvents(events)

	live := NewAggregator(testMint, nil)
	for _, ev := range events {
		upd, added := live.Apply(ev)
		require.True(t, added)
		require.False(t, upd.Refolded)
	}

	batch := NewAggregator(testMint, nil)
	added := batch.ApplyBatch(events)
	assert.Len(t, added, len(events))

	assert.Equal(t, batch.Snapshot(), live.Snapshot())
}

func TestAggregator_Idempotent(t *testing.T) {
	events := randomEvents(9, 200)
	agg := NewAggregator(testMint, nil)
	agg.ApplyBatch(events)
	before := agg.Snapshot()

	for _, ev := range events {
		upd, added := agg.Apply(ev)
		assert.False(t, added)
		assert.Empty(t, upd.Candles)
	}
	assert.Empty(t, agg.ApplyBatch(events))

	assert.Equal(t, before, agg.Snapshot())
	assert.Equal(t, len(events), agg.Len())
}

func TestAggregator_LateEventRefolds(t *testing.T) {
	agg := NewAggregator(testMint, []domain.Timeframe{domain.Timeframe1m})
	agg.Apply(trade("a", 10, 0, domain.TradeBuy, 1.0, 1))
	agg.Apply(trade("c", 30, 130, domain.TradeBuy, 3.0, 1))

	upd, added := agg.Apply(trade("b", 20, 70, domain.TradeSell, 2.0, 1))

	require.True(t, added)
	assert.True(t, upd.Refolded)
	series := agg.Candles("1m")
	require.Len(t, series, 3)
	assert.Equal(t, int64(60), series[1].BucketStart)
	assert.Equal(t, 1.0, series[1].Open)
	assert.Equal(t, 2.0, series[2].Open)
	assertGapFree(t, series)
}

func TestAggregator_IncrementalUpdateReturnsOpenBuckets(t *testing.T) {
	agg := NewAggregator(testMint, []domain.Timeframe{domain.Timeframe1s, domain.Timeframe1m})
	agg.Apply(trade("a", 10, 0, domain.TradeBuy, 1.0, 1))

	upd, _ := agg.Apply(trade("b", 11, 5, domain.TradeBuy, 1.5, 1))

	require.Len(t, upd.Candles, 2)
	assert.Equal(t, "1s", upd.Candles[0].Timeframe)
	assert.Equal(t, int64(5), upd.Candles[0].BucketStart)
	assert.Equal(t, "1m", upd.Candles[1].Timeframe)
	assert.Equal(t, 2, upd.Candles[1].Trades)

	upd, added := agg.Apply(trade("c", 12, 6, domain.TradeBurn, 0, 0))
	assert.True(t, added)
	assert.Empty(t, upd.Candles)
}

func TestAggregator_Accessors(t *testing.T) {
	agg := NewAggregator(testMint, nil)
	_, ok := agg.Last()
	assert.False(t, ok)
	assert.Nil(t, agg.Candles("7m"))

	agg.ApplyBatch([]domain.TradeEvent{
		trade("b", 12, 3, domain.TradeBuy, 1, 1),
		trade("a", 11, 2, domain.TradeBuy, 1, 1),
		trade("c", 13, 4, domain.TradeSell, 1, 1),
	})

	last, ok := agg.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last.Signature)
	assert.Equal(t, int64(11), agg.FirstSlot())
	recent := agg.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Signature)
	assert.Len(t, agg.Timeframes(), len(domain.DefaultTimeframes()))
	assert.True(t, agg.Has("a"))
}

func TestAggregator_RetagKeepsSeries(t *testing.T) {
	a := NewAggregator(testMint, nil)
	a.ApplyBatch(randomEvents(3, 50))
	before := a.Snapshot()

	a.Retag(func(ev *domain.TradeEvent) { ev.Tags = []string{"x-" + ev.Signature} })

	for _, ev := range a.Events() {
		assert.Equal(t, []string{"x-" + ev.Signature}, ev.Tags)
	}
	assert.Equal(t, before, a.Snapshot())
}
