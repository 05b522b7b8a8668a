package candles

import (
	"curvewatch/internal/domain"
)

// Fold builds the candle series of one timeframe from events already in
// fold order. Only buy and sell events open or touch a bucket.
func Fold(mint string, tf domain.Timeframe, events []domain.TradeEvent) []domain.Candle {
	var (
		series []domain.Candle
		lastTS int64
	)
	for i := range events {
		series, lastTS, _ = step(series, lastTS, mint, tf, &events[i])
	}
	return series
}

// step folds one event into series. lastTS is the effective timestamp of
// the previous priced event; a block time earlier than it is treated as
// lastTS so that buckets never go backwards.
func step(series []domain.Candle, lastTS int64, mint string, tf domain.Timeframe, ev *domain.TradeEvent) ([]domain.Candle, int64, bool) {
	if !ev.Type.Priced() || ev.Price <= 0 {
		return series, lastTS, false
	}
	ts := ev.Timestamp
	if len(series) > 0 && ts < lastTS {
		ts = lastTS
	}
	bucket := tf.Bucket(ts)

	n := len(series)
	if n > 0 && series[n-1].BucketStart == bucket {
		c := &series[n-1]
		c.High = max(c.High, ev.Price)
		c.Low = min(c.Low, ev.Price)
		c.Close = ev.Price
		c.Volume += ev.SolAmount
		c.Trades++
		return series, ts, true
	}

	open := ev.Price
	if n > 0 {
		open = series[n-1].Close
	}
	series = append(series, domain.Candle{
		Mint:        mint,
		Timeframe:   tf.Label,
		BucketStart: bucket,
		Open:        open,
		High:        max(open, ev.Price),
		Low:         min(open, ev.Price),
		Close:       ev.Price,
		Volume:      ev.SolAmount,
		Trades:      1,
	})
	return series, ts, true
}
