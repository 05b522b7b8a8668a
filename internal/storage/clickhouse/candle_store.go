package clickhouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// CandleStore implements storage.CandleStore using a ReplacingMergeTree
// table. Every write carries a version larger than any earlier write from
// this process, so the last upsert of a bucket survives the merge.
type CandleStore struct {
	conn    *Conn
	version atomic.Uint64
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	s := &CandleStore{conn: conn}
	s.version.Store(uint64(time.Now().UnixNano()))
	return s
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Upsert writes candles keyed by (mint, timeframe, bucket_start).
func (s *CandleStore) Upsert(ctx context.Context, candles []*domain.Candle) (err error) {
	if len(candles) == 0 {
		return nil
	}
	for _, c := range candles {
		if c == nil || c.Mint == "" || c.Timeframe == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("candles.upsert", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			mint, timeframe, bucket_start, open, high, low, close, volume, trades, version
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Mint, c.Timeframe, c.BucketStart,
			c.Open, c.High, c.Low, c.Close, c.Volume,
			uint32(c.Trades), s.version.Add(1),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetSeries retrieves one series, ordered by bucket_start ASC.
func (s *CandleStore) GetSeries(ctx context.Context, mint, timeframe string) (_ []*domain.Candle, err error) {
	defer func(start time.Time) { observe("candles.get_series", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT mint, timeframe, bucket_start, open, high, low, close, volume, trades
		FROM candles FINAL
		WHERE mint = ? AND timeframe = ?
		ORDER BY bucket_start ASC
	`, mint, timeframe)
	if err != nil {
		return nil, fmt.Errorf("query candle series: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var trades uint32
		if err := rows.Scan(&c.Mint, &c.Timeframe, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &trades); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Trades = int(trades)
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
