package memory

import (
	"context"
	"sort"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

type candleKey struct {
	mint      string
	timeframe string
	bucket    int64
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]*domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]*domain.Candle),
	}
}

// Upsert writes candles keyed by (mint, timeframe, bucket_start).
func (s *CandleStore) Upsert(_ context.Context, candles []*domain.Candle) error {
	for _, c := range candles {
		if c == nil || c.Mint == "" || c.Timeframe == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		copy := *c
		s.data[candleKey{c.Mint, c.Timeframe, c.BucketStart}] = &copy
	}
	return nil
}

// GetSeries retrieves one series, ordered by bucket_start ASC.
func (s *CandleStore) GetSeries(_ context.Context, mint, timeframe string) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for k, c := range s.data {
		if k.mint == mint && k.timeframe == timeframe {
			copy := *c
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})
	return result, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
