package memory

import (
	"context"
	"sort"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// TokenMarketStore is an in-memory implementation of storage.TokenMarketStore.
type TokenMarketStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TokenMarket // keyed by mint
}

// NewTokenMarketStore creates a new in-memory token market store.
func NewTokenMarketStore() *TokenMarketStore {
	return &TokenMarketStore{
		data: make(map[string]*domain.TokenMarket),
	}
}

// Insert adds a new market. Returns ErrDuplicateKey if mint exists.
func (s *TokenMarketStore) Insert(_ context.Context, m *domain.TokenMarket) error {
	if m == nil || m.Mint == "" || m.BondingCurve == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *m
	s.data[m.Mint] = &copy
	return nil
}

// GetByMint retrieves a market by mint. Returns ErrNotFound if not exists.
func (s *TokenMarketStore) GetByMint(_ context.Context, mint string) (*domain.TokenMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *m
	return &copy, nil
}

// List retrieves all markets, ordered by first_seen_slot ASC.
func (s *TokenMarketStore) List(_ context.Context) ([]*domain.TokenMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TokenMarket, 0, len(s.data))
	for _, m := range s.data {
		copy := *m
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].FirstSeenSlot != result[j].FirstSeenSlot {
			return result[i].FirstSeenSlot < result[j].FirstSeenSlot
		}
		return result[i].Mint < result[j].Mint
	})
	return result, nil
}

var _ storage.TokenMarketStore = (*TokenMarketStore)(nil)
