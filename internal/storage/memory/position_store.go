package memory

import (
	"context"
	"sort"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by wallet|mint
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

func positionKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// Upsert writes positions keyed by (wallet, mint).
func (s *PositionStore) Upsert(_ context.Context, positions []*domain.Position) error {
	for _, p := range positions {
		if p == nil || p.Wallet == "" || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		copy := *p
		s.data[positionKey(p.Wallet, p.Mint)] = &copy
	}
	return nil
}

// Get retrieves one position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(_ context.Context, wallet, mint string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionKey(wallet, mint)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// GetByMint retrieves all positions of a mint, ordered by wallet ASC.
func (s *PositionStore) GetByMint(_ context.Context, mint string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Mint == mint {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Wallet < result[j].Wallet
	})
	return result, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
