package memory

import (
	"context"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BackfillCursor // keyed by mint
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]*domain.BackfillCursor),
	}
}

// Get retrieves the cursor of a mint. Returns ErrNotFound if not exists.
func (s *CursorStore) Get(_ context.Context, mint string) (*domain.BackfillCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// Put creates or replaces the cursor of a mint.
func (s *CursorStore) Put(_ context.Context, c *domain.BackfillCursor) error {
	if c == nil || c.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	s.data[c.Mint] = &copy
	return nil
}

var _ storage.CursorStore = (*CursorStore)(nil)
