package memory

import (
	"context"
	"sort"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by signature
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

func validEvent(e *domain.TradeEvent) bool {
	return e != nil && e.Signature != "" && e.Mint != ""
}

func cloneEvent(e *domain.TradeEvent) *domain.TradeEvent {
	copy := *e
	copy.Tags = append([]string(nil), e.Tags...)
	return &copy
}

// Insert adds one event. Returns ErrDuplicateKey if signature exists.
func (s *TradeEventStore) Insert(_ context.Context, e *domain.TradeEvent) error {
	if !validEvent(e) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[e.Signature] = cloneEvent(e)
	return nil
}

// InsertBulk adds events whose signature is not yet stored.
func (s *TradeEventStore) InsertBulk(_ context.Context, events []*domain.TradeEvent) (int, error) {
	for _, e := range events {
		if !validEvent(e) {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if _, exists := s.data[e.Signature]; exists {
			continue
		}
		s.data[e.Signature] = cloneEvent(e)
		inserted++
	}
	return inserted, nil
}

// GetBySignature retrieves one event. Returns ErrNotFound if not exists.
func (s *TradeEventStore) GetBySignature(_ context.Context, signature string) (*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEvent(e), nil
}

// GetByMint retrieves all events for a mint, ordered by (slot, signature) ASC.
func (s *TradeEventStore) GetByMint(_ context.Context, mint string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.data {
		if e.Mint == mint {
			result = append(result, cloneEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].Signature < result[j].Signature
	})
	return result, nil
}

var _ storage.TradeEventStore = (*TradeEventStore)(nil)
