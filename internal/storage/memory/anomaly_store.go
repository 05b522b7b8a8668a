package memory

import (
	"context"
	"sort"
	"sync"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// AnomalyStore is an in-memory implementation of storage.AnomalyStore.
type AnomalyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Anomaly // keyed by id
}

// NewAnomalyStore creates a new in-memory anomaly store.
func NewAnomalyStore() *AnomalyStore {
	return &AnomalyStore{
		data: make(map[string]*domain.Anomaly),
	}
}

// InsertBulk adds anomalies, skipping ids that already exist.
func (s *AnomalyStore) InsertBulk(_ context.Context, anomalies []*domain.Anomaly) error {
	for _, a := range anomalies {
		if a == nil || a.ID == "" || a.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range anomalies {
		if _, exists := s.data[a.ID]; exists {
			continue
		}
		copy := *a
		s.data[a.ID] = &copy
	}
	return nil
}

// GetByMint retrieves anomalies of a mint, ordered by (slot, id) ASC.
func (s *AnomalyStore) GetByMint(_ context.Context, mint string) ([]*domain.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Anomaly
	for _, a := range s.data {
		if a.Mint == mint {
			copy := *a
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ storage.AnomalyStore = (*AnomalyStore)(nil)
