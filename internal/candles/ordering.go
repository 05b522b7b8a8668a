package candles

import (
	"errors"
	"sort"

	"curvewatch/internal/domain"
)

// ErrInvalidOrdering is returned when events are not in fold order.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEvents orders events by (slot ASC, mint first within a slot,
// timestamp ASC, signature ASC).
func SortEvents(events []domain.TradeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return Compare(&events[i], &events[j]) < 0
	})
}

// ValidateOrdering checks that events are strictly in fold order.
// Returns ErrInvalidOrdering if not.
func ValidateOrdering(events []domain.TradeEvent) error {
	for i := 1; i < len(events); i++ {
		if Compare(&events[i-1], &events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// Compare returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (slot ASC, mint type first, timestamp ASC, signature ASC)
func Compare(a, b *domain.TradeEvent) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	aMint, bMint := a.Type == domain.TradeMint, b.Type == domain.TradeMint
	if aMint != bMint {
		if aMint {
			return -1
		}
		return 1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	return 0
}
