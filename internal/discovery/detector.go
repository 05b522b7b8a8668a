package discovery

import (
	"context"
	"errors"

	"curvewatch/internal/domain"
	"curvewatch/internal/solana"
	"curvewatch/internal/storage"
)

// Detector turns create transactions into newly seen markets.
type Detector struct {
	programID   string
	seenMints   map[string]bool
	marketStore storage.TokenMarketStore
}

// NewDetector creates a detector for programID backed by store. A nil
// store keeps seen mints in memory only.
func NewDetector(programID string, store storage.TokenMarketStore) *Detector {
	return &Detector{
		programID:   programID,
		seenMints:   make(map[string]bool),
		marketStore: store,
	}
}

// Warm loads every stored market into the seen cache.
func (d *Detector) Warm(ctx context.Context) ([]*domain.TokenMarket, error) {
	if d.marketStore == nil {
		return nil, nil
	}
	markets, err := d.marketStore.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		d.seenMints[m.Mint] = true
	}
	return markets, nil
}

// ProcessTransaction stores the market created by tx. Returns the market,
// or nil if tx creates no market or the mint was already seen.
func (d *Detector) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*domain.TokenMarket, error) {
	m, err := ParseCreate(tx, d.programID)
	if err != nil {
		if errors.Is(err, ErrNoCreateInstruction) {
			return nil, nil
		}
		return nil, err
	}

	// Check in-memory cache first
	if d.seenMints[m.Mint] {
		return nil, nil
	}

	if d.marketStore == nil {
		d.seenMints[m.Mint] = true
		return m, nil
	}

	err = d.marketStore.Insert(ctx, m)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// another process inserted first
			d.seenMints[m.Mint] = true
			return nil, nil
		}
		return nil, err
	}

	d.seenMints[m.Mint] = true
	return m, nil
}

// Seen reports whether mint was already discovered.
func (d *Detector) Seen(mint string) bool {
	return d.seenMints[mint]
}

// Reset clears the in-memory seen mints cache.
func (d *Detector) Reset() {
	d.seenMints = make(map[string]bool)
}
