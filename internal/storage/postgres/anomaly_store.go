package postgres

import (
	"context"
	"fmt"
	"time"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// AnomalyStore implements storage.AnomalyStore using PostgreSQL.
type AnomalyStore struct {
	pool *Pool
}

// NewAnomalyStore creates a new AnomalyStore.
func NewAnomalyStore(pool *Pool) *AnomalyStore {
	return &AnomalyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AnomalyStore = (*AnomalyStore)(nil)

// InsertBulk adds anomalies, skipping ids that already exist.
func (s *AnomalyStore) InsertBulk(ctx context.Context, anomalies []*domain.Anomaly) (err error) {
	if len(anomalies) == 0 {
		return nil
	}
	for _, a := range anomalies {
		if a == nil || a.ID == "" || a.Mint == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("ordering_anomalies.insert_bulk", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range anomalies {
		_, err := tx.Exec(ctx, `
			INSERT INTO ordering_anomalies (id, mint, signature, slot, wallet, kind, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Mint, a.Signature, a.Slot, a.Wallet, a.Kind, a.Detail)
		if err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByMint retrieves anomalies of a mint, ordered by (slot, id) ASC.
func (s *AnomalyStore) GetByMint(ctx context.Context, mint string) (_ []*domain.Anomaly, err error) {
	defer func(start time.Time) { observe("ordering_anomalies.get_by_mint", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, mint, signature, slot, wallet, kind, detail
		FROM ordering_anomalies
		WHERE mint = $1
		ORDER BY slot ASC, id ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("get anomalies by mint: %w", err)
	}
	defer rows.Close()

	var anomalies []*domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		if err := rows.Scan(&a.ID, &a.Mint, &a.Signature, &a.Slot, &a.Wallet, &a.Kind, &a.Detail); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		anomalies = append(anomalies, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly rows: %w", err)
	}
	return anomalies, nil
}
