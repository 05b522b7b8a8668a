package postgres

import (
	"context"
	"fmt"
	"time"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
// One row per mint in backfill_cursors.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get retrieves the cursor of a mint. Returns ErrNotFound if not exists.
func (s *CursorStore) Get(ctx context.Context, mint string) (_ *domain.BackfillCursor, err error) {
	defer func(start time.Time) { observe("backfill_cursors.get", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT mint, oldest_signature, newest_signature, newest_timestamp, complete, updated_at
		FROM backfill_cursors
		WHERE mint = $1
	`, mint)

	var c domain.BackfillCursor
	err = row.Scan(&c.Mint, &c.OldestSignature, &c.NewestSignature, &c.NewestTimestamp, &c.Complete, &c.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backfill cursor: %w", err)
	}
	return &c, nil
}

// Put creates or replaces the cursor of a mint.
func (s *CursorStore) Put(ctx context.Context, c *domain.BackfillCursor) (err error) {
	if c == nil || c.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("backfill_cursors.put", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backfill_cursors (mint, oldest_signature, newest_signature, newest_timestamp, complete, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mint) DO UPDATE
		SET oldest_signature = EXCLUDED.oldest_signature,
		    newest_signature = EXCLUDED.newest_signature,
		    newest_timestamp = EXCLUDED.newest_timestamp,
		    complete = EXCLUDED.complete,
		    updated_at = EXCLUDED.updated_at
	`, c.Mint, c.OldestSignature, c.NewestSignature, c.NewestTimestamp, c.Complete, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put backfill cursor: %w", err)
	}
	return nil
}
