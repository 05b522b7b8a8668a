package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using PostgreSQL.
type TradeEventStore struct {
	pool *Pool
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(pool *Pool) *TradeEventStore {
	return &TradeEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

const tradeEventColumns = `signature, mint, slot, block_time, type, trader, token_amount, sol_amount, price, is_volume_bot, tags`

const insertTradeEvent = `
	INSERT INTO trade_events (` + tradeEventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func tradeEventArgs(e *domain.TradeEvent) []any {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		e.Signature,
		e.Mint,
		e.Slot,
		e.Timestamp,
		string(e.Type),
		e.Trader,
		e.TokenAmount,
		e.SolAmount,
		e.Price,
		e.IsVolumeBot,
		tags,
	}
}

// Insert adds one event. Returns ErrDuplicateKey if signature exists.
func (s *TradeEventStore) Insert(ctx context.Context, e *domain.TradeEvent) (err error) {
	if e == nil || e.Signature == "" || e.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("trade_events.insert", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, insertTradeEvent, tradeEventArgs(e)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// InsertBulk adds events whose signature is not yet stored, in one transaction.
func (s *TradeEventStore) InsertBulk(ctx context.Context, events []*domain.TradeEvent) (_ int, err error) {
	if len(events) == 0 {
		return 0, nil
	}
	for _, e := range events {
		if e == nil || e.Signature == "" || e.Mint == "" {
			return 0, storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("trade_events.insert_bulk", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := insertTradeEvent + ` ON CONFLICT (signature) DO NOTHING`
	inserted := 0
	for _, e := range events {
		tag, err := tx.Exec(ctx, query, tradeEventArgs(e)...)
		if err != nil {
			return 0, fmt.Errorf("insert trade event in bulk: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// GetBySignature retrieves one event. Returns ErrNotFound if not exists.
func (s *TradeEventStore) GetBySignature(ctx context.Context, signature string) (_ *domain.TradeEvent, err error) {
	defer func(start time.Time) { observe("trade_events.get", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+tradeEventColumns+` FROM trade_events WHERE signature = $1`, signature)
	e, err := scanTradeEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade event: %w", err)
	}
	return e, nil
}

// GetByMint retrieves all events for a mint, ordered by (slot, signature) ASC.
func (s *TradeEventStore) GetByMint(ctx context.Context, mint string) (_ []*domain.TradeEvent, err error) {
	defer func(start time.Time) { observe("trade_events.get_by_mint", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeEventColumns+`
		FROM trade_events
		WHERE mint = $1
		ORDER BY slot ASC, signature ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("get trade events by mint: %w", err)
	}
	defer rows.Close()

	var events []*domain.TradeEvent
	for rows.Next() {
		e, err := scanTradeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}
	return events, nil
}

func scanTradeEvent(row pgx.Row) (*domain.TradeEvent, error) {
	var e domain.TradeEvent
	var typ string
	err := row.Scan(
		&e.Signature,
		&e.Mint,
		&e.Slot,
		&e.Timestamp,
		&typ,
		&e.Trader,
		&e.TokenAmount,
		&e.SolAmount,
		&e.Price,
		&e.IsVolumeBot,
		&e.Tags,
	)
	if err != nil {
		return nil, err
	}
	e.Type = domain.TradeType(typ)
	return &e, nil
}
