package storage

import (
	"context"

	"curvewatch/internal/domain"
)

// TokenMarketStore provides access to token_markets storage.
type TokenMarketStore interface {
	// Insert adds a new market. Returns ErrDuplicateKey if mint exists.
	Insert(ctx context.Context, m *domain.TokenMarket) error

	// GetByMint retrieves a market by mint. Returns ErrNotFound if not exists.
	GetByMint(ctx context.Context, mint string) (*domain.TokenMarket, error)

	// List retrieves all markets, ordered by first_seen_slot ASC.
	List(ctx context.Context) ([]*domain.TokenMarket, error)
}

// TradeEventStore provides access to trade_events storage.
type TradeEventStore interface {
	// Insert adds one event. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, e *domain.TradeEvent) error

	// InsertBulk adds events whose signature is not yet stored and returns
	// how many were inserted. Existing signatures are skipped, not errors.
	InsertBulk(ctx context.Context, events []*domain.TradeEvent) (int, error)

	// GetBySignature retrieves one event. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.TradeEvent, error)

	// GetByMint retrieves all events for a mint, ordered by (slot, signature) ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.TradeEvent, error)
}

// CandleStore provides access to candles storage.
type CandleStore interface {
	// Upsert writes candles keyed by (mint, timeframe, bucket_start); a later
	// write for the same key replaces the earlier one.
	Upsert(ctx context.Context, candles []*domain.Candle) error

	// GetSeries retrieves one series, ordered by bucket_start ASC.
	GetSeries(ctx context.Context, mint, timeframe string) ([]*domain.Candle, error)
}

// PositionStore provides access to positions storage. Positions are never deleted.
type PositionStore interface {
	// Upsert writes positions keyed by (wallet, mint).
	Upsert(ctx context.Context, positions []*domain.Position) error

	// Get retrieves one position. Returns ErrNotFound if not exists.
	Get(ctx context.Context, wallet, mint string) (*domain.Position, error)

	// GetByMint retrieves all positions of a mint, ordered by wallet ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.Position, error)
}

// CursorStore provides access to backfill_cursors storage.
type CursorStore interface {
	// Get retrieves the cursor of a mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.BackfillCursor, error)

	// Put creates or replaces the cursor of a mint.
	Put(ctx context.Context, c *domain.BackfillCursor) error
}

// AnomalyStore provides access to ordering_anomalies storage.
type AnomalyStore interface {
	// InsertBulk adds anomalies, skipping ids that already exist.
	InsertBulk(ctx context.Context, anomalies []*domain.Anomaly) error

	// GetByMint retrieves anomalies of a mint, ordered by (slot, id) ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.Anomaly, error)
}
