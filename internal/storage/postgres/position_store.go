package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `wallet, mint, lifetime_id, lifetime, opened_at, updated_at,
	buy_count, sell_count, total_tokens_bought, total_tokens_sold, total_sol_spent, total_sol_received,
	avg_buy_price, avg_sell_price, current_holding, realized_pnl, unrealized_pnl, total_pnl,
	realized_pnl_percent, last_price, is_active,
	prior_count, prior_sol_spent, prior_sol_received, prior_realized_pnl`

const upsertPosition = `
	INSERT INTO positions (` + positionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	ON CONFLICT (wallet, mint) DO UPDATE SET
		lifetime_id = EXCLUDED.lifetime_id,
		lifetime = EXCLUDED.lifetime,
		opened_at = EXCLUDED.opened_at,
		updated_at = EXCLUDED.updated_at,
		buy_count = EXCLUDED.buy_count,
		sell_count = EXCLUDED.sell_count,
		total_tokens_bought = EXCLUDED.total_tokens_bought,
		total_tokens_sold = EXCLUDED.total_tokens_sold,
		total_sol_spent = EXCLUDED.total_sol_spent,
		total_sol_received = EXCLUDED.total_sol_received,
		avg_buy_price = EXCLUDED.avg_buy_price,
		avg_sell_price = EXCLUDED.avg_sell_price,
		current_holding = EXCLUDED.current_holding,
		realized_pnl = EXCLUDED.realized_pnl,
		unrealized_pnl = EXCLUDED.unrealized_pnl,
		total_pnl = EXCLUDED.total_pnl,
		realized_pnl_percent = EXCLUDED.realized_pnl_percent,
		last_price = EXCLUDED.last_price,
		is_active = EXCLUDED.is_active,
		prior_count = EXCLUDED.prior_count,
		prior_sol_spent = EXCLUDED.prior_sol_spent,
		prior_sol_received = EXCLUDED.prior_sol_received,
		prior_realized_pnl = EXCLUDED.prior_realized_pnl
`

// Upsert writes positions keyed by (wallet, mint) in one transaction.
func (s *PositionStore) Upsert(ctx context.Context, positions []*domain.Position) (err error) {
	if len(positions) == 0 {
		return nil
	}
	for _, p := range positions {
		if p == nil || p.Wallet == "" || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("positions.upsert", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		_, err := tx.Exec(ctx, upsertPosition,
			p.Wallet, p.Mint, p.LifetimeID, p.Lifetime, p.OpenedAt, p.UpdatedAt,
			p.BuyCount, p.SellCount, p.TotalTokensBought, p.TotalTokensSold, p.TotalSolSpent, p.TotalSolReceived,
			p.AvgBuyPrice, p.AvgSellPrice, p.CurrentHolding, p.RealizedPnl, p.UnrealizedPnl, p.TotalPnl,
			p.RealizedPnlPercent, p.LastPrice, p.IsActive,
			p.Prior.Count, p.Prior.TotalSolSpent, p.Prior.TotalSolReceived, p.Prior.RealizedPnl,
		)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get retrieves one position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(ctx context.Context, wallet, mint string) (_ *domain.Position, err error) {
	defer func(start time.Time) { observe("positions.get", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE wallet = $1 AND mint = $2`, wallet, mint)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetByMint retrieves all positions of a mint, ordered by wallet ASC.
func (s *PositionStore) GetByMint(ctx context.Context, mint string) (_ []*domain.Position, err error) {
	defer func(start time.Time) { observe("positions.get_by_mint", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE mint = $1
		ORDER BY wallet ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("get positions by mint: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.Wallet, &p.Mint, &p.LifetimeID, &p.Lifetime, &p.OpenedAt, &p.UpdatedAt,
		&p.BuyCount, &p.SellCount, &p.TotalTokensBought, &p.TotalTokensSold, &p.TotalSolSpent, &p.TotalSolReceived,
		&p.AvgBuyPrice, &p.AvgSellPrice, &p.CurrentHolding, &p.RealizedPnl, &p.UnrealizedPnl, &p.TotalPnl,
		&p.RealizedPnlPercent, &p.LastPrice, &p.IsActive,
		&p.Prior.Count, &p.Prior.TotalSolSpent, &p.Prior.TotalSolReceived, &p.Prior.RealizedPnl,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
