package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curvewatch/internal/domain"
	"curvewatch/internal/storage"
)

// TokenMarketStore implements storage.TokenMarketStore using PostgreSQL.
type TokenMarketStore struct {
	pool *Pool
}

// NewTokenMarketStore creates a new TokenMarketStore.
func NewTokenMarketStore(pool *Pool) *TokenMarketStore {
	return &TokenMarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenMarketStore = (*TokenMarketStore)(nil)

const tokenMarketColumns = `mint, bonding_curve, vault, decimals, first_seen_slot, creator, create_signature, created_at`

// Insert adds a new market. Returns ErrDuplicateKey if mint exists.
func (s *TokenMarketStore) Insert(ctx context.Context, m *domain.TokenMarket) (err error) {
	if m == nil || m.Mint == "" || m.BondingCurve == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("token_markets.insert", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO token_markets (`+tokenMarketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		m.Mint,
		m.BondingCurve,
		m.Vault,
		m.Decimals,
		m.FirstSeenSlot,
		m.Creator,
		m.CreateSignature,
		m.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token market: %w", err)
	}
	return nil
}

// GetByMint retrieves a market by mint. Returns ErrNotFound if not exists.
func (s *TokenMarketStore) GetByMint(ctx context.Context, mint string) (_ *domain.TokenMarket, err error) {
	defer func(start time.Time) { observe("token_markets.get", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+tokenMarketColumns+` FROM token_markets WHERE mint = $1`, mint)
	m, err := scanTokenMarket(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token market: %w", err)
	}
	return m, nil
}

// List retrieves all markets, ordered by first_seen_slot ASC.
func (s *TokenMarketStore) List(ctx context.Context) (_ []*domain.TokenMarket, err error) {
	defer func(start time.Time) { observe("token_markets.list", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenMarketColumns+`
		FROM token_markets
		ORDER BY first_seen_slot ASC, mint ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list token markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.TokenMarket
	for rows.Next() {
		m, err := scanTokenMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token market row: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token market rows: %w", err)
	}
	return markets, nil
}

func scanTokenMarket(row pgx.Row) (*domain.TokenMarket, error) {
	var m domain.TokenMarket
	var decimals int16
	err := row.Scan(
		&m.Mint,
		&m.BondingCurve,
		&m.Vault,
		&decimals,
		&m.FirstSeenSlot,
		&m.Creator,
		&m.CreateSignature,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Decimals = int(decimals)
	return &m, nil
}
