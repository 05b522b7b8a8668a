package verification

import (
	"context"
	"errors"
	"fmt"

	"curvewatch/internal/candles"
	"curvewatch/internal/domain"
	"curvewatch/internal/positions"
	"curvewatch/internal/storage"
)

// ErrTokenNotFound is returned when a mint has no stored market.
var ErrTokenNotFound = errors.New("token not found")

// RefoldVerifier implements Verifier by refolding stored events.
type RefoldVerifier struct {
	markets    storage.TokenMarketStore
	events     storage.TradeEventStore
	candles    storage.CandleStore
	positions  storage.PositionStore
	timeframes []domain.Timeframe
	posOpts    positions.Options
}

// RefoldVerifierOptions contains configuration for creating a RefoldVerifier.
// A nil Candles or Positions store skips that comparison.
type RefoldVerifierOptions struct {
	Markets    storage.TokenMarketStore
	Events     storage.TradeEventStore
	Candles    storage.CandleStore
	Positions  storage.PositionStore
	Timeframes []domain.Timeframe // Default: domain.DefaultTimeframes()

	// PositionOptions must match the indexer that wrote the positions.
	PositionOptions positions.Options
}

var _ Verifier = (*RefoldVerifier)(nil)

// NewRefoldVerifier creates a new RefoldVerifier.
func NewRefoldVerifier(opts RefoldVerifierOptions) *RefoldVerifier {
	timeframes := opts.Timeframes
	if len(timeframes) == 0 {
		timeframes = domain.DefaultTimeframes()
	}
	return &RefoldVerifier{
		markets:    opts.Markets,
		events:     opts.Events,
		candles:    opts.Candles,
		positions:  opts.Positions,
		timeframes: timeframes,
		posOpts:    opts.PositionOptions,
	}
}

// VerifyToken verifies one token.
func (v *RefoldVerifier) VerifyToken(ctx context.Context, mint string) (*Result, error) {
	if v.markets != nil {
		if _, err := v.markets.GetByMint(ctx, mint); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrTokenNotFound
			}
			return nil, err
		}
	}

	stored, err := v.events.GetByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events := make([]domain.TradeEvent, 0, len(stored))
	for _, e := range stored {
		events = append(events, *e)
	}

	agg := candles.NewAggregator(mint, v.timeframes)
	agg.ApplyBatch(events)
	result := &Result{Mint: mint, Events: agg.Len()}

	if v.candles != nil {
		for _, tf := range v.timeframes {
			series, err := v.candles.GetSeries(ctx, mint, tf.Label)
			if err != nil {
				return nil, fmt.Errorf("load %s candles: %w", tf.Label, err)
			}
			got := make([]domain.Candle, 0, len(series))
			for _, c := range series {
				got = append(got, *c)
			}
			result.Candles += len(got)
			result.Divergences = append(result.Divergences, CompareCandles(tf.Label, agg.Candles(tf.Label), got)...)
		}
	}

	if v.positions != nil {
		divergences, n, err := v.verifyPositions(ctx, mint, agg.Events())
		if err != nil {
			return nil, err
		}
		result.Positions = n
		result.Divergences = append(result.Divergences, divergences...)
	}

	result.Match = len(result.Divergences) == 0
	return result, nil
}

func (v *RefoldVerifier) verifyPositions(ctx context.Context, mint string, events []domain.TradeEvent) ([]FieldDivergence, int, error) {
	book := positions.NewBook(mint, v.posOpts)
	for _, ev := range events {
		_, _ = book.Apply(ev)
	}

	stored, err := v.positions.GetByMint(ctx, mint)
	if err != nil {
		return nil, 0, fmt.Errorf("load positions: %w", err)
	}
	got := make(map[string]*domain.Position, len(stored))
	for _, p := range stored {
		got[p.Wallet] = p
	}

	var divergences []FieldDivergence
	expected := book.Positions()
	for i := range expected {
		want := &expected[i]
		s, ok := got[want.Wallet]
		if !ok {
			divergences = append(divergences, FieldDivergence{Key: want.Wallet, Field: "Position", Expected: want.LifetimeID, Actual: nil})
			continue
		}
		delete(got, want.Wallet)
		divergences = append(divergences, ComparePositions(want, s)...)
	}
	for wallet, s := range got {
		divergences = append(divergences, FieldDivergence{Key: wallet, Field: "Position", Expected: nil, Actual: s.LifetimeID})
	}
	return divergences, len(stored), nil
}

// VerifyAll verifies every stored market.
func (v *RefoldVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	if v.markets == nil {
		return nil, errors.New("verify all requires a market store")
	}
	markets, err := v.markets.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalTokens: len(markets),
		Results:     make([]Result, 0, len(markets)),
	}

	for _, m := range markets {
		result, err := v.VerifyToken(ctx, m.Mint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Record error as divergence
			report.Results = append(report.Results, Result{
				Mint:        m.Mint,
				Divergences: []FieldDivergence{{Key: m.Mint, Field: "Error", Actual: err.Error()}},
			})
			report.DivergentTokens++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedTokens++
		} else {
			report.DivergentTokens++
		}
	}

	return report, nil
}
