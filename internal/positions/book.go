// Package positions tracks per-wallet holdings and P&L of one token from
// its ordered trade event stream.
package positions

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"curvewatch/internal/domain"
	"curvewatch/internal/idhash"
	"curvewatch/internal/observability"
)

// ErrOrderingAnomaly is returned for an event that contradicts the tracked
// state. The event is discarded and recorded as a domain.Anomaly.
var ErrOrderingAnomaly = errors.New("ordering anomaly")

// Defaults
const (
	DefaultEntryThreshold = 5_000_000.0
	DefaultDust           = 1.0
)

// sellTolerance absorbs float rounding when a sell closes the whole holding.
const sellTolerance = 1e-6

// Options configures a Book.
type Options struct {
	// EntryThreshold is the minimum buy size that starts tracking a wallet
	// with no position. Top-ups of existing positions are never gated.
	EntryThreshold float64
	// Dust is the holding at or below which a position is inactive.
	Dust   float64
	Logger *log.Logger
}

// Book holds every position of one token. It is not safe for concurrent
// use; the token's owner task is its only writer.
type Book struct {
	mint           string
	entryThreshold float64
	dust           float64
	logger         *log.Logger

	positions map[string]*domain.Position // by wallet
	anomalies []domain.Anomaly
	lastPrice float64
}

// NewBook creates an empty book for mint.
func NewBook(mint string, opts Options) *Book {
	if opts.EntryThreshold <= 0 {
		opts.EntryThreshold = DefaultEntryThreshold
	}
	if opts.Dust < 0 {
		opts.Dust = 0
	} else if opts.Dust == 0 {
		opts.Dust = DefaultDust
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Book{
		mint:           mint,
		entryThreshold: opts.EntryThreshold,
		dust:           opts.Dust,
		logger:         logger,
		positions:      make(map[string]*domain.Position),
	}
}

// Apply folds one event into the book. It returns a copy of the trader's
// position when it changed, nil when the event does not concern positions,
// or an error wrapping ErrOrderingAnomaly when the event was discarded.
func (b *Book) Apply(ev domain.TradeEvent) (*domain.Position, error) {
	if !ev.Type.Priced() || ev.TokenAmount <= 0 || ev.Trader == "" {
		return nil, nil
	}
	b.lastPrice = ev.Price

	switch ev.Type {
	case domain.TradeBuy:
		p := b.buy(ev)
		if p == nil {
			return nil, nil
		}
		cp := *p
		return &cp, nil
	default:
		p, err := b.sell(ev)
		if err != nil {
			return nil, err
		}
		cp := *p
		return &cp, nil
	}
}

func (b *Book) buy(ev domain.TradeEvent) *domain.Position {
	p, ok := b.positions[ev.Trader]
	switch {
	case !ok:
		if ev.TokenAmount < b.entryThreshold {
			return nil
		}
		p = &domain.Position{Wallet: ev.Trader, Mint: b.mint}
		b.positions[ev.Trader] = p
		b.open(p, ev)
	case !p.IsActive:
		b.reopen(p, ev)
	}

	p.BuyCount++
	p.TotalTokensBought += ev.TokenAmount
	p.TotalSolSpent += ev.SolAmount
	p.AvgBuyPrice = p.TotalSolSpent / p.TotalTokensBought
	b.settle(p, ev)
	return p
}

func (b *Book) sell(ev domain.TradeEvent) (*domain.Position, error) {
	p, ok := b.positions[ev.Trader]
	if !ok {
		return nil, b.anomaly(ev, domain.AnomalySellWithoutPosition,
			fmt.Sprintf("sell of %g tokens with no tracked position", ev.TokenAmount))
	}
	amount := ev.TokenAmount
	if amount > p.CurrentHolding {
		if amount-p.CurrentHolding > sellTolerance {
			return nil, b.anomaly(ev, domain.AnomalySellExceedsHolding,
				fmt.Sprintf("sell of %g tokens exceeds holding %g", amount, p.CurrentHolding))
		}
		amount = p.CurrentHolding
	}

	wasActive := p.IsActive
	p.SellCount++
	p.TotalTokensSold += amount
	p.TotalSolReceived += ev.SolAmount
	p.AvgSellPrice = p.TotalSolReceived / p.TotalTokensSold
	p.RealizedPnl = p.TotalSolReceived - p.AvgBuyPrice*p.TotalTokensSold
	if p.TotalSolSpent > 0 {
		p.RealizedPnlPercent = p.RealizedPnl / p.TotalSolSpent * 100
	}
	b.settle(p, ev)
	if wasActive && !p.IsActive {
		observability.RecordPositionClosed()
	}
	return p, nil
}

// open starts lifetime 1 of a new key.
func (b *Book) open(p *domain.Position, ev domain.TradeEvent) {
	p.Lifetime = 1
	p.LifetimeID = idhash.ComputeLifetimeID(p.Wallet, p.Mint, p.Lifetime, ev.Signature)
	p.OpenedAt = ev.Timestamp
	observability.RecordPositionOpened()
}

// reopen moves a closed lifetime into Prior and starts the next one under
// the same key. The dust left in the closed lifetime opens the new one at
// its average buy price, so the tracked holding keeps matching the wallet.
func (b *Book) reopen(p *domain.Position, ev domain.TradeEvent) {
	carried := p.CurrentHolding
	carriedCost := carried * p.AvgBuyPrice

	prior := p.Prior
	prior.Count++
	prior.TotalSolSpent += p.TotalSolSpent - carriedCost
	prior.TotalSolReceived += p.TotalSolReceived
	prior.RealizedPnl += p.RealizedPnl

	lifetime := p.Lifetime + 1
	*p = domain.Position{
		Wallet:            p.Wallet,
		Mint:              p.Mint,
		Lifetime:          lifetime,
		LifetimeID:        idhash.ComputeLifetimeID(p.Wallet, p.Mint, lifetime, ev.Signature),
		OpenedAt:          ev.Timestamp,
		TotalTokensBought: carried,
		TotalSolSpent:     carriedCost,
		Prior:             prior,
	}
	observability.RecordPositionOpened()
}

// settle recomputes holding-derived fields after an accepted trade.
func (b *Book) settle(p *domain.Position, ev domain.TradeEvent) {
	p.CurrentHolding = p.TotalTokensBought - p.TotalTokensSold
	if p.CurrentHolding < 0 {
		p.CurrentHolding = 0
	}
	p.IsActive = p.CurrentHolding > b.dust
	p.UpdatedAt = ev.Timestamp
	mark(p, ev.Price)
}

func mark(p *domain.Position, price float64) {
	p.LastPrice = price
	p.UnrealizedPnl = p.CurrentHolding * (price - p.AvgBuyPrice)
	p.TotalPnl = p.RealizedPnl + p.UnrealizedPnl
}

func (b *Book) anomaly(ev domain.TradeEvent, kind, detail string) error {
	a := domain.Anomaly{
		ID:        idhash.ComputeAnomalyID(ev.Signature, ev.Trader, kind),
		Mint:      b.mint,
		Signature: ev.Signature,
		Slot:      ev.Slot,
		Wallet:    ev.Trader,
		Kind:      kind,
		Detail:    detail,
	}
	b.anomalies = append(b.anomalies, a)
	observability.RecordOrderingAnomaly(kind)
	b.logger.Printf("Discarding %s for %s (mint=%s sig=%s): %s", kind, ev.Trader, b.mint, ev.Signature, detail)
	return fmt.Errorf("%w: %s: %s", ErrOrderingAnomaly, kind, detail)
}

// MarkPrice applies a price tick to every active position and returns
// copies of those whose unrealized P&L changed.
func (b *Book) MarkPrice(price float64, ts int64) []domain.Position {
	if price <= 0 {
		return nil
	}
	b.lastPrice = price
	var changed []domain.Position
	for _, wallet := range b.wallets() {
		p := b.positions[wallet]
		if !p.IsActive || p.LastPrice == price {
			continue
		}
		mark(p, price)
		p.UpdatedAt = ts
		changed = append(changed, *p)
	}
	return changed
}

// Get returns a copy of wallet's position.
func (b *Book) Get(wallet string) (domain.Position, bool) {
	p, ok := b.positions[wallet]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of every position ordered by wallet.
func (b *Book) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, wallet := range b.wallets() {
		out = append(out, *b.positions[wallet])
	}
	return out
}

// Anomalies returns the discarded events recorded so far.
func (b *Book) Anomalies() []domain.Anomaly {
	return append([]domain.Anomaly(nil), b.anomalies...)
}

// LastPrice returns the most recent trade price seen.
func (b *Book) LastPrice() float64 { return b.lastPrice }

func (b *Book) wallets() []string {
	wallets := make([]string, 0, len(b.positions))
	for w := range b.positions {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets
}
