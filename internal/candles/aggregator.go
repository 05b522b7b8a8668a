// Package candles folds a token's trade events into gap-free OHLCV series
// for a set of timeframes.
package candles

import (
	"sort"

	"curvewatch/internal/domain"
	"curvewatch/internal/observability"
)

// Update describes the candles touched by one Apply.
type Update struct {
	// Candles holds the current candle of every timeframe touched, or the
	// whole series of every timeframe after a re-fold.
	Candles  []domain.Candle
	Refolded bool
}

type tfSeries struct {
	tf     domain.Timeframe
	series []domain.Candle
	lastTS int64
}

// Aggregator owns the ordered event log of one token and the candle series
// derived from it. It is not safe for concurrent use; the token's owner
// task is its only caller.
type Aggregator struct {
	mint   string
	events []domain.TradeEvent // fold order
	seen   map[string]struct{}
	series []*tfSeries
}

// NewAggregator creates an aggregator for mint. Empty timeframes means
// domain.DefaultTimeframes.
func NewAggregator(mint string, timeframes []domain.Timeframe) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = domain.DefaultTimeframes()
	}
	a := &Aggregator{
		mint: mint,
		seen: make(map[string]struct{}),
	}
	for _, tf := range timeframes {
		a.series = append(a.series, &tfSeries{tf: tf})
	}
	return a
}

// Mint returns the token the aggregator folds.
func (a *Aggregator) Mint() string { return a.mint }

// Timeframes returns the configured timeframes in order.
func (a *Aggregator) Timeframes() []domain.Timeframe {
	out := make([]domain.Timeframe, len(a.series))
	for i, s := range a.series {
		out[i] = s.tf
	}
	return out
}

// Has reports whether an event with signature was already applied.
func (a *Aggregator) Has(signature string) bool {
	_, ok := a.seen[signature]
	return ok
}

// Len returns the number of distinct events applied.
func (a *Aggregator) Len() int { return len(a.events) }

// Apply adds one event. Duplicates (by signature) are ignored and report
// false. An event that sorts after every applied event updates the open
// buckets; one that sorts earlier re-folds every series from the log.
func (a *Aggregator) Apply(ev domain.TradeEvent) (Update, bool) {
	if a.Has(ev.Signature) {
		return Update{}, false
	}
	a.seen[ev.Signature] = struct{}{}

	n := len(a.events)
	if n == 0 || Compare(&a.events[n-1], &ev) < 0 {
		a.events = append(a.events, ev)
		var upd Update
		for _, s := range a.series {
			var touched bool
			s.series, s.lastTS, touched = step(s.series, s.lastTS, a.mint, s.tf, &a.events[n])
			if touched {
				upd.Candles = append(upd.Candles, s.series[len(s.series)-1])
			}
		}
		return upd, true
	}

	i := sort.Search(n, func(i int) bool { return Compare(&a.events[i], &ev) > 0 })
	a.events = append(a.events, domain.TradeEvent{})
	copy(a.events[i+1:], a.events[i:])
	a.events[i] = ev
	observability.RecordRefold()
	return Update{Candles: a.refold(), Refolded: true}, true
}

// ApplyBatch adds many events and re-folds once. It returns the events that
// were new, in fold order.
func (a *Aggregator) ApplyBatch(events []domain.TradeEvent) []domain.TradeEvent {
	var added []domain.TradeEvent
	for _, ev := range events {
		if a.Has(ev.Signature) {
			continue
		}
		a.seen[ev.Signature] = struct{}{}
		added = append(added, ev)
	}
	if len(added) == 0 {
		return nil
	}
	SortEvents(added)
	a.events = append(a.events, added...)
	SortEvents(a.events)
	a.refold()
	return added
}

func (a *Aggregator) refold() []domain.Candle {
	var all []domain.Candle
	for _, s := range a.series {
		s.series, s.lastTS = nil, 0
		for i := range a.events {
			s.series, s.lastTS, _ = step(s.series, s.lastTS, a.mint, s.tf, &a.events[i])
		}
		all = append(all, s.series...)
	}
	return all
}

// Candles returns a copy of the series for a timeframe label, or nil.
func (a *Aggregator) Candles(label string) []domain.Candle {
	for _, s := range a.series {
		if s.tf.Label == label {
			return append([]domain.Candle(nil), s.series...)
		}
	}
	return nil
}

// Snapshot returns a copy of every series keyed by timeframe label.
func (a *Aggregator) Snapshot() map[string][]domain.Candle {
	out := make(map[string][]domain.Candle, len(a.series))
	for _, s := range a.series {
		out[s.tf.Label] = append([]domain.Candle(nil), s.series...)
	}
	return out
}

// Events returns a copy of the event log in fold order.
func (a *Aggregator) Events() []domain.TradeEvent {
	return append([]domain.TradeEvent(nil), a.events...)
}

// Retag rewrites the tags of every logged event in place. Tags take no part
// in the fold, so the series are left as they are.
func (a *Aggregator) Retag(tag func(ev *domain.TradeEvent)) {
	for i := range a.events {
		tag(&a.events[i])
	}
}

// Recent returns up to n of the newest events, newest last.
func (a *Aggregator) Recent(n int) []domain.TradeEvent {
	if n <= 0 || n > len(a.events) {
		n = len(a.events)
	}
	return append([]domain.TradeEvent(nil), a.events[len(a.events)-n:]...)
}

// Last returns the newest event in fold order.
func (a *Aggregator) Last() (domain.TradeEvent, bool) {
	if len(a.events) == 0 {
		return domain.TradeEvent{}, false
	}
	return a.events[len(a.events)-1], true
}

// FirstSlot returns the smallest slot in the log, or 0 when empty.
func (a *Aggregator) FirstSlot() int64 {
	if len(a.events) == 0 {
		return 0
	}
	return a.events[0].Slot
}
