// Package tagging derives descriptive tags for trade events from their
// position relative to the token's first observed slot.
package tagging

import (
	"strconv"

	"curvewatch/internal/domain"
)

// Defaults
const (
	DefaultLargeTradeSOL    = 10.0
	DefaultEarlySniperSlots = 2
)

// Options configures classification thresholds. Zero values use defaults.
type Options struct {
	LargeTradeSOL    float64 // solAmount strictly above this is large_buy/large_sell
	EarlySniperSlots int64   // slot offsets 1..N from the first slot are early_sniper
}

func (o Options) withDefaults() Options {
	if o.LargeTradeSOL <= 0 {
		o.LargeTradeSOL = DefaultLargeTradeSOL
	}
	if o.EarlySniperSlots <= 0 {
		o.EarlySniperSlots = DefaultEarlySniperSlots
	}
	return o
}

// Classify returns the tags for ev given the token's first observed slot.
// It is pure and does not modify ev.
func Classify(ev domain.TradeEvent, firstSlot int64, opts Options) []string {
	opts = opts.withDefaults()
	tags := make([]string, 0, 3)

	offset := ev.Slot - firstSlot
	switch {
	case offset == 0 && ev.Type == domain.TradeMint:
		tags = append(tags, domain.TagMint, domain.TagDev)
	case offset == 0:
		tags = append(tags, domain.TagBundler)
	case offset > 0 && offset <= opts.EarlySniperSlots:
		tags = append(tags, domain.TagEarlySniper, domain.TagBlockPrefix+strconv.FormatInt(offset, 10))
	}

	if ev.IsVolumeBot {
		tags = append(tags, domain.TagVolumeBot)
	}
	if ev.SolAmount > opts.LargeTradeSOL {
		switch ev.Type {
		case domain.TradeBuy:
			tags = append(tags, domain.TagLargeBuy)
		case domain.TradeSell:
			tags = append(tags, domain.TagLargeSell)
		}
	}
	return tags
}

// Apply sets ev.Tags from Classify.
func Apply(ev *domain.TradeEvent, firstSlot int64, opts Options) {
	ev.Tags = Classify(*ev, firstSlot, opts)
}
