package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"curvewatch/internal/domain"
)

func TestClassify(t *testing.T) {
	const first = int64(1000)

	tests := []struct {
		name string
		ev   domain.TradeEvent
		opts Options
		want []string
	}{
		{
			name: "mint at first slot",
			ev:   domain.TradeEvent{Slot: first, Type: domain.TradeMint},
			want: []string{"mint", "dev"},
		},
		{
			name: "buy at first slot is bundler",
			ev:   domain.TradeEvent{Slot: first, Type: domain.TradeBuy, SolAmount: 1},
			want: []string{"bundler"},
		},
		{
			name: "one slot later",
			ev:   domain.TradeEvent{Slot: first + 1, Type: domain.TradeBuy, SolAmount: 1},
			want: []string{"early_sniper", "block_+1"},
		},
		{
			name: "two slots later",
			ev:   domain.TradeEvent{Slot: first + 2, Type: domain.TradeSell, SolAmount: 1},
			want: []string{"early_sniper", "block_+2"},
		},
		{
			name: "three slots later untagged",
			ev:   domain.TradeEvent{Slot: first + 3, Type: domain.TradeBuy, SolAmount: 1},
			want: []string{},
		},
		{
			name: "configured sniper window",
			ev:   domain.TradeEvent{Slot: first + 3, Type: domain.TradeBuy, SolAmount: 1},
			opts: Options{EarlySniperSlots: 5},
			want: []string{"early_sniper", "block_+3"},
		},
		{
			name: "volume bot",
			ev:   domain.TradeEvent{Slot: first + 50, Type: domain.TradeBuy, SolAmount: 0.5, IsVolumeBot: true},
			want: []string{"volume_bot"},
		},
		{
			name: "large buy",
			ev:   domain.TradeEvent{Slot: first + 50, Type: domain.TradeBuy, SolAmount: 10.5},
			want: []string{"large_buy"},
		},
		{
			name: "exactly threshold is not large",
			ev:   domain.TradeEvent{Slot: first + 50, Type: domain.TradeSell, SolAmount: 10},
			want: []string{},
		},
		{
			name: "large sell with custom threshold",
			ev:   domain.TradeEvent{Slot: first + 50, Type: domain.TradeSell, SolAmount: 3},
			opts: Options{LargeTradeSOL: 2},
			want: []string{"large_sell"},
		},
		{
			name: "bundler volume bot large buy",
			ev:   domain.TradeEvent{Slot: first, Type: domain.TradeBuy, SolAmount: 20, IsVolumeBot: true},
			want: []string{"bundler", "volume_bot", "large_buy"},
		},
		{
			name: "event before first slot",
			ev:   domain.TradeEvent{Slot: first - 1, Type: domain.TradeBuy, SolAmount: 1},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ev, first, tt.opts))
		})
	}
}

func TestApply_DoesNotDependOnPriorTags(t *testing.T) {
	ev := domain.TradeEvent{Slot: 10, Type: domain.TradeBuy, SolAmount: 1, Tags: []string{"stale"}}
	Apply(&ev, 9, Options{})
	assert.Equal(t, []string{"early_sniper", "block_+1"}, ev.Tags)

	again := ev
	Apply(&again, 9, Options{})
	assert.Equal(t, ev.Tags, again.Tags)
}
