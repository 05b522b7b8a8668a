package domain

// TradeType classifies a normalized transaction.
type TradeType string

// TradeType values
const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
	TradeMint TradeType = "mint"
	TradeBurn TradeType = "burn"
)

// Priced reports whether the type carries a SOL leg and a price.
func (t TradeType) Priced() bool {
	return t == TradeBuy || t == TradeSell
}

// TradeEvent is the canonical, immutable result of normalizing one transaction.
// Corresponds to trade_events table in PostgreSQL.
type TradeEvent struct {
	Signature   string    `json:"signature"` // PRIMARY KEY
	Mint        string    `json:"mint"`
	Slot        int64     `json:"slot"`
	Timestamp   int64     `json:"timestamp"` // block time, Unix seconds
	Type        TradeType `json:"type"`
	Trader      string    `json:"trader"`      // owner of the changed token account
	TokenAmount float64   `json:"tokenAmount"` // UI units
	SolAmount   float64   `json:"solAmount"`   // SOL, 0 for mint/burn
	Price       float64   `json:"price"`       // SOL per token, 0 for mint/burn
	IsVolumeBot bool      `json:"isVolumeBot"`
	Tags        []string  `json:"tags"`
}

// Tag values attached by classification.
const (
	TagMint        = "mint"
	TagDev         = "dev"
	TagBundler     = "bundler"
	TagEarlySniper = "early_sniper"
	TagVolumeBot   = "volume_bot"
	TagLargeBuy    = "large_buy"
	TagLargeSell   = "large_sell"
	// TagBlockPrefix is followed by the slot offset from the token's first slot, e.g. "block_+1".
	TagBlockPrefix = "block_+"
)

// HasTag reports whether the event carries tag.
func (e *TradeEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
