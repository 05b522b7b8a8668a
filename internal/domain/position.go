package domain

// Position is a wallet's holding of one token and its P&L.
// Corresponds to positions table in PostgreSQL. Never deleted.
type Position struct {
	Wallet string `json:"wallet"` // PRIMARY KEY (wallet, mint)
	Mint   string `json:"mint"`

	LifetimeID string `json:"lifetimeId"` // deterministic id of the current open/close cycle
	Lifetime   int    `json:"lifetime"`   // 1 for the first entry, incremented on re-entry
	OpenedAt   int64  `json:"openedAt"`   // Unix seconds of the entry buy
	UpdatedAt  int64  `json:"updatedAt"`

	BuyCount           int     `json:"buyCount"`
	SellCount          int     `json:"sellCount"`
	TotalTokensBought  float64 `json:"totalTokensBought"`
	TotalTokensSold    float64 `json:"totalTokensSold"`
	TotalSolSpent      float64 `json:"totalSolSpent"`
	TotalSolReceived   float64 `json:"totalSolReceived"`
	AvgBuyPrice        float64 `json:"avgBuyPrice"`
	AvgSellPrice       float64 `json:"avgSellPrice"`
	CurrentHolding     float64 `json:"currentHolding"`
	RealizedPnl        float64 `json:"realizedPnl"`
	UnrealizedPnl      float64 `json:"unrealizedPnl"`
	TotalPnl           float64 `json:"totalPnl"`
	RealizedPnlPercent float64 `json:"realizedPnlPercent"`
	LastPrice          float64 `json:"lastPrice"`
	IsActive           bool    `json:"isActive"`

	Prior PriorLifetimes `json:"prior"`
}

// PriorLifetimes accumulates closed lifetimes of the same (wallet, mint) key.
type PriorLifetimes struct {
	Count            int     `json:"count"`
	TotalSolSpent    float64 `json:"totalSolSpent"`
	TotalSolReceived float64 `json:"totalSolReceived"`
	RealizedPnl      float64 `json:"realizedPnl"`
}

// AllTimeRealizedPnl is realized P&L over every lifetime of the key.
func (p *Position) AllTimeRealizedPnl() float64 {
	return p.Prior.RealizedPnl + p.RealizedPnl
}
