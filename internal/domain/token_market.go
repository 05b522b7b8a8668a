package domain

// TokenMarket is one launch-program token and its bonding curve.
// Corresponds to token_markets table in PostgreSQL.
type TokenMarket struct {
	Mint            string `json:"mint"`             // PRIMARY KEY
	BondingCurve    string `json:"bondingCurve"`     // curve state account, holds the SOL side
	Vault           string `json:"vault"`            // curve-owned token account
	Decimals        int    `json:"decimals"`         // token decimals (6 on the launch program)
	FirstSeenSlot   int64  `json:"firstSeenSlot"`    // slot of the creation tx, 0 if unknown
	Creator         string `json:"creator,omitempty"`
	CreateSignature string `json:"createSignature,omitempty"`
	CreatedAt       int64  `json:"createdAt"` // block time of creation (Unix seconds), 0 if unknown
}

// DefaultTokenDecimals is the decimals every launch-program mint is created with.
const DefaultTokenDecimals = 6

// CurveState is the decoded bonding-curve account.
type CurveState struct {
	Layout               string `json:"layout"`
	VirtualTokenReserves uint64 `json:"virtualTokenReserves"`
	VirtualSolReserves   uint64 `json:"virtualSolReserves"`
	RealTokenReserves    uint64 `json:"realTokenReserves"`
	RealSolReserves      uint64 `json:"realSolReserves"`
	TokenTotalSupply     uint64 `json:"tokenTotalSupply"`
	Complete             bool   `json:"complete"` // curve graduated, no further curve trades
	Creator              string `json:"creator,omitempty"`
}
