package domain

// BackfillCursor records how far a token's history has been processed.
// Corresponds to backfill_cursors table in PostgreSQL.
type BackfillCursor struct {
	Mint            string `json:"mint"` // PRIMARY KEY
	OldestSignature string `json:"oldestSignature"`
	NewestSignature string `json:"newestSignature"`
	NewestTimestamp int64  `json:"newestTimestamp"` // block time of the newest processed event
	Complete        bool   `json:"complete"`        // full history folded at least once
	UpdatedAt       int64  `json:"updatedAt"`
}

// TokenState is what a dashboard shows for a tracked token.
type TokenState string

// TokenState values
const (
	StateBackfilling    TokenState = "backfilling"
	StateLive           TokenState = "live"
	StateIdle           TokenState = "idle" // live but no recent trades
	StateRPCUnavailable TokenState = "rpc_unavailable"
	StateStopped        TokenState = "stopped"
)

// TokenStatus is a point-in-time view of a tracked token.
type TokenStatus struct {
	Mint          string     `json:"mint"`
	State         TokenState `json:"state"`
	Events        int        `json:"events"`
	LastTradeAt   int64      `json:"lastTradeAt"` // Unix seconds, 0 if none
	LastSignature string     `json:"lastSignature,omitempty"`
	Anomalies     int        `json:"anomalies"`
	Graduated     bool       `json:"graduated"`
	LastError     string     `json:"lastError,omitempty"`
}

// Anomaly kinds
const (
	AnomalySellWithoutPosition = "sell_without_position"
	AnomalySellExceedsHolding  = "sell_exceeds_holding"
)

// Anomaly is a recorded, discarded inconsistency in the event stream.
// Corresponds to ordering_anomalies table in PostgreSQL.
type Anomaly struct {
	ID        string `json:"id"` // PRIMARY KEY, idhash.ComputeAnomalyID
	Mint      string `json:"mint"`
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	Wallet    string `json:"wallet,omitempty"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}
