// Package verification checks persisted candles and positions against a
// refold of the persisted trade events of the same token.
package verification

import (
	"context"
	"fmt"
	"math"

	"curvewatch/internal/domain"
)

// FloatTolerance is the relative tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and refolded values.
type FieldDivergence struct {
	Key      string `json:"key"`      // timeframe/bucket or wallet
	Field    string `json:"field"`    // field name
	Expected any    `json:"expected"` // refolded value
	Actual   any    `json:"actual"`   // stored value
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s %s: expected %v, stored %v", d.Key, d.Field, d.Expected, d.Actual)
}

// Result contains the result of verifying one token.
type Result struct {
	Mint        string            `json:"mint"`
	Events      int               `json:"events"`
	Candles     int               `json:"candles"`
	Positions   int               `json:"positions"`
	Match       bool              `json:"match"`
	Divergences []FieldDivergence `json:"divergences,omitempty"`
}

// Report contains results for every verified token.
type Report struct {
	TotalTokens     int      `json:"totalTokens"`
	MatchedTokens   int      `json:"matchedTokens"`
	DivergentTokens int      `json:"divergentTokens"`
	Results         []Result `json:"results"`
}

// Verifier checks stored state against its event log.
type Verifier interface {
	// VerifyToken refolds one token's stored events and compares the
	// outcome with its stored candles and positions.
	VerifyToken(ctx context.Context, mint string) (*Result, error)

	// VerifyAll verifies every stored token.
	VerifyAll(ctx context.Context) (*Report, error)
}

// CompareCandles compares one stored series with its refold. Buckets missing
// on either side are divergences; so is a stored open that does not
// continue the previous close.
func CompareCandles(timeframe string, expected, stored []domain.Candle) []FieldDivergence {
	var divergences []FieldDivergence

	want := make(map[int64]domain.Candle, len(expected))
	for _, c := range expected {
		want[c.BucketStart] = c
	}
	got := make(map[int64]domain.Candle, len(stored))
	for i, c := range stored {
		got[c.BucketStart] = c
		if i > 0 && !floatEquals(c.Open, stored[i-1].Close) {
			divergences = append(divergences, FieldDivergence{
				Key:      bucketKey(timeframe, c.BucketStart),
				Field:    "Open",
				Expected: stored[i-1].Close,
				Actual:   c.Open,
			})
		}
	}

	for _, e := range expected {
		key := bucketKey(timeframe, e.BucketStart)
		s, ok := got[e.BucketStart]
		if !ok {
			divergences = append(divergences, FieldDivergence{Key: key, Field: "Bucket", Expected: e.BucketStart, Actual: nil})
			continue
		}
		divergences = appendFloat(divergences, key, "Open", e.Open, s.Open)
		divergences = appendFloat(divergences, key, "High", e.High, s.High)
		divergences = appendFloat(divergences, key, "Low", e.Low, s.Low)
		divergences = appendFloat(divergences, key, "Close", e.Close, s.Close)
		divergences = appendFloat(divergences, key, "Volume", e.Volume, s.Volume)
		if e.Trades != s.Trades {
			divergences = append(divergences, FieldDivergence{Key: key, Field: "Trades", Expected: e.Trades, Actual: s.Trades})
		}
	}
	for _, s := range stored {
		if _, ok := want[s.BucketStart]; !ok {
			divergences = append(divergences, FieldDivergence{
				Key:      bucketKey(timeframe, s.BucketStart),
				Field:    "Bucket",
				Expected: nil,
				Actual:   s.BucketStart,
			})
		}
	}
	return divergences
}

// ComparePositions compares the trade-driven fields of a stored position
// with its refold. Mark-to-market fields depend on when the snapshot was
// written and are not compared.
func ComparePositions(expected, stored *domain.Position) []FieldDivergence {
	var divergences []FieldDivergence
	key := expected.Wallet

	if expected.LifetimeID != stored.LifetimeID {
		divergences = append(divergences, FieldDivergence{Key: key, Field: "LifetimeID", Expected: expected.LifetimeID, Actual: stored.LifetimeID})
	}
	if expected.Lifetime != stored.Lifetime {
		divergences = append(divergences, FieldDivergence{Key: key, Field: "Lifetime", Expected: expected.Lifetime, Actual: stored.Lifetime})
	}
	if expected.BuyCount != stored.BuyCount {
		divergences = append(divergences, FieldDivergence{Key: key, Field: "BuyCount", Expected: expected.BuyCount, Actual: stored.BuyCount})
	}
	if expected.SellCount != stored.SellCount {
		divergences = append(divergences, FieldDivergence{Key: key, Field: "SellCount", Expected: expected.SellCount, Actual: stored.SellCount})
	}
	if expected.IsActive != stored.IsActive {
		divergences = append(divergences, FieldDivergence{Key: key, Field: "IsActive", Expected: expected.IsActive, Actual: stored.IsActive})
	}

	divergences = appendFloat(divergences, key, "TotalTokensBought", expected.TotalTokensBought, stored.TotalTokensBought)
	divergences = appendFloat(divergences, key, "TotalTokensSold", expected.TotalTokensSold, stored.TotalTokensSold)
	divergences = appendFloat(divergences, key, "TotalSolSpent", expected.TotalSolSpent, stored.TotalSolSpent)
	divergences = appendFloat(divergences, key, "TotalSolReceived", expected.TotalSolReceived, stored.TotalSolReceived)
	divergences = appendFloat(divergences, key, "CurrentHolding", expected.CurrentHolding, stored.CurrentHolding)
	divergences = appendFloat(divergences, key, "RealizedPnl", expected.RealizedPnl, stored.RealizedPnl)
	divergences = appendFloat(divergences, key, "Prior.RealizedPnl", expected.Prior.RealizedPnl, stored.Prior.RealizedPnl)
	return divergences
}

func appendFloat(divergences []FieldDivergence, key, field string, expected, actual float64) []FieldDivergence {
	if floatEquals(expected, actual) {
		return divergences
	}
	return append(divergences, FieldDivergence{Key: key, Field: field, Expected: expected, Actual: actual})
}

func bucketKey(timeframe string, bucket int64) string {
	return fmt.Sprintf("%s/%d", timeframe, bucket)
}

// floatEquals compares two float64 values within FloatTolerance relative to
// the larger magnitude. Curve prices are far below 1, so an absolute
// tolerance would accept any two of them.
func floatEquals(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance*math.Max(math.Abs(a), math.Abs(b))
}
