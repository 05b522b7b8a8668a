package rpcpool

import (
	"math/rand/v2"
	"time"

	"curvewatch/internal/solana"
)

// RetryPolicy is the single backoff policy shared by every RPC caller.
type RetryPolicy struct {
	// MaxAttempts counts the first try; each retry goes to the next endpoint.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// Factor multiplies the delay after each retry.
	Factor float64
	// JitterFactor adds up to this fraction of the delay at random.
	JitterFactor float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		JitterFactor: 0.1,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	return p
}

// Retryable reports whether err is worth another attempt.
func (p RetryPolicy) Retryable(err error) bool {
	return solana.IsTransient(err)
}

// Backoff returns the wait before retry number n (n >= 1).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			break
		}
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		d += rand.Float64() * p.JitterFactor * d
	}
	return time.Duration(d)
}
