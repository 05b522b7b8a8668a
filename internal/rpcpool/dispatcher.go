// Package rpcpool spreads RPC traffic over interchangeable endpoints while
// keeping every endpoint under a hard per-window request ceiling.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"curvewatch/internal/observability"
	"curvewatch/internal/solana"
)

// Exhaustion errors surfaced once every attempt failed.
var (
	ErrUnavailable       = errors.New("rpc unavailable")
	ErrRateLimitExceeded = errors.New("rpc rate limit exceeded")
	ErrNoEndpoints       = errors.New("no rpc endpoints configured")
)

// IsExhausted reports whether err means the pool gave up on a call.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}

// DefaultPacing is the fixed per-caller delay between requests.
const DefaultPacing = 15 * time.Millisecond

// Endpoint is one RPC backend. *solana.HTTPClient satisfies it.
type Endpoint interface {
	solana.RPCClient
	Endpoint() string
}

// Options configures a Dispatcher.
type Options struct {
	Ceiling int
	Window  time.Duration
	// Pacing is the minimum gap between two requests of one Caller; negative disables it.
	Pacing  time.Duration
	Retry   RetryPolicy
	Clock   Clock
	Logger  *log.Logger
}

// Dispatcher owns the endpoint ledger and the retry policy. Create one per
// process and hand out Callers; the ledger is the only shared mutable state
// between token tasks.
type Dispatcher struct {
	endpoints []Endpoint
	names     []string
	ledger    *Ledger
	retry     RetryPolicy
	pacing    time.Duration
	clock     Clock
	logger    *log.Logger
	next      atomic.Uint64
}

// New creates a Dispatcher over endpoints.
func New(endpoints []Endpoint, opts Options) (*Dispatcher, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Pacing == 0 {
		opts.Pacing = DefaultPacing
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	names := make([]string, len(endpoints))
	for i, ep := range endpoints {
		names[i] = ep.Endpoint()
	}

	return &Dispatcher{
		endpoints: endpoints,
		names:     names,
		ledger:    NewLedger(opts.Ceiling, opts.Window, opts.Clock),
		retry:     opts.Retry.withDefaults(),
		pacing:    opts.Pacing,
		clock:     opts.Clock,
		logger:    logger,
	}, nil
}

// NewHTTP builds a Dispatcher over plain JSON-RPC HTTP endpoints.
func NewHTTP(urls []string, timeout time.Duration, opts Options) (*Dispatcher, error) {
	eps := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		var copts []solana.ClientOption
		if timeout > 0 {
			copts = append(copts, solana.WithTimeout(timeout))
		}
		eps = append(eps, solana.NewHTTPClient(u, copts...))
	}
	return New(eps, opts)
}

// Caller returns a handle with its own pacing. Give each worker its own Caller.
func (d *Dispatcher) Caller(name string) *Caller {
	limit := rate.Inf
	if d.pacing > 0 {
		limit = rate.Every(d.pacing)
	}
	return &Caller{
		d:       d,
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// States reports the trailing-window usage of every endpoint.
func (d *Dispatcher) States() []EndpointState {
	return d.ledger.States(d.names)
}

// Retry returns the shared retry policy.
func (d *Dispatcher) Retry() RetryPolicy {
	return d.retry
}

// start picks the first endpoint of a call, round-robin.
func (d *Dispatcher) start() int {
	return int((d.next.Add(1) - 1) % uint64(len(d.endpoints)))
}

// Caller is a paced client over the Dispatcher. It implements solana.RPCClient.
type Caller struct {
	d       *Dispatcher
	name    string
	limiter *rate.Limiter
}

var _ solana.RPCClient = (*Caller)(nil)

// GetTransaction retrieves a transaction by signature.
func (c *Caller) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var tx *solana.Transaction
	err := c.do(ctx, "getTransaction", func(ep Endpoint) error {
		var err error
		tx, err = ep.GetTransaction(ctx, signature)
		return err
	})
	return tx, err
}

// GetSignaturesForAddress retrieves signatures for an address, newest first.
func (c *Caller) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	var sigs []solana.SignatureInfo
	err := c.do(ctx, "getSignaturesForAddress", func(ep Endpoint) error {
		var err error
		sigs, err = ep.GetSignaturesForAddress(ctx, address, opts)
		return err
	})
	return sigs, err
}

// GetAccountInfo retrieves account info by public key.
func (c *Caller) GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error) {
	var info *solana.AccountInfo
	err := c.do(ctx, "getAccountInfo", func(ep Endpoint) error {
		var err error
		info, err = ep.GetAccountInfo(ctx, pubkey)
		return err
	})
	return info, err
}

// do runs fn with pacing, the hard ceiling and endpoint rotation on failure.
func (c *Caller) do(ctx context.Context, method string, fn func(Endpoint) error) error {
	d := c.d
	first := d.start()
	var lastErr error

	for attempt := 0; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.clock.Sleep(ctx, d.retry.Backoff(attempt)); err != nil {
				return err
			}
		}

		idx := (first + attempt) % len(d.endpoints)
		ep := d.endpoints[idx]
		name := d.names[idx]

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.ledger.Reserve(ctx, name); err != nil {
			return err
		}

		began := time.Now()
		err := fn(ep)
		elapsed := time.Since(began)
		if err == nil {
			observability.RecordRPCRequest(name, method, "ok", elapsed)
			return nil
		}
		if !d.retry.Retryable(err) {
			observability.RecordRPCRequest(name, method, "error", elapsed)
			return err
		}

		outcome := "transient"
		if solana.IsRateLimited(err) {
			outcome = "rate_limited"
		}
		observability.RecordRPCRequest(name, method, outcome, elapsed)
		lastErr = err
	}

	kind := ErrUnavailable
	if solana.IsRateLimited(lastErr) {
		kind = ErrRateLimitExceeded
	}
	observability.RecordRPCExhausted(method, kind.Error())
	d.logger.Printf("[rpcpool] %s (%s) gave up after %d attempts: %v", method, c.name, d.retry.MaxAttempts, lastErr)
	return fmt.Errorf("%w: %s after %d attempts: %w", kind, method, d.retry.MaxAttempts, lastErr)
}
