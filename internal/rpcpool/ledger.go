package rpcpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"curvewatch/internal/observability"
)

// Default hard ceiling: at most 90 requests per endpoint in any trailing 10s.
const (
	DefaultCeiling = 90
	DefaultWindow  = 10 * time.Second
)

// EndpointState is the ledger view of one endpoint.
type EndpointState struct {
	Endpoint string `json:"endpoint"`
	InWindow int    `json:"inWindow"`
	Ceiling  int    `json:"ceiling"`
}

// Ledger enforces the per-endpoint hard ceiling over a sliding window of
// dispatch timestamps. Check-and-record is atomic, so the ceiling holds for
// any number of concurrent callers.
type Ledger struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	clock   Clock
	stamps  map[string][]time.Time // oldest first
}

// NewLedger creates a ledger. Non-positive values fall back to the defaults.
func NewLedger(ceiling int, window time.Duration, clock Clock) *Ledger {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{
		ceiling: ceiling,
		window:  window,
		clock:   clock,
		stamps:  make(map[string][]time.Time),
	}
}

// Reserve blocks until endpoint has room in its window, then records one request.
func (l *Ledger) Reserve(ctx context.Context, endpoint string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := l.tryReserve(endpoint)
		if wait <= 0 {
			return nil
		}
		observability.RecordCeilingWait(endpoint, wait)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryReserve records a request and returns 0, or returns how long until the
// oldest timestamp leaves the window.
func (l *Ledger) tryReserve(endpoint string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	q := l.prune(endpoint, now)
	if len(q) < l.ceiling {
		l.stamps[endpoint] = append(q, now)
		observability.UpdateWindowInUse(endpoint, len(q)+1)
		return 0
	}
	wait := q[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// prune drops timestamps at least one window old. Caller holds l.mu.
func (l *Ledger) prune(endpoint string, now time.Time) []time.Time {
	q := l.stamps[endpoint]
	cut := now.Add(-l.window)
	i := sort.Search(len(q), func(i int) bool { return q[i].After(cut) })
	if i > 0 {
		q = append(q[:0], q[i:]...)
		l.stamps[endpoint] = q
	}
	return q
}

// InWindow returns the number of requests in endpoint's trailing window.
func (l *Ledger) InWindow(endpoint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(endpoint, l.clock.Now()))
}

// States returns the current window usage of the given endpoints.
func (l *Ledger) States(endpoints []string) []EndpointState {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	out := make([]EndpointState, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, EndpointState{Endpoint: ep, InWindow: len(l.prune(ep, now)), Ceiling: l.ceiling})
	}
	return out
}
