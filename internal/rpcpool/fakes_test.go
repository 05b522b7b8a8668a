package rpcpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"curvewatch/internal/solana"
)

// fakeClock advances only when someone sleeps on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) elapsed(since time.Time) time.Duration {
	return c.Now().Sub(since)
}

// fakeEndpoint counts calls and fails according to fail. With record set
// it also keeps the wall-clock time of every call.
type fakeEndpoint struct {
	name   string
	mu     sync.Mutex
	calls  int
	fail   func(call int) error
	record bool
	times  []time.Time
}

func (e *fakeEndpoint) Endpoint() string { return e.name }

func (e *fakeEndpoint) hit() error {
	e.mu.Lock()
	e.calls++
	n := e.calls
	if e.record {
		e.times = append(e.times, time.Now())
	}
	e.mu.Unlock()
	if e.fail != nil {
		return e.fail(n)
	}
	return nil
}

func (e *fakeEndpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Times returns the recorded call times, oldest first.
func (e *fakeEndpoint) Times() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]time.Time(nil), e.times...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (e *fakeEndpoint) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	if err := e.hit(); err != nil {
		return nil, err
	}
	return &solana.Transaction{Signature: signature}, nil
}

func (e *fakeEndpoint) GetSignaturesForAddress(_ context.Context, _ string, _ *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := e.hit(); err != nil {
		return nil, err
	}
	return []solana.SignatureInfo{{Signature: "s"}}, nil
}

func (e *fakeEndpoint) GetAccountInfo(_ context.Context, _ string) (*solana.AccountInfo, error) {
	if err := e.hit(); err != nil {
		return nil, err
	}
	return &solana.AccountInfo{}, nil
}
