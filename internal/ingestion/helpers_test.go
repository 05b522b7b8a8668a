package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"curvewatch/internal/domain"
	"curvewatch/internal/solana"
)

const (
	tMint    = "MintTTTT"
	tCurve   = "CurveTTT"
	tVault   = "VaultTTT"
	baseTime = int64(1_700_000_000)

	vaultSupply = int64(800_000_000_000_000)
)

var tMarket = domain.TokenMarket{
	Mint:         tMint,
	BondingCurve: tCurve,
	Vault:        tVault,
	Decimals:     6,
}

// fakeWS hands out one buffered channel per mentioned address.
type fakeWS struct {
	mu         sync.Mutex
	subs       map[string]chan solana.LogNotification
	subscribed chan string
}

var _ solana.WSClient = (*fakeWS)(nil)

func newFakeWS() *fakeWS {
	return &fakeWS{
		subs:       make(map[string]chan solana.LogNotification),
		subscribed: make(chan string, 16),
	}
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	if len(filter.Mentions) != 1 {
		return nil, fmt.Errorf("expected one mention, got %d", len(filter.Mentions))
	}
	ch := make(chan solana.LogNotification, 64)
	f.mu.Lock()
	f.subs[filter.Mentions[0]] = ch
	f.mu.Unlock()
	select {
	case f.subscribed <- filter.Mentions[0]:
	default:
	}
	return ch, nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) waitSubscribed(t *testing.T, addr string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.subscribed:
			if got == addr {
				return
			}
		case <-deadline:
			t.Fatalf("no subscription for %s", addr)
		}
	}
}

func (f *fakeWS) send(t *testing.T, addr string, n solana.LogNotification) {
	t.Helper()
	f.mu.Lock()
	ch := f.subs[addr]
	f.mu.Unlock()
	if ch == nil {
		t.Fatalf("no subscription for %s", addr)
	}
	ch <- n
}

// recordingSink keeps every update and signals each one.
type recordingSink struct {
	mu      sync.Mutex
	updates []Update
	ch      chan Update
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan Update, 256)}
}

func (s *recordingSink) Publish(_ context.Context, u Update) error {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	select {
	case s.ch <- u:
	default:
	}
	return nil
}

// next waits for the first update accepted by match.
func (s *recordingSink) next(t *testing.T, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-s.ch:
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
			return Update{}
		}
	}
}

func (s *recordingSink) all() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

func isReset(u Update) bool { return u.Reset }

func hasEvent(sig string) func(Update) bool {
	return func(u Update) bool {
		for _, e := range u.Events {
			if e.Signature == sig {
				return true
			}
		}
		return false
	}
}

func raw(tokens int64) string { return strconv.FormatInt(tokens*1_000_000, 10) }

// tradeTx builds a trade of whole tokens by wallet against the test curve:
// tokens > 0 buys, tokens < 0 sells. held is the wallet's balance before.
func tradeTx(sig string, slot int64, wallet string, held, tokens, lamports int64) *solana.Transaction {
	keys := []string{wallet, tCurve, tVault, "ata-" + wallet}
	meta := &solana.TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{100_000_000_000, 30_000_000_000, 2_039_280, 2_039_280},
		PostBalances: []uint64{100_000_000_000, 30_000_000_000, 2_039_280, 2_039_280},
		PreTokenBalances: []solana.TokenBalance{
			{AccountIndex: 2, Mint: tMint, Owner: tCurve, Amount: strconv.FormatInt(vaultSupply, 10), Decimals: 6},
		},
		PostTokenBalances: []solana.TokenBalance{
			{AccountIndex: 2, Mint: tMint, Owner: tCurve, Amount: strconv.FormatInt(vaultSupply-tokens*1_000_000, 10), Decimals: 6},
			{AccountIndex: 3, Mint: tMint, Owner: wallet, Amount: raw(held + tokens), Decimals: 6},
		},
	}
	if held > 0 {
		meta.PreTokenBalances = append(meta.PreTokenBalances,
			solana.TokenBalance{AccountIndex: 3, Mint: tMint, Owner: wallet, Amount: raw(held), Decimals: 6})
	}
	if tokens > 0 {
		meta.PostBalances[0] = uint64(100_000_000_000 - lamports - 5000)
		meta.PostBalances[1] = uint64(30_000_000_000 + lamports)
	} else {
		meta.PostBalances[0] = uint64(100_000_000_000 + lamports - 5000)
		meta.PostBalances[1] = uint64(30_000_000_000 - lamports)
	}
	return &solana.Transaction{
		Signature: sig,
		Slot:      slot,
		BlockTime: baseTime + slot,
		Meta:      meta,
		Message:   &solana.TransactionMessage{AccountKeys: keys},
	}
}

// mintTx builds the creation of the test token with tokens sent to dev.
func mintTx(sig string, slot int64, dev string, tokens int64) *solana.Transaction {
	return &solana.Transaction{
		Signature: sig,
		Slot:      slot,
		BlockTime: baseTime + slot,
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{10_000_000_000, 0, 0, 0},
			PostBalances: []uint64{9_000_000_000, 1_000_000_000, 2_039_280, 2_039_280},
			PostTokenBalances: []solana.TokenBalance{
				{AccountIndex: 2, Mint: tMint, Owner: tCurve, Amount: strconv.FormatInt(vaultSupply, 10), Decimals: 6},
				{AccountIndex: 3, Mint: tMint, Owner: dev, Amount: raw(tokens), Decimals: 6},
			},
		},
		Message: &solana.TransactionMessage{AccountKeys: []string{dev, tCurve, tVault, "ata-" + dev}},
	}
}

// signatures returns the signatures of events in order.
func signatures(events []domain.TradeEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Signature
	}
	return out
}

// runMonitor runs m in the background and returns a stop func that cancels
// it and waits for Run to return.
func runMonitor(t *testing.T, m *Monitor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatal("monitor did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}
