package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"curvewatch/internal/domain"
	"curvewatch/internal/observability"
	"curvewatch/internal/solana"
	"curvewatch/internal/storage"
)

// Supervisor errors.
var (
	ErrNotStarted     = errors.New("supervisor not started")
	ErrAlreadyTracked = errors.New("token already tracked")
	ErrNotTracked     = errors.New("token not tracked")
	ErrTokenLimit     = errors.New("tracked token limit reached")
)

// DefaultPauseWindow is how long discovery stays paused after the RPC pool
// reports exhaustion.
const DefaultPauseWindow = 30 * time.Second

// SupervisorOptions contains configuration for creating a Supervisor.
type SupervisorOptions struct {
	// Monitor is the template every token's monitor is created from;
	// Market, RPC and OnExhausted are filled in per token.
	Monitor MonitorOptions

	// RPCFor returns the RPC client of one token, typically a named caller
	// of a shared rpcpool.Dispatcher.
	RPCFor func(mint string) solana.RPCClient

	// Markets, when set, records every tracked market.
	Markets storage.TokenMarketStore

	MaxTokens   int           // 0 means unlimited
	PauseWindow time.Duration // Default: DefaultPauseWindow
	Logger      *log.Logger
	Now         func() time.Time
}

type trackedToken struct {
	monitor *Monitor
	cancel  context.CancelFunc
	done    chan struct{}
}

// Supervisor starts and stops one Monitor per tracked token.
type Supervisor struct {
	template    MonitorOptions
	rpcFor      func(string) solana.RPCClient
	markets     storage.TokenMarketStore
	maxTokens   int
	pauseWindow time.Duration
	logger      *log.Logger
	now         func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	tokens      map[string]*trackedToken
	stopped     map[string]domain.TokenStatus
	pausedUntil time.Time
	wg          sync.WaitGroup
}

// NewSupervisor creates a supervisor. Start must be called before Track.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	pause := opts.PauseWindow
	if pause <= 0 {
		pause = DefaultPauseWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rpcFor := opts.RPCFor
	if rpcFor == nil {
		rpc := opts.Monitor.RPC
		rpcFor = func(string) solana.RPCClient { return rpc }
	}
	if opts.Monitor.Logger == nil {
		opts.Monitor.Logger = logger
	}
	return &Supervisor{
		template:    opts.Monitor,
		rpcFor:      rpcFor,
		markets:     opts.Markets,
		maxTokens:   opts.MaxTokens,
		pauseWindow: pause,
		logger:      logger,
		now:         now,
		tokens:      make(map[string]*trackedToken),
		stopped:     make(map[string]domain.TokenStatus),
	}
}

// Start binds the supervisor to ctx and tracks markets. Monitors stop when
// ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context, markets ...domain.TokenMarket) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Printf("[supervisor] Starting with %d tokens (max=%d)", len(markets), s.maxTokens)
	for _, m := range markets {
		if err := s.Track(m); err != nil {
			s.logger.Printf("[supervisor] Error tracking %s: %v", m.Mint, err)
		}
	}
	return nil
}

// Wait blocks until the supervisor's context is done and every monitor has exited.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx != nil {
		<-ctx.Done()
	}
	s.wg.Wait()
	s.logger.Println("[supervisor] All monitors stopped")
}

// Track starts a monitor for market.
func (s *Supervisor) Track(market domain.TokenMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return ErrNotStarted
	}
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if _, ok := s.tokens[market.Mint]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, market.Mint)
	}
	if s.maxTokens > 0 && len(s.tokens) >= s.maxTokens {
		return fmt.Errorf("%w: %d", ErrTokenLimit, s.maxTokens)
	}

	opts := s.template
	opts.Market = market
	opts.RPC = s.rpcFor(market.Mint)
	opts.OnExhausted = s.reportExhausted
	mon, err := NewMonitor(opts)
	if err != nil {
		return err
	}

	if s.markets != nil {
		if err := s.markets.Insert(s.ctx, &market); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			s.logger.Printf("[supervisor] Error storing market %s: %v", market.Mint, err)
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &trackedToken{monitor: mon, cancel: cancel, done: make(chan struct{})}
	s.tokens[market.Mint] = t
	delete(s.stopped, market.Mint)
	observability.UpdateTokensTracked(len(s.tokens))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		if err := mon.Run(ctx); err != nil {
			s.logger.Printf("[supervisor] Monitor %s exited: %v", market.Mint, err)
		}
	}()

	s.logger.Printf("[supervisor] Tracking %s (curve=%s)", market.Mint, market.BondingCurve)
	return nil
}

// Untrack stops the monitor of mint and waits for it to exit. Its last
// status stays visible as stopped.
func (s *Supervisor) Untrack(mint string) error {
	s.mu.Lock()
	t, ok := s.tokens[mint]
	if ok {
		delete(s.tokens, mint)
		observability.UpdateTokensTracked(len(s.tokens))
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, mint)
	}

	t.cancel()
	<-t.done

	s.mu.Lock()
	if _, again := s.tokens[mint]; !again {
		s.stopped[mint] = t.monitor.Status()
	}
	s.mu.Unlock()
	s.logger.Printf("[supervisor] Untracked %s", mint)
	return nil
}

// Tracked reports whether mint has a running monitor.
func (s *Supervisor) Tracked(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[mint]
	return ok
}

// Markets returns the tracked markets ordered by mint.
func (s *Supervisor) Markets() []domain.TokenMarket {
	s.mu.Lock()
	out := make([]domain.TokenMarket, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t.monitor.Market())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Statuses returns the status of every tracked and stopped token ordered by mint.
func (s *Supervisor) Statuses() []domain.TokenStatus {
	s.mu.Lock()
	monitors := make([]*Monitor, 0, len(s.tokens))
	for _, t := range s.tokens {
		monitors = append(monitors, t.monitor)
	}
	out := make([]domain.TokenStatus, 0, len(s.tokens)+len(s.stopped))
	for _, st := range s.stopped {
		out = append(out, st)
	}
	s.mu.Unlock()

	for _, m := range monitors {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Status returns the status of one token.
func (s *Supervisor) Status(mint string) (domain.TokenStatus, bool) {
	s.mu.Lock()
	t, ok := s.tokens[mint]
	st, stopped := s.stopped[mint]
	s.mu.Unlock()
	if ok {
		return t.monitor.Status(), true
	}
	return st, stopped
}

// Paused reports whether discovery of new tokens should hold off.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.pausedUntil)
}

// Full reports whether the tracked token limit is reached.
func (s *Supervisor) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTokens > 0 && len(s.tokens) >= s.maxTokens
}

func (s *Supervisor) reportExhausted(mint string, err error) {
	s.mu.Lock()
	wasPaused := s.now().Before(s.pausedUntil)
	s.pausedUntil = s.now().Add(s.pauseWindow)
	s.mu.Unlock()
	if !wasPaused {
		s.logger.Printf("[supervisor] RPC pool exhausted on %s, pausing discovery for %v: %v", mint, s.pauseWindow, err)
	}
}
