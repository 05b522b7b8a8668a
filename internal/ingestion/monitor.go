// Package ingestion keeps tracked tokens up to date: one Monitor per token
// backfills its history, then follows its bonding curve live, while a
// Supervisor starts and stops monitors and a Discoverer feeds it new tokens.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"curvewatch/internal/candles"
	"curvewatch/internal/discovery"
	"curvewatch/internal/domain"
	"curvewatch/internal/normalization"
	"curvewatch/internal/observability"
	"curvewatch/internal/positions"
	"curvewatch/internal/rpcpool"
	"curvewatch/internal/solana"
	"curvewatch/internal/storage"
	"curvewatch/internal/tagging"
)

// Monitor defaults.
const (
	DefaultIdleAfter    = 5 * time.Minute
	DefaultRetryDelay   = 5 * time.Second
	DefaultReplayLimit  = 1000
	DefaultRecentTrades = 100
)

// MonitorOptions contains configuration for creating a Monitor.
type MonitorOptions struct {
	Market domain.TokenMarket
	RPC    solana.RPCClient
	WS     solana.WSClient // nil disables live following
	Sink   Sink

	// Events and Cursors enable resuming from stored history. Either may be nil.
	Events  storage.TradeEventStore
	Cursors storage.CursorStore

	Timeframes       []domain.Timeframe
	Tagging          tagging.Options
	Positions        positions.Options
	FetchConcurrency int
	PageSize         int
	ReplayLimit      int           // Default: DefaultReplayLimit signatures per gap replay
	RecentTrades     int           // Default: DefaultRecentTrades events carried by reset updates
	IdleAfter        time.Duration // Default: DefaultIdleAfter
	RetryDelay       time.Duration // Default: DefaultRetryDelay

	// OnExhausted is called when the RPC pool gives up on a request.
	OnExhausted func(mint string, err error)

	Logger *log.Logger
	Now    func() time.Time
}

// Monitor is the owner task of one token. Only Run's goroutine touches the
// event log, candles and positions; Status may be called from anywhere.
type Monitor struct {
	market      domain.TokenMarket
	rpc         solana.RPCClient
	ws          solana.WSClient
	sink        Sink
	events      storage.TradeEventStore
	cursors     storage.CursorStore
	backfiller  *Backfiller
	tagOpts     tagging.Options
	posOpts     positions.Options
	replayLimit int
	recent      int
	idleAfter   time.Duration
	retryDelay  time.Duration
	onExhausted func(string, error)
	logger      *log.Logger
	now         func() time.Time

	queue     *notificationQueue
	agg       *candles.Aggregator
	book      *positions.Book
	firstSlot int64
	lastTS    int64 // newest processed block time
	oldestSig string

	statusMu sync.RWMutex
	status   domain.TokenStatus
}

// NewMonitor creates a monitor for opts.Market.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Market.Mint == "" || opts.Market.BondingCurve == "" {
		return nil, fmt.Errorf("monitor: market needs mint and bonding curve")
	}
	if opts.RPC == nil {
		return nil, fmt.Errorf("monitor %s: rpc client required", opts.Market.Mint)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	posOpts := opts.Positions
	if posOpts.Logger == nil {
		posOpts.Logger = logger
	}
	replayLimit := opts.ReplayLimit
	if replayLimit <= 0 {
		replayLimit = DefaultReplayLimit
	}
	recent := opts.RecentTrades
	if recent <= 0 {
		recent = DefaultRecentTrades
	}
	idleAfter := opts.IdleAfter
	if idleAfter == 0 {
		idleAfter = DefaultIdleAfter
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		market:  opts.Market,
		rpc:     opts.RPC,
		ws:      opts.WS,
		sink:    opts.Sink,
		events:  opts.Events,
		cursors: opts.Cursors,
		backfiller: NewBackfiller(BackfillOptions{
			RPC:         opts.RPC,
			Concurrency: opts.FetchConcurrency,
			PageSize:    opts.PageSize,
			Logger:      logger,
		}),
		tagOpts:     opts.Tagging,
		posOpts:     posOpts,
		replayLimit: replayLimit,
		recent:      recent,
		idleAfter:   idleAfter,
		retryDelay:  retryDelay,
		onExhausted: opts.OnExhausted,
		logger:      logger,
		now:         now,
		queue:       newNotificationQueue(),
		agg:         candles.NewAggregator(opts.Market.Mint, opts.Timeframes),
		book:        positions.NewBook(opts.Market.Mint, posOpts),
		status:      domain.TokenStatus{Mint: opts.Market.Mint, State: domain.StateBackfilling},
	}
	return m, nil
}

// Market returns the tracked market.
func (m *Monitor) Market() domain.TokenMarket { return m.market }

// Status returns the current status. A live token with no trade within the
// idle window reports idle.
func (m *Monitor) Status() domain.TokenStatus {
	m.statusMu.RLock()
	st := m.status
	m.statusMu.RUnlock()

	if st.State == domain.StateLive && m.idleAfter > 0 {
		last := time.Unix(st.LastTradeAt, 0)
		if st.LastTradeAt == 0 || m.now().Sub(last) > m.idleAfter {
			st.State = domain.StateIdle
		}
	}
	return st
}

// Run subscribes to the curve, backfills, then applies live notifications
// until ctx is done. Errors are reported through Status and never end the
// loop early; Run returns nil once ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		m.queue.discard()
		m.setState(domain.StateStopped, nil)
		if m.sink != nil {
			// ctx is already done; the final status goes out on a fresh one
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.sink.Publish(pubCtx, Update{Mint: m.market.Mint, Status: m.Status()}); err != nil {
				m.logger.Printf("[monitor] Error publishing final status for %s: %v", m.market.Mint, err)
			}
		}
	}()

	// subscribe before listing history so nothing falls between the two
	if m.ws != nil {
		ch, err := m.subscribe(ctx)
		if err != nil {
			return nil
		}
		go m.pump(ctx, ch)
	}

	if err := m.bootstrap(ctx); err != nil {
		return nil
	}
	m.logger.Printf("[monitor] %s live: %d events, %d queued", m.market.Mint, m.agg.Len(), m.queue.len())

	if m.ws == nil {
		<-ctx.Done()
		return nil
	}
	for {
		n, err := m.queue.pop(ctx)
		if err != nil {
			return nil
		}
		m.handle(ctx, n)
	}
}

func (m *Monitor) subscribe(ctx context.Context) (<-chan solana.LogNotification, error) {
	filter := solana.LogsFilter{Mentions: []string{m.market.BondingCurve}}
	for {
		ch, err := m.ws.SubscribeLogs(ctx, filter)
		if err == nil {
			return ch, nil
		}
		m.logger.Printf("[monitor] Error subscribing to %s logs: %v", m.market.Mint, err)
		m.setError(err)
		if err := sleepCtx(ctx, m.retryDelay); err != nil {
			return nil, err
		}
	}
}

func (m *Monitor) pump(ctx context.Context, ch <-chan solana.LogNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				m.logger.Printf("[monitor] %s log subscription closed", m.market.Mint)
				return
			}
			m.queue.push(n)
		}
	}
}

// bootstrap restores stored state and backfills, retrying until it succeeds
// or ctx is done.
func (m *Monitor) bootstrap(ctx context.Context) error {
	m.setState(domain.StateBackfilling, nil)
	until := m.resume(ctx)
	for {
		err := m.backfill(ctx, until)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.fail(err)
		if err := sleepCtx(ctx, m.retryDelay); err != nil {
			return err
		}
	}
}

// resume reloads stored events when a completed cursor exists and returns
// the newest processed signature, or "" when a full backfill is needed.
func (m *Monitor) resume(ctx context.Context) string {
	if m.events == nil || m.cursors == nil {
		return ""
	}
	cursor, err := m.cursors.Get(ctx, m.market.Mint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Printf("[monitor] Error loading cursor for %s: %v", m.market.Mint, err)
		}
		return ""
	}
	if !cursor.Complete || cursor.NewestSignature == "" {
		return ""
	}

	stored, err := m.events.GetByMint(ctx, m.market.Mint)
	if err != nil {
		m.logger.Printf("[monitor] Error loading stored events for %s: %v", m.market.Mint, err)
		return ""
	}
	events := make([]domain.TradeEvent, 0, len(stored))
	for _, e := range stored {
		events = append(events, *e)
	}
	m.agg.ApplyBatch(events)
	if m.resolveFirstSlot(nil) {
		m.agg.Retag(m.tag)
	}
	m.rebuildBook()
	m.lastTS = cursor.NewestTimestamp
	m.oldestSig = cursor.OldestSignature

	m.logger.Printf("[monitor] Resumed %s from %d stored events (newest=%s)", m.market.Mint, len(events), cursor.NewestSignature)
	return cursor.NewestSignature
}

// backfill fetches everything newer than until and folds it in one batch.
// Nothing is applied unless the whole fetch succeeded.
func (m *Monitor) backfill(ctx context.Context, until string) error {
	start := time.Now()

	res, err := m.backfiller.Backfill(ctx, m.market, until)
	if err != nil {
		return err
	}

	moved := m.resolveFirstSlot(res.Events)
	for i := range res.Events {
		m.tag(&res.Events[i])
	}
	if moved {
		m.agg.Retag(m.tag)
	}
	added := m.agg.ApplyBatch(res.Events)
	m.rebuildBook()
	if m.oldestSig == "" {
		m.oldestSig = res.Oldest
	}
	for i := range added {
		observability.RecordTradeEvent(string(added[i].Type))
	}
	observability.RecordBackfill(time.Since(start), len(added))

	m.refreshCurve(ctx)
	m.setState(domain.StateLive, added)
	m.publish(ctx, Update{
		Mint:      m.market.Mint,
		Events:    added,
		Candles:   m.allCandles(),
		Reset:     true,
		Recent:    m.agg.Recent(m.recent),
		Positions: m.book.Positions(),
		Anomalies: m.book.Anomalies(),
	})
	m.saveCursor(ctx)
	return nil
}

func (m *Monitor) handle(ctx context.Context, n solana.LogNotification) {
	if n.Resubscribed {
		m.logger.Printf("[monitor] %s subscription restored, replaying gap", m.market.Mint)
		m.replay(ctx)
		return
	}
	if n.Err != nil || n.Signature == "" || m.agg.Has(n.Signature) {
		return
	}

	tx, err := m.rpc.GetTransaction(ctx, n.Signature)
	if err == nil && tx == nil {
		err = fmt.Errorf("transaction %s not found", n.Signature)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// the gap replay after the delay picks the transaction up again
		m.fail(err)
		if sleepCtx(ctx, m.retryDelay) == nil {
			m.replay(ctx)
		}
		return
	}

	ev, err := normalization.Normalize(tx, m.market)
	if err != nil {
		observability.RecordDropped(normalization.Reason(err))
		return
	}
	m.applyLive(ctx, []domain.TradeEvent{*ev})
}

// replay runs gap replays until one succeeds or ctx is done.
func (m *Monitor) replay(ctx context.Context) {
	for {
		err := m.gapReplay(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.fail(err)
		if sleepCtx(ctx, m.retryDelay) != nil {
			return
		}
	}
}

// gapReplay re-lists the newest signatures back to the last processed block
// time and applies the ones not yet seen.
func (m *Monitor) gapReplay(ctx context.Context) error {
	since := m.lastTS
	infos, err := m.backfiller.ListSignatures(ctx, m.market.BondingCurve, "", func(info solana.SignatureInfo) bool {
		return info.BlockTime != nil && *info.BlockTime < since
	}, m.replayLimit)
	if err != nil {
		return err
	}

	var missing []solana.SignatureInfo
	for _, info := range oldestFirst(infos) {
		if info.Err != nil || m.agg.Has(info.Signature) {
			continue
		}
		missing = append(missing, info)
	}

	events, _, err := m.backfiller.FetchEvents(ctx, m.market, missing)
	if err != nil {
		return err
	}
	candles.SortEvents(events)
	applied := m.applyLive(ctx, events)
	observability.RecordGapReplay(applied)

	m.refreshCurve(ctx)
	m.setState(domain.StateLive, nil)
	m.logger.Printf("[monitor] Gap replay for %s: %d signatures listed, %d applied", m.market.Mint, len(infos), applied)
	return nil
}

// applyLive folds events one by one and publishes the resulting changes.
// A late event re-folds candles and rebuilds positions from the full log.
// An event below the first slot re-tags the whole log.
func (m *Monitor) applyLive(ctx context.Context, events []domain.TradeEvent) int {
	u := Update{Mint: m.market.Mint}
	anomaliesBefore := len(m.book.Anomalies())
	changed := make(map[string]domain.Position)
	touched := make(map[candleKey]domain.Candle)

	var fresh []domain.TradeEvent
	for _, ev := range events {
		if !m.agg.Has(ev.Signature) {
			fresh = append(fresh, ev)
		}
	}
	if m.resolveFirstSlot(fresh) && m.agg.Len() > 0 {
		m.agg.Retag(m.tag)
		u.Reset = true
	}

	for _, ev := range events {
		m.tag(&ev)
		cu, added := m.agg.Apply(ev)
		if !added {
			continue
		}
		u.Events = append(u.Events, ev)
		observability.RecordTradeEvent(string(ev.Type))

		if cu.Refolded {
			u.Reset = true
		}
		if u.Reset {
			continue
		}
		for _, c := range cu.Candles {
			touched[candleKey{c.Timeframe, c.BucketStart}] = c
		}
		if p, _ := m.book.Apply(ev); p != nil {
			changed[p.Wallet] = *p
		}
		if ev.Type.Priced() {
			for _, p := range m.book.MarkPrice(ev.Price, ev.Timestamp) {
				changed[p.Wallet] = p
			}
		}
	}
	if len(u.Events) == 0 {
		return 0
	}

	if u.Reset {
		m.rebuildBook()
		u.Candles = m.allCandles()
		u.Recent = m.agg.Recent(m.recent)
		u.Positions = m.book.Positions()
		u.Anomalies = m.book.Anomalies()
	} else {
		u.Candles = orderedCandles(m.agg.Timeframes(), touched)
		u.Positions = orderedPositions(changed)
		u.Anomalies = m.book.Anomalies()[anomaliesBefore:]
	}

	m.setState(domain.StateLive, u.Events)
	m.publish(ctx, u)
	m.saveCursor(ctx)
	return len(u.Events)
}

// rebuildBook replays the whole event log into a fresh book.
func (m *Monitor) rebuildBook() {
	m.book = positions.NewBook(m.market.Mint, m.posOpts)
	var last domain.TradeEvent
	for _, ev := range m.agg.Events() {
		_, _ = m.book.Apply(ev)
		if ev.Type.Priced() && ev.Price > 0 {
			last = ev
		}
	}
	if last.Price > 0 {
		m.book.MarkPrice(last.Price, last.Timestamp)
	}
}

// resolveFirstSlot fixes the slot that block offsets are measured from:
// the market's first seen slot when known, else the lowest slot of the log
// and events. It reports whether the slot changed.
func (m *Monitor) resolveFirstSlot(events []domain.TradeEvent) bool {
	first := m.market.FirstSeenSlot
	if first <= 0 {
		first = m.agg.FirstSlot()
		for i := range events {
			if s := events[i].Slot; s > 0 && (first == 0 || s < first) {
				first = s
			}
		}
		if m.firstSlot > 0 && (first == 0 || first > m.firstSlot) {
			first = m.firstSlot
		}
	}
	if first == m.firstSlot {
		return false
	}
	m.firstSlot = first
	return true
}

func (m *Monitor) tag(ev *domain.TradeEvent) {
	tagging.Apply(ev, m.firstSlot, m.tagOpts)
}

func (m *Monitor) refreshCurve(ctx context.Context) {
	state, err := discovery.FetchCurveState(ctx, m.rpc, m.market.BondingCurve)
	if err != nil {
		if !errors.Is(err, discovery.ErrAccountNotFound) && ctx.Err() == nil {
			m.logger.Printf("[monitor] Error fetching curve state for %s: %v", m.market.Mint, err)
		}
		return
	}
	m.statusMu.Lock()
	m.status.Graduated = state.Complete
	m.statusMu.Unlock()
}

func (m *Monitor) allCandles() []domain.Candle {
	var out []domain.Candle
	for _, tf := range m.agg.Timeframes() {
		out = append(out, m.agg.Candles(tf.Label)...)
	}
	return out
}

func (m *Monitor) publish(ctx context.Context, u Update) {
	if m.sink == nil {
		return
	}
	u.Status = m.Status()
	if err := m.sink.Publish(ctx, u); err != nil && ctx.Err() == nil {
		m.logger.Printf("[monitor] Error publishing update for %s: %v", m.market.Mint, err)
	}
}

func (m *Monitor) saveCursor(ctx context.Context) {
	if m.cursors == nil {
		return
	}
	last, ok := m.agg.Last()
	if !ok {
		return
	}
	c := &domain.BackfillCursor{
		Mint:            m.market.Mint,
		OldestSignature: m.oldestSig,
		NewestSignature: last.Signature,
		NewestTimestamp: m.lastTS,
		Complete:        true,
		UpdatedAt:       m.now().Unix(),
	}
	if err := m.cursors.Put(ctx, c); err != nil && ctx.Err() == nil {
		m.logger.Printf("[monitor] Error saving cursor for %s: %v", m.market.Mint, err)
	}
}

// fail records err in the status. Pool exhaustion marks the token
// rpc_unavailable and is reported upward.
func (m *Monitor) fail(err error) {
	m.logger.Printf("[monitor] Error for %s: %v", m.market.Mint, err)
	m.setError(err)
	if rpcpool.IsExhausted(err) {
		m.setState(domain.StateRPCUnavailable, nil)
		if m.onExhausted != nil {
			m.onExhausted(m.market.Mint, err)
		}
	}
}

func (m *Monitor) setError(err error) {
	m.statusMu.Lock()
	m.status.LastError = err.Error()
	m.statusMu.Unlock()
}

// setState moves the status to state and accounts for newly applied events.
func (m *Monitor) setState(state domain.TokenState, applied []domain.TradeEvent) {
	for i := range applied {
		if applied[i].Timestamp > m.lastTS {
			m.lastTS = applied[i].Timestamp
		}
	}

	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status.State = state
	m.status.Events = m.agg.Len()
	m.status.Anomalies = len(m.book.Anomalies())
	if state == domain.StateLive {
		m.status.LastError = ""
	}
	if last, ok := m.agg.Last(); ok {
		m.status.LastSignature = last.Signature
	}
	for i := range applied {
		if applied[i].Type.Priced() && applied[i].Timestamp > m.status.LastTradeAt {
			m.status.LastTradeAt = applied[i].Timestamp
		}
	}
}

type candleKey struct {
	timeframe string
	bucket    int64
}

// orderedCandles lists touched candles by configured timeframe, then bucket.
func orderedCandles(tfs []domain.Timeframe, touched map[candleKey]domain.Candle) []domain.Candle {
	var out []domain.Candle
	for _, tf := range tfs {
		var series []domain.Candle
		for k, c := range touched {
			if k.timeframe == tf.Label {
				series = append(series, c)
			}
		}
		sort.Slice(series, func(i, j int) bool { return series[i].BucketStart < series[j].BucketStart })
		out = append(out, series...)
	}
	return out
}

func orderedPositions(changed map[string]domain.Position) []domain.Position {
	out := make([]domain.Position, 0, len(changed))
	for _, p := range changed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
