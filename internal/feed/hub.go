// Package feed keeps a per-token view of the indexer's output and pushes it
// to websocket subscribers: a full snapshot on subscribe, increments after.
package feed

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"curvewatch/internal/domain"
	"curvewatch/internal/ingestion"
	"curvewatch/internal/observability"
)

// Message types
const (
	MessageSnapshot = "snapshot" // full state, first message of a subscription
	MessageUpdate   = "update"   // increment; candles upsert by bucket
	MessageReset    = "reset"    // full state replacing what the client has
)

// Defaults
const (
	DefaultRecentTrades = 100
	DefaultClientBuffer = 256
)

// Message is one frame sent to a subscriber.
type Message struct {
	Type      string                     `json:"type"`
	Mint      string                     `json:"mint"`
	Seq       uint64                     `json:"seq"`
	Candles   map[string][]domain.Candle `json:"candles,omitempty"` // by timeframe label
	Trades    []domain.TradeEvent        `json:"trades,omitempty"`
	Positions []domain.Position          `json:"positions,omitempty"`
	Anomalies []domain.Anomaly           `json:"anomalies,omitempty"`
	Status    *domain.TokenStatus        `json:"status,omitempty"`
}

type tokenView struct {
	seq       uint64
	candles   map[string][]domain.Candle
	trades    []domain.TradeEvent // newest last
	positions map[string]domain.Position
	status    domain.TokenStatus
}

// Subscription receives the messages of one token. C is closed when the
// subscription ends, including when the hub drops a slow reader.
type Subscription struct {
	ID   string
	Mint string
	C    <-chan Message

	ch chan Message
}

// HubOptions contains configuration for creating a Hub.
type HubOptions struct {
	RecentTrades int // trades kept per token; Default: DefaultRecentTrades
	ClientBuffer int // per-subscriber queue; Default: DefaultClientBuffer
	Logger       *log.Logger
}

// Hub is an ingestion.Sink holding the latest view of every token.
type Hub struct {
	recent int
	buffer int
	logger *log.Logger

	mu     sync.RWMutex
	tokens map[string]*tokenView
	subs   map[string]map[string]*Subscription // mint -> id -> sub
	count  int
}

var _ ingestion.Sink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	recent := opts.RecentTrades
	if recent <= 0 {
		recent = DefaultRecentTrades
	}
	buffer := opts.ClientBuffer
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		recent: recent,
		buffer: buffer,
		logger: logger,
		tokens: make(map[string]*tokenView),
		subs:   make(map[string]map[string]*Subscription),
	}
}

// Publish folds u into the token's view and forwards it to subscribers.
// Subscribers whose queue is full are dropped rather than waited for.
func (h *Hub) Publish(_ context.Context, u ingestion.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := h.view(u.Mint)
	v.seq++
	status := u.Status
	v.status = status

	msg := Message{Mint: u.Mint, Seq: v.seq, Status: &status, Anomalies: u.Anomalies}
	if u.Reset {
		v.candles = groupCandles(u.Candles)
		v.trades = tail(u.Recent, h.recent)
		v.positions = make(map[string]domain.Position, len(u.Positions))
		for _, p := range u.Positions {
			v.positions[p.Wallet] = p
		}
		msg.Type = MessageReset
		msg.Candles = copySeries(v.candles)
		msg.Trades = append([]domain.TradeEvent(nil), v.trades...)
		msg.Positions = v.sortedPositions()
	} else {
		for _, c := range u.Candles {
			v.candles[c.Timeframe] = upsertCandle(v.candles[c.Timeframe], c)
		}
		v.trades = tail(append(v.trades, u.Events...), h.recent)
		for _, p := range u.Positions {
			v.positions[p.Wallet] = p
		}
		msg.Type = MessageUpdate
		if len(u.Candles) > 0 {
			msg.Candles = groupCandles(u.Candles)
		}
		msg.Trades = append([]domain.TradeEvent(nil), u.Events...)
		msg.Positions = append([]domain.Position(nil), u.Positions...)
	}

	for id, sub := range h.subs[u.Mint] {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Printf("[feed] Dropping slow subscriber %s on %s", id, u.Mint)
			observability.RecordFeedDropped()
			h.removeLocked(sub)
		}
	}
	return nil
}

// Subscribe registers a subscriber for mint. The snapshot is queued before
// the subscription becomes visible to Publish, so no increment can precede
// it or be missed.
func (h *Hub) Subscribe(mint string) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), Mint: mint, C: ch, ch: ch}

	h.mu.Lock()
	ch <- h.snapshotLocked(mint)
	if h.subs[mint] == nil {
		h.subs[mint] = make(map[string]*Subscription)
	}
	h.subs[mint][sub.ID] = sub
	h.count++
	n := h.count
	h.mu.Unlock()

	observability.UpdateFeedSubscribers(n)
	return sub
}

// Unsubscribe ends sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.subs[sub.Mint]
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.subs, sub.Mint)
	}
	close(sub.ch)
	h.count--
	observability.UpdateFeedSubscribers(h.count)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Snapshot returns the full current view of mint.
func (h *Hub) Snapshot(mint string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tokens[mint]
	return h.snapshotLocked(mint), ok
}

// Mints returns every token the hub has seen, sorted.
func (h *Hub) Mints() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.tokens))
	for m := range h.tokens {
		out = append(out, m)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Statuses returns the last published status of every token.
func (h *Hub) Statuses() []domain.TokenStatus {
	h.mu.RLock()
	out := make([]domain.TokenStatus, 0, len(h.tokens))
	for _, v := range h.tokens {
		out = append(out, v.status)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Candles returns one series of mint.
func (h *Hub) Candles(mint, timeframe string) ([]domain.Candle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.tokens[mint]
	if !ok {
		return nil, false
	}
	return append([]domain.Candle(nil), v.candles[timeframe]...), true
}

// Trades returns up to limit of the newest trades of mint, newest last.
func (h *Hub) Trades(mint string, limit int) ([]domain.TradeEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.tokens[mint]
	if !ok {
		return nil, false
	}
	return append([]domain.TradeEvent(nil), tail(v.trades, limit)...), true
}

// Positions returns the positions of mint ordered by wallet.
func (h *Hub) Positions(mint string) ([]domain.Position, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.tokens[mint]
	if !ok {
		return nil, false
	}
	return v.sortedPositions(), true
}

func (h *Hub) view(mint string) *tokenView {
	v, ok := h.tokens[mint]
	if !ok {
		v = &tokenView{
			candles:   make(map[string][]domain.Candle),
			positions: make(map[string]domain.Position),
			status:    domain.TokenStatus{Mint: mint},
		}
		h.tokens[mint] = v
	}
	return v
}

func (h *Hub) snapshotLocked(mint string) Message {
	msg := Message{Type: MessageSnapshot, Mint: mint}
	v, ok := h.tokens[mint]
	if !ok {
		return msg
	}
	status := v.status
	msg.Seq = v.seq
	msg.Status = &status
	msg.Candles = copySeries(v.candles)
	msg.Trades = append([]domain.TradeEvent(nil), v.trades...)
	msg.Positions = v.sortedPositions()
	return msg
}

func (v *tokenView) sortedPositions() []domain.Position {
	out := make([]domain.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// upsertCandle replaces or inserts c keeping series ordered by bucket.
func upsertCandle(series []domain.Candle, c domain.Candle) []domain.Candle {
	i := sort.Search(len(series), func(i int) bool { return series[i].BucketStart >= c.BucketStart })
	if i < len(series) && series[i].BucketStart == c.BucketStart {
		series[i] = c
		return series
	}
	series = append(series, domain.Candle{})
	copy(series[i+1:], series[i:])
	series[i] = c
	return series
}

func groupCandles(candles []domain.Candle) map[string][]domain.Candle {
	out := make(map[string][]domain.Candle)
	for _, c := range candles {
		out[c.Timeframe] = upsertCandle(out[c.Timeframe], c)
	}
	return out
}

func copySeries(m map[string][]domain.Candle) map[string][]domain.Candle {
	out := make(map[string][]domain.Candle, len(m))
	for tf, s := range m {
		out[tf] = append([]domain.Candle(nil), s...)
	}
	return out
}

func tail(events []domain.TradeEvent, n int) []domain.TradeEvent {
	if n > 0 && len(events) > n {
		return events[len(events)-n:]
	}
	return events
}
