// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// RPC access metrics
	RPCRequests     *prometheus.CounterVec
	RPCCallLatency  *prometheus.HistogramVec
	RPCCeilingWaits *prometheus.HistogramVec
	RPCExhausted    *prometheus.CounterVec
	RPCWindowInUse  *prometheus.GaugeVec

	// Normalization metrics
	TradeEventsEmitted  *prometheus.CounterVec
	TransactionsDropped *prometheus.CounterVec

	// Aggregation metrics
	CandleUpserts     *prometheus.CounterVec
	CandleRefolds     prometheus.Counter
	OrderingAnomalies *prometheus.CounterVec

	// Position metrics
	PositionsOpened prometheus.Counter
	PositionsClosed prometheus.Counter

	// Ingestion metrics
	TokensTracked    prometheus.Gauge
	TokensDiscovered prometheus.Counter
	DiscoveryPaused  prometheus.Counter
	BackfillDuration prometheus.Histogram
	BackfillEvents   prometheus.Counter
	GapReplays       prometheus.Counter
	GapReplayEvents  prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Feed metrics
	FeedSubscribers prometheus.Gauge
	FeedDropped     prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "curvewatch"
	}

	return &Metrics{
		RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC requests dispatched by endpoint, method and outcome",
		}, []string{"endpoint", "method", "outcome"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCeilingWaits: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "ceiling_wait_seconds",
			Help:      "Time spent waiting for an endpoint window to free up",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		RPCExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "retries_exhausted_total",
			Help:      "Calls that failed on every attempt, by method and error kind",
		}, []string{"method", "kind"}),
		RPCWindowInUse: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "window_requests",
			Help:      "Requests counted in the trailing window per endpoint",
		}, []string{"endpoint"}),

		TradeEventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalization",
			Name:      "trade_events_total",
			Help:      "Trade events emitted by type",
		}, []string{"type"}),
		TransactionsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalization",
			Name:      "transactions_dropped_total",
			Help:      "Transactions that produced no event, by reason",
		}, []string{"reason"}),

		CandleUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "upserts_total",
			Help:      "Candle upserts by timeframe",
		}, []string{"timeframe"}),
		CandleRefolds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "refolds_total",
			Help:      "Full re-folds caused by out-of-order events",
		}),
		OrderingAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "ordering_anomalies_total",
			Help:      "Discarded events that contradict position state",
		}, []string{"kind"}),

		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "opened_total",
			Help:      "Positions opened, including re-entries",
		}),
		PositionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Positions that reached a near-zero holding",
		}),

		TokensTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tokens_tracked",
			Help:      "Tokens with a running monitor",
		}),
		TokensDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "tokens_discovered_total",
			Help:      "Creation transactions decoded into token markets",
		}),
		DiscoveryPaused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "backpressure_rejections_total",
			Help:      "Tokens not tracked because discovery was paused",
		}),
		BackfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "backfill_duration_seconds",
			Help:      "Wall time of a token backfill",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		BackfillEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "backfill_events_total",
			Help:      "Trade events folded during backfill",
		}),
		GapReplays: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "gap_replays_total",
			Help:      "Reconnect gap replays run",
		}),
		GapReplayEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "gap_replay_events_total",
			Help:      "Trade events recovered by gap replay",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "queue_depth",
			Help:      "Pending notifications across all token queues",
		}),

		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Connected live feed subscribers",
		}),
		FeedDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "slow_subscribers_dropped_total",
			Help:      "Subscribers disconnected because their buffer was full",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCRequest records one dispatched RPC attempt.
func RecordRPCRequest(endpoint, method, outcome string, d time.Duration) {
	DefaultMetrics.RPCRequests.WithLabelValues(endpoint, method, outcome).Inc()
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordCeilingWait records a wait imposed by the hard ceiling.
func RecordCeilingWait(endpoint string, d time.Duration) {
	DefaultMetrics.RPCCeilingWaits.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordRPCExhausted records a call that ran out of attempts.
func RecordRPCExhausted(method, kind string) {
	DefaultMetrics.RPCExhausted.WithLabelValues(method, kind).Inc()
}

// UpdateWindowInUse sets the trailing-window request count of an endpoint.
func UpdateWindowInUse(endpoint string, n int) {
	DefaultMetrics.RPCWindowInUse.WithLabelValues(endpoint).Set(float64(n))
}

// RecordTradeEvent increments the emitted events counter.
func RecordTradeEvent(eventType string) {
	DefaultMetrics.TradeEventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordDropped records a transaction that yielded no event.
func RecordDropped(reason string) {
	DefaultMetrics.TransactionsDropped.WithLabelValues(reason).Inc()
}

// RecordCandleUpsert records a candle change on a timeframe.
func RecordCandleUpsert(timeframe string) {
	DefaultMetrics.CandleUpserts.WithLabelValues(timeframe).Inc()
}

// RecordRefold records a full re-fold of a token's candles.
func RecordRefold() {
	DefaultMetrics.CandleRefolds.Inc()
}

// RecordOrderingAnomaly records a discarded inconsistent event.
func RecordOrderingAnomaly(kind string) {
	DefaultMetrics.OrderingAnomalies.WithLabelValues(kind).Inc()
}

// RecordPositionOpened increments the opened positions counter.
func RecordPositionOpened() {
	DefaultMetrics.PositionsOpened.Inc()
}

// RecordPositionClosed increments the closed positions counter.
func RecordPositionClosed() {
	DefaultMetrics.PositionsClosed.Inc()
}

// UpdateTokensTracked sets the tracked tokens gauge.
func UpdateTokensTracked(n int) {
	DefaultMetrics.TokensTracked.Set(float64(n))
}

// RecordTokenDiscovered increments the discovered tokens counter.
func RecordTokenDiscovered() {
	DefaultMetrics.TokensDiscovered.Inc()
}

// RecordDiscoveryPaused records a token refused under backpressure.
func RecordDiscoveryPaused() {
	DefaultMetrics.DiscoveryPaused.Inc()
}

// RecordBackfill records a completed backfill.
func RecordBackfill(d time.Duration, events int) {
	DefaultMetrics.BackfillDuration.Observe(d.Seconds())
	DefaultMetrics.BackfillEvents.Add(float64(events))
}

// RecordGapReplay records a completed reconnect replay.
func RecordGapReplay(events int) {
	DefaultMetrics.GapReplays.Inc()
	DefaultMetrics.GapReplayEvents.Add(float64(events))
}

// AddQueueDepth adjusts the pending notification gauge.
func AddQueueDepth(delta int) {
	DefaultMetrics.QueueDepth.Add(float64(delta))
}

// UpdateFeedSubscribers sets the subscriber gauge.
func UpdateFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}

// RecordFeedDropped counts a slow subscriber disconnect.
func RecordFeedDropped() {
	DefaultMetrics.FeedDropped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
