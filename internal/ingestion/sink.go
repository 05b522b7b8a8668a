package ingestion

import (
	"context"
	"errors"
	"fmt"

	"curvewatch/internal/domain"
	"curvewatch/internal/observability"
	"curvewatch/internal/storage"
)

// Update is one batch of state changes of a single token, in fold order.
type Update struct {
	Mint   string
	Events []domain.TradeEvent // newly applied events

	// Candles holds changed candles. When Reset is set it holds every
	// series of the token and consumers replace what they have.
	Candles []domain.Candle
	Reset   bool
	Recent  []domain.TradeEvent // newest events of the log, set with Reset

	Positions []domain.Position // changed positions, all positions when Reset
	Anomalies []domain.Anomaly  // newly recorded anomalies
	Status    domain.TokenStatus
}

// Sink consumes token updates. Publish is called from the token's owner
// goroutine; implementations must not retain the slices.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// MultiSink fans an update out to every sink and joins their errors.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

// Publish delivers u to every sink, in order.
func (s MultiSink) Publish(ctx context.Context, u Update) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreSink persists updates. Nil stores are skipped.
type StoreSink struct {
	Events    storage.TradeEventStore
	Candles   storage.CandleStore
	Positions storage.PositionStore
	Anomalies storage.AnomalyStore
}

var _ Sink = (*StoreSink)(nil)

// Publish writes events, candles, positions and anomalies of u.
func (s *StoreSink) Publish(ctx context.Context, u Update) error {
	if s.Events != nil && len(u.Events) > 0 {
		events := make([]*domain.TradeEvent, len(u.Events))
		for i := range u.Events {
			events[i] = &u.Events[i]
		}
		if _, err := s.Events.InsertBulk(ctx, events); err != nil {
			return fmt.Errorf("store trade events: %w", err)
		}
	}

	if s.Candles != nil && len(u.Candles) > 0 {
		candles := make([]*domain.Candle, len(u.Candles))
		for i := range u.Candles {
			candles[i] = &u.Candles[i]
		}
		if err := s.Candles.Upsert(ctx, candles); err != nil {
			return fmt.Errorf("store candles: %w", err)
		}
		for i := range u.Candles {
			observability.RecordCandleUpsert(u.Candles[i].Timeframe)
		}
	}

	if s.Positions != nil && len(u.Positions) > 0 {
		positions := make([]*domain.Position, len(u.Positions))
		for i := range u.Positions {
			positions[i] = &u.Positions[i]
		}
		if err := s.Positions.Upsert(ctx, positions); err != nil {
			return fmt.Errorf("store positions: %w", err)
		}
	}

	if s.Anomalies != nil && len(u.Anomalies) > 0 {
		anomalies := make([]*domain.Anomaly, len(u.Anomalies))
		for i := range u.Anomalies {
			anomalies[i] = &u.Anomalies[i]
		}
		if err := s.Anomalies.InsertBulk(ctx, anomalies); err != nil {
			return fmt.Errorf("store anomalies: %w", err)
		}
	}
	return nil
}
