// Package main backfills one token's history once and prints its candles,
// and optionally its positions, as JSON. Nothing is persisted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curvewatch/internal/candles"
	"curvewatch/internal/config"
	"curvewatch/internal/discovery"
	"curvewatch/internal/domain"
	"curvewatch/internal/ingestion"
	"curvewatch/internal/positions"
	"curvewatch/internal/rpcpool"
	"curvewatch/internal/solana"
	"curvewatch/internal/tagging"
)

type output struct {
	Market     domain.TokenMarket         `json:"market"`
	Signatures int                        `json:"signatures"`
	Events     int                        `json:"events"`
	Dropped    map[string]int             `json:"dropped,omitempty"`
	Candles    map[string][]domain.Candle `json:"candles"`
	Positions  []domain.Position          `json:"positions,omitempty"`
	Anomalies  []domain.Anomaly           `json:"anomalies,omitempty"`
}

func main() {
	configPath := flag.String("config", os.Getenv("CURVEWATCH_CONFIG"), "YAML config file")
	mint := flag.String("mint", "", "Token mint to backfill (required)")
	rpcEndpoints := flag.String("rpc-endpoints", "", "Comma-separated Solana RPC HTTP endpoints")
	timeframes := flag.String("timeframes", "", "Comma-separated timeframes (default: configured set)")
	withPositions := flag.Bool("positions", false, "Include wallet positions")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall timeout")

	flag.Parse()

	logger := log.New(os.Stderr, "[backfill] ", log.LstdFlags)

	if *mint == "" {
		logger.Fatal("--mint is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *rpcEndpoints != "" {
		cfg.RPC.Endpoints = config.SplitList(*rpcEndpoints)
	}
	if *timeframes != "" {
		cfg.Candles.Timeframes = config.SplitList(*timeframes)
	}
	// nothing is stored
	cfg.Storage.UseMemory = true
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, cfg, *mint, *withPositions, logger)
	if err != nil {
		logger.Fatalf("Backfill failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatalf("Failed to write output: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, mint string, withPositions bool, logger *log.Logger) (*output, error) {
	tfs, err := cfg.Timeframes()
	if err != nil {
		return nil, err
	}
	market, err := discovery.DeriveMarket(mint, cfg.ProgramID, solana.TokenProgramID)
	if err != nil {
		return nil, err
	}

	opts := cfg.DispatcherOptions()
	opts.Logger = logger
	dispatcher, err := rpcpool.NewHTTP(cfg.RPC.Endpoints, cfg.RPC.Timeout, opts)
	if err != nil {
		return nil, fmt.Errorf("create rpc pool: %w", err)
	}

	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		RPC:         dispatcher.Caller(mint),
		Concurrency: cfg.RPC.FetchConcurrency,
		Logger:      logger,
	})
	res, err := backfiller.Backfill(ctx, *market, "")
	if err != nil {
		return nil, err
	}
	logger.Printf("Fetched %d signatures, %d events in %s", res.Signatures, len(res.Events), res.Duration.Round(time.Millisecond))

	events := res.Events
	candles.SortEvents(events)
	var firstSlot int64
	if len(events) > 0 {
		firstSlot = events[0].Slot
	}
	tagOpts := cfg.TaggingOptions()
	for i := range events {
		tagging.Apply(&events[i], firstSlot, tagOpts)
	}

	agg := candles.NewAggregator(mint, tfs)
	added := agg.ApplyBatch(events)

	out := &output{
		Market:     *market,
		Signatures: res.Signatures,
		Events:     len(added),
		Dropped:    res.Dropped,
		Candles:    agg.Snapshot(),
	}

	if withPositions {
		book := positions.NewBook(mint, cfg.PositionOptions())
		var last domain.TradeEvent
		for _, ev := range agg.Events() {
			_, _ = book.Apply(ev)
			if ev.Type.Priced() && ev.Price > 0 {
				last = ev
			}
		}
		if last.Price > 0 {
			book.MarkPrice(last.Price, last.Timestamp)
		}
		out.Positions = book.Positions()
		out.Anomalies = book.Anomalies()
	}
	return out, nil
}
