// Package main checks persisted candles and positions against a refold of
// the persisted trade events and prints the report as JSON. It exits with
// status 2 when any token diverges.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"curvewatch/internal/config"
	chstore "curvewatch/internal/storage/clickhouse"
	pgstore "curvewatch/internal/storage/postgres"
	"curvewatch/internal/verification"
)

func main() {
	configPath := flag.String("config", os.Getenv("CURVEWATCH_CONFIG"), "YAML config file")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	mint := flag.String("mint", "", "Verify one token instead of all stored tokens")

	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = *clickhouseDSN
	}
	if cfg.Storage.PostgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	timeframes, err := cfg.Timeframes()
	if err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	opts := verification.RefoldVerifierOptions{
		Markets:         pgstore.NewTokenMarketStore(pool),
		Events:          pgstore.NewTradeEventStore(pool),
		Positions:       pgstore.NewPositionStore(pool),
		Timeframes:      timeframes,
		PositionOptions: cfg.PositionOptions(),
	}
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to clickhouse: %v", err)
		}
		defer conn.Close()
		opts.Candles = chstore.NewCandleStore(conn)
	} else {
		logger.Println("No clickhouse dsn: candles are not verified")
	}
	verifier := verification.NewRefoldVerifier(opts)

	var report *verification.Report
	if *mint != "" {
		result, err := verifier.VerifyToken(ctx, *mint)
		if err != nil {
			logger.Fatalf("Verification failed: %v", err)
		}
		report = &verification.Report{TotalTokens: 1, Results: []verification.Result{*result}}
		if result.Match {
			report.MatchedTokens = 1
		} else {
			report.DivergentTokens = 1
		}
	} else {
		report, err = verifier.VerifyAll(ctx)
		if err != nil {
			logger.Fatalf("Verification failed: %v", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatalf("Failed to write report: %v", err)
	}
	logger.Printf("%d tokens, %d matched, %d divergent", report.TotalTokens, report.MatchedTokens, report.DivergentTokens)
	if report.DivergentTokens > 0 {
		os.Exit(2)
	}
}
