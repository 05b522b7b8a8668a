// Package main runs the indexer: it tracks configured and discovered tokens,
// persists their trades, candles and positions, and serves the live feed.
//
// Configuration is read from an optional YAML file, a .env file and the
// environment; flags set on the command line override all of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"curvewatch/internal/config"
	"curvewatch/internal/discovery"
	"curvewatch/internal/domain"
	"curvewatch/internal/feed"
	"curvewatch/internal/ingestion"
	"curvewatch/internal/observability"
	"curvewatch/internal/rpcpool"
	"curvewatch/internal/solana"
	"curvewatch/internal/storage"
	chstore "curvewatch/internal/storage/clickhouse"
	"curvewatch/internal/storage/memory"
	pgstore "curvewatch/internal/storage/postgres"
	"curvewatch/internal/storage/schema"
)

// allStores holds all storage implementations.
type allStores struct {
	markets   storage.TokenMarketStore
	events    storage.TradeEventStore
	candles   storage.CandleStore
	positions storage.PositionStore
	cursors   storage.CursorStore
	anomalies storage.AnomalyStore
}

func main() {
	configPath := flag.String("config", os.Getenv("CURVEWATCH_CONFIG"), "YAML config file")
	rpcEndpoints := flag.String("rpc-endpoints", "", "Comma-separated Solana RPC HTTP endpoints")
	wsEndpoint := flag.String("ws-endpoint", "", "Solana WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	tokens := flag.String("tokens", "", "Comma-separated mints to track from start")
	discover := flag.Bool("discovery", true, "Track tokens created on the launch program")
	maxTokens := flag.Int("max-tokens", 0, "Maximum tracked tokens (0 = unlimited)")
	feedAddr := flag.String("feed-addr", "", "Feed HTTP address")
	metricsAddr := flag.String("metrics-addr", "", "Separate Prometheus metrics HTTP address")
	debug := flag.Bool("debug", false, "Run the HTTP router in debug mode")

	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// flags given on the command line win
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rpc-endpoints":
			cfg.RPC.Endpoints = config.SplitList(*rpcEndpoints)
		case "ws-endpoint":
			cfg.RPC.WSEndpoint = *wsEndpoint
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickhouseDSN = *clickhouseDSN
		case "use-memory":
			cfg.Storage.UseMemory = *useMemory
		case "tokens":
			cfg.Tokens = config.SplitList(*tokens)
		case "discovery":
			cfg.Discovery.Enabled = *discover
		case "max-tokens":
			cfg.Discovery.MaxTokens = *maxTokens
		case "feed-addr":
			cfg.Feed.Addr = *feedAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, stores, *debug, logger)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Indexer error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, stores *allStores, debug bool, logger *log.Logger) error {
	timeframes, err := cfg.Timeframes()
	if err != nil {
		return err
	}

	dispatcher, err := rpcpool.NewHTTP(cfg.RPC.Endpoints, cfg.RPC.Timeout, withLogger(cfg.DispatcherOptions(), logger))
	if err != nil {
		return fmt.Errorf("create rpc pool: %w", err)
	}
	logger.Printf("RPC pool: %d endpoints, ceiling %d per %s", len(cfg.RPC.Endpoints), cfg.RPC.Ceiling, cfg.RPC.Window)

	var ws solana.WSClient
	if cfg.RPC.WSEndpoint != "" {
		client, err := solana.NewWSClient(ctx, cfg.RPC.WSEndpoint, nil)
		if err != nil {
			return fmt.Errorf("connect websocket: %w", err)
		}
		defer client.Close()
		ws = client
	} else {
		logger.Println("No websocket endpoint: tokens are backfilled once and not followed live")
	}

	hub := feed.NewHub(feed.HubOptions{
		RecentTrades: cfg.Feed.RecentTrades,
		ClientBuffer: cfg.Feed.ClientBuffer,
		Logger:       logger,
	})
	sink := ingestion.MultiSink{
		&ingestion.StoreSink{
			Events:    stores.events,
			Candles:   stores.candles,
			Positions: stores.positions,
			Anomalies: stores.anomalies,
		},
		hub,
	}

	supervisor := ingestion.NewSupervisor(ingestion.SupervisorOptions{
		Monitor: ingestion.MonitorOptions{
			WS:               ws,
			Sink:             sink,
			Events:           stores.events,
			Cursors:          stores.cursors,
			Timeframes:       timeframes,
			Tagging:          cfg.TaggingOptions(),
			Positions:        cfg.PositionOptions(),
			FetchConcurrency: cfg.RPC.FetchConcurrency,
			RecentTrades:     cfg.Feed.RecentTrades,
			IdleAfter:        cfg.IdleAfter,
			Logger:           logger,
		},
		RPCFor:      func(mint string) solana.RPCClient { return dispatcher.Caller(mint) },
		Markets:     stores.markets,
		MaxTokens:   cfg.Discovery.MaxTokens,
		PauseWindow: cfg.Discovery.PauseWindow,
		Logger:      logger,
	})

	markets, err := initialMarkets(ctx, cfg, stores.markets, logger)
	if err != nil {
		return err
	}

	server := feed.NewServer(feed.ServerOptions{
		Hub:       hub,
		Status:    supervisor,
		Endpoints: dispatcher,
		Markets:   stores.markets,
		Candles:   stores.candles,
		Events:    stores.events,
		Positions: stores.positions,
		Anomalies: stores.anomalies,
		Debug:     debug,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if err := supervisor.Start(gctx, markets...); err != nil {
		return err
	}
	logger.Printf("Tracking %d tokens", len(markets))

	g.Go(func() error {
		return server.Run(gctx, cfg.Feed.Addr)
	})

	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.Feed.Addr {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, logger)
		})
	}

	if cfg.Discovery.Enabled && ws != nil {
		discoverer := ingestion.NewDiscoverer(ingestion.DiscovererOptions{
			WS:        ws,
			RPC:       dispatcher.Caller("discovery"),
			Detector:  discovery.NewDetector(cfg.ProgramID, stores.markets),
			Tracker:   supervisor,
			ProgramID: cfg.ProgramID,
			Logger:    logger,
		})
		g.Go(func() error {
			return discoverer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		supervisor.Wait()
		return nil
	})

	return g.Wait()
}

// initialMarkets merges the stored markets with the configured mints.
func initialMarkets(ctx context.Context, cfg *config.Config, store storage.TokenMarketStore, logger *log.Logger) ([]domain.TokenMarket, error) {
	stored, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored markets: %w", err)
	}

	seen := make(map[string]bool)
	var out []domain.TokenMarket
	for _, m := range stored {
		seen[m.Mint] = true
		out = append(out, *m)
	}
	for _, mint := range cfg.Tokens {
		if seen[mint] {
			continue
		}
		m, err := discovery.DeriveMarket(mint, cfg.ProgramID, solana.TokenProgramID)
		if err != nil {
			logger.Printf("Skipping token %s: %v", mint, err)
			continue
		}
		seen[mint] = true
		out = append(out, *m)
	}
	return out, nil
}

func withLogger(opts rpcpool.Options, logger *log.Logger) rpcpool.Options {
	opts.Logger = logger
	return opts
}

// serveMetrics serves /metrics on its own address until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting metrics server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func createStores(ctx context.Context, cfg *config.Config) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &allStores{
			markets:   memory.NewTokenMarketStore(),
			events:    memory.NewTradeEventStore(),
			candles:   memory.NewCandleStore(),
			positions: memory.NewPositionStore(),
			cursors:   memory.NewCursorStore(),
			anomalies: memory.NewAnomalyStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := schema.EnsurePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	// ClickHouse: the database may not exist yet
	admin, err := chstore.NewConnWithDatabase(ctx, cfg.Storage.ClickhouseDSN, "")
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	_, err = schema.EnsureClickhouseDatabase(ctx, admin, cfg.Storage.ClickhouseDSN)
	admin.Close()
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	chConn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := schema.EnsureClickhouse(ctx, chConn); err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("apply clickhouse schema: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (source data and derived state)
		markets:   pgstore.NewTokenMarketStore(pool),
		events:    pgstore.NewTradeEventStore(pool),
		positions: pgstore.NewPositionStore(pool),
		cursors:   pgstore.NewCursorStore(pool),
		anomalies: pgstore.NewAnomalyStore(pool),

		// ClickHouse stores (analytics)
		candles: chstore.NewCandleStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}
