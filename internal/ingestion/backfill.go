package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"curvewatch/internal/domain"
	"curvewatch/internal/normalization"
	"curvewatch/internal/observability"
	"curvewatch/internal/solana"
)

// DefaultFetchConcurrency bounds in-flight getTransaction calls per backfill.
const DefaultFetchConcurrency = 8

// Backfiller pages a bonding curve's signature history and normalizes it.
// It holds no token state: folding is left to the caller so that a
// cancelled backfill never produces partial candles.
type Backfiller struct {
	rpc         solana.RPCClient
	concurrency int
	pageSize    int
	logger      *log.Logger
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	RPC         solana.RPCClient
	Concurrency int // Default: DefaultFetchConcurrency
	PageSize    int // Default: solana.MaxSignaturesLimit
	Logger      *log.Logger
}

// BackfillResult contains backfill statistics and the normalized events.
type BackfillResult struct {
	Events     []domain.TradeEvent // fetch order: oldest signature first, untagged
	Signatures int                 // signatures listed, failed ones included
	Failed     int                 // signatures skipped because the tx failed
	Dropped    map[string]int      // normalization drop reason -> count
	Oldest     string              // oldest listed signature
	Newest     string              // newest listed signature
	Duration   time.Duration
}

// NewBackfiller creates a new backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > solana.MaxSignaturesLimit {
		pageSize = solana.MaxSignaturesLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Backfiller{
		rpc:         opts.RPC,
		concurrency: concurrency,
		pageSize:    pageSize,
		logger:      logger,
	}
}

// Backfill lists every signature of market's bonding curve newer than until
// (all of them when until is empty), fetches and normalizes them.
func (b *Backfiller) Backfill(ctx context.Context, market domain.TokenMarket, until string) (*BackfillResult, error) {
	start := time.Now()
	b.logger.Printf("[backfill] Starting backfill for %s (until=%q)", market.Mint, until)

	infos, err := b.ListSignatures(ctx, market.BondingCurve, until, nil, 0)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{
		Signatures: len(infos),
		Dropped:    make(map[string]int),
	}
	if len(infos) > 0 {
		result.Newest = infos[0].Signature
		result.Oldest = infos[len(infos)-1].Signature
	}

	pending := oldestFirst(infos)
	live := pending[:0]
	for _, info := range pending {
		if info.Err != nil {
			result.Failed++
			continue
		}
		live = append(live, info)
	}

	events, dropped, err := b.FetchEvents(ctx, market, live)
	if err != nil {
		return nil, err
	}
	result.Events = events
	for reason, n := range dropped {
		result.Dropped[reason] += n
	}
	result.Duration = time.Since(start)

	b.logger.Printf("[backfill] Backfill complete for %s: %d signatures, %d events, %d failed, %d dropped in %v",
		market.Mint, result.Signatures, len(result.Events), result.Failed, sumCounts(result.Dropped), result.Duration)
	return result, nil
}

// ListSignatures pages getSignaturesForAddress newest first. Paging ends at
// until, on a short page, at the first signature stop accepts, or after limit
// signatures when limit > 0. The stopping signature is not included.
func (b *Backfiller) ListSignatures(ctx context.Context, address, until string, stop func(solana.SignatureInfo) bool, limit int) ([]solana.SignatureInfo, error) {
	var (
		out    []solana.SignatureInfo
		before string
	)
	for {
		page, err := b.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{
			Before: before,
			Until:  until,
			Limit:  b.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list signatures for %s: %w", address, err)
		}
		for _, info := range page {
			if stop != nil && stop(info) {
				return out, nil
			}
			out = append(out, info)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(page) < b.pageSize {
			return out, nil
		}
		before = page[len(page)-1].Signature
	}
}

// FetchEvents fetches infos concurrently and normalizes them in the given
// order. Transactions the node does not return and transactions that do not
// normalize are counted by reason and skipped. Any RPC error aborts the whole
// fetch so that callers never fold a partial history.
func (b *Backfiller) FetchEvents(ctx context.Context, market domain.TokenMarket, infos []solana.SignatureInfo) ([]domain.TradeEvent, map[string]int, error) {
	txs := make([]*solana.Transaction, len(infos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, info := range infos {
		g.Go(func() error {
			tx, err := b.rpc.GetTransaction(gctx, info.Signature)
			if err != nil {
				return fmt.Errorf("get transaction %s: %w", info.Signature, err)
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	dropped := make(map[string]int)
	events := make([]domain.TradeEvent, 0, len(txs))
	for i, tx := range txs {
		if tx == nil {
			dropped["not_found"]++
			observability.RecordDropped("not_found")
			b.logger.Printf("[backfill] Transaction %s not found, skipping", infos[i].Signature)
			continue
		}
		ev, err := normalization.Normalize(tx, market)
		if err != nil {
			reason := normalization.Reason(err)
			dropped[reason]++
			observability.RecordDropped(reason)
			continue
		}
		events = append(events, *ev)
	}
	return events, dropped, nil
}

// oldestFirst returns a reversed copy of a newest-first signature list.
func oldestFirst(infos []solana.SignatureInfo) []solana.SignatureInfo {
	out := make([]solana.SignatureInfo, len(infos))
	for i, info := range infos {
		out[len(infos)-1-i] = info
	}
	return out
}

func sumCounts(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
