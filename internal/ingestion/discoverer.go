package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"curvewatch/internal/discovery"
	"curvewatch/internal/domain"
	"curvewatch/internal/observability"
	"curvewatch/internal/solana"
)

// Tracker is what the Discoverer hands new tokens to.
type Tracker interface {
	Track(market domain.TokenMarket) error
	Paused() bool
	Full() bool
}

var _ Tracker = (*Supervisor)(nil)

// Discoverer watches the launch program for token creations and tracks them.
type Discoverer struct {
	ws        solana.WSClient
	rpc       solana.RPCClient
	detector  *discovery.Detector
	tracker   Tracker
	programID string
	logger    *log.Logger
}

// DiscovererOptions contains configuration for creating a Discoverer.
type DiscovererOptions struct {
	WS        solana.WSClient
	RPC       solana.RPCClient
	Detector  *discovery.Detector
	Tracker   Tracker
	ProgramID string // Default: solana.PumpFunProgramID
	Logger    *log.Logger
}

// NewDiscoverer creates a new discoverer.
func NewDiscoverer(opts DiscovererOptions) *Discoverer {
	programID := opts.ProgramID
	if programID == "" {
		programID = solana.PumpFunProgramID
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	detector := opts.Detector
	if detector == nil {
		detector = discovery.NewDetector(programID, nil)
	}
	return &Discoverer{
		ws:        opts.WS,
		rpc:       opts.RPC,
		detector:  detector,
		tracker:   opts.Tracker,
		programID: programID,
		logger:    logger,
	}
}

// Run subscribes to the program's logs and tracks every new token until ctx
// is done or the subscription closes.
func (d *Discoverer) Run(ctx context.Context) error {
	if _, err := d.detector.Warm(ctx); err != nil {
		d.logger.Printf("[discovery] Error warming detector: %v", err)
	}

	ch, err := d.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{d.programID}})
	if err != nil {
		return fmt.Errorf("subscribe to program %s: %w", d.programID, err)
	}
	d.logger.Printf("[discovery] Subscribed to program: %s", d.programID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				d.logger.Println("[discovery] Program subscription closed")
				return nil
			}
			d.handle(ctx, n)
		}
	}
}

func (d *Discoverer) handle(ctx context.Context, n solana.LogNotification) {
	if n.Resubscribed || n.Err != nil || !discovery.IsCreateLog(n.Logs) {
		return
	}
	if d.tracker.Paused() || d.tracker.Full() {
		observability.RecordDiscoveryPaused()
		return
	}

	tx, err := d.rpc.GetTransaction(ctx, n.Signature)
	if err != nil || tx == nil {
		if ctx.Err() == nil {
			d.logger.Printf("[discovery] Error fetching create tx %s: %v", n.Signature, err)
		}
		return
	}

	market, err := d.detector.ProcessTransaction(ctx, tx)
	if err != nil {
		d.logger.Printf("[discovery] Error decoding create tx %s: %v", n.Signature, err)
		return
	}
	if market == nil {
		return
	}
	observability.RecordTokenDiscovered()

	if err := d.tracker.Track(*market); err != nil {
		if errors.Is(err, ErrAlreadyTracked) {
			return
		}
		d.logger.Printf("[discovery] Error tracking %s: %v", market.Mint, err)
		return
	}
	d.logger.Printf("[discovery] New token %s (creator=%s slot=%d)", market.Mint, market.Creator, market.FirstSeenSlot)
}
