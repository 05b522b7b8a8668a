package ingestion

import (
	"context"
	"sync"

	"curvewatch/internal/observability"
	"curvewatch/internal/solana"
)

// notificationQueue is an unbounded FIFO between a log subscription and the
// token's owner goroutine. Pushing never blocks, so a slow backfill cannot
// stall the websocket reader.
type notificationQueue struct {
	mu    sync.Mutex
	items []solana.LogNotification
	ready chan struct{}
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{ready: make(chan struct{}, 1)}
}

func (q *notificationQueue) push(n solana.LogNotification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
	observability.AddQueueDepth(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or ctx is done.
func (q *notificationQueue) pop(ctx context.Context) (solana.LogNotification, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = solana.LogNotification{}
			q.items = q.items[1:]
			q.mu.Unlock()
			observability.AddQueueDepth(-1)
			return n, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return solana.LogNotification{}, ctx.Err()
		}
	}
}

func (q *notificationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// discard drops everything still queued.
func (q *notificationQueue) discard() {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	if n > 0 {
		observability.AddQueueDepth(-n)
	}
}
