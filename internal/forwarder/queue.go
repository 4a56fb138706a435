package forwarder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/metricforward/internal/metrics"
)

var (
	ErrQueueFull    = errors.New("forwarder queue is full")
	ErrQueueStopped = errors.New("forwarder queue is stopped")
)

// Queue hands snapshots to a Forwarder from a single goroutine so that the
// aggregation side never waits on the network.
type Queue struct {
	forwarder Forwarder
	metricsCh chan metrics.AggregatedMetrics
	doneCh    chan struct{}
	isRunning atomic.Bool

	mu      sync.Mutex
	stopped bool
}

func NewQueue(f Forwarder, sendBuffer int) *Queue {
	return &Queue{
		forwarder: f,
		metricsCh: make(chan metrics.AggregatedMetrics, sendBuffer),
		doneCh:    make(chan struct{}),
	}
}

// Export enqueues ms without blocking.
func (q *Queue) Export(ms metrics.AggregatedMetrics) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.metricsCh <- ms:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects further snapshots and waits until Start has sent everything
// already queued, or until ctx is done.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.metricsCh)
	}
	q.mu.Unlock()

	select {
	case <-q.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) IsRunning() bool {
	return q.isRunning.Load()
}

// Start runs the send loop until Stop is called. Failed snapshots are logged
// and dropped.
func (q *Queue) Start(ctx context.Context) {
	ltsvlog.Logger.Debug().String("msg", "Starting forwarder queue goroutine").Log()
	q.isRunning.Store(true)
	defer func() {
		q.isRunning.Store(false)
		close(q.doneCh)
		ltsvlog.Logger.Info().String("msg", "forwarder queue stopped").Log()
	}()

	for ms := range q.metricsCh {
		// remaining snapshots are still sent after ctx is cancelled
		sendCtx := ctx
		if ctx.Err() != nil {
			sendCtx = context.WithoutCancel(ctx)
		}
		if err := q.forwarder.ForwardMetrics(sendCtx, ms); err != nil {
			ltsvlog.Logger.Err(err)
		}
	}
}
