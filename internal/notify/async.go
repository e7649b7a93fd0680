package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/resource"
)

var errQueueFull = errors.New(errors.ErrUncoded, "notification queue is full")

type asyncItem struct {
	uri resource.Identifier
}

// Async delivers synchronous notifications immediately and queues the rest,
// draining the queue at a bounded rate.
type Async struct {
	next    Transport
	queue   chan asyncItem
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps next. perSecond <= 0 disables rate limiting.
func NewAsync(next Transport, buffer int, perSecond float64, burst int, logger *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		next:    next,
		queue:   make(chan asyncItem, buffer),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Start runs the drainer until ctx is done or Close is called.
func (a *Async) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for item := range a.queue {
			if err := a.limiter.Wait(ctx); err != nil {
				return
			}
			if err := a.next.Deliver(ctx, item.uri, false); err != nil {
				metrics.CounterTransportErrors.WithLabelValues("async").Inc()
				a.logger.Warn("deferred notification failed",
					zap.String("uri", item.uri.String()), zap.Error(err))
			}
		}
	}()
}

func (a *Async) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	if sync {
		return a.next.Deliver(ctx, uri, true)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return a.next.Deliver(ctx, uri, false)
	}
	select {
	case a.queue <- asyncItem{uri: uri}:
		return nil
	default:
		metrics.CounterNotificationsDropped.Inc()
		return errQueueFull
	}
}

// Close stops accepting deferred notifications and waits for the queue to
// drain.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
