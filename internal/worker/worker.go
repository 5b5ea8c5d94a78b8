package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sos-notifications-worker/internal/models"
	"sos-notifications-worker/internal/trigger"
)

// Handler processes one incident-creation event.
type Handler interface {
	Handle(ctx context.Context, event models.IncidentCreated) (models.DispatchOutcome, error)
}

// Feed pushes creation events into out until ctx is cancelled.
type Feed interface {
	Listen(ctx context.Context, out chan<- models.IncidentCreated) error
}

// Options configures the Pool.
type Options struct {
	Workers      int
	QueueSize    int
	RateLimit    int // incidents per second across all workers
	RestartDelay time.Duration
}

// Pool feeds incident events from a listener to a fixed set of workers.
type Pool struct {
	logger  *zap.Logger
	handler Handler
	opts    Options
	limiter *rate.Limiter
}

// NewPool creates a Pool. Non-positive sizes fall back to one worker and an unbuffered queue.
func NewPool(logger *zap.Logger, handler Handler, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Pool{
		logger:  logger.Named("worker"),
		handler: handler,
		opts:    opts,
		limiter: rate.NewLimiter(limit, max(opts.RateLimit, 1)),
	}
}

// Run starts the listener and the workers and blocks until ctx is cancelled
// and every worker has returned. Events still queued at shutdown are dropped;
// the listener replays recent unmarked incidents on the next start.
func (p *Pool) Run(ctx context.Context, feed Feed) {
	ch := make(chan models.IncidentCreated, p.opts.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go p.processIncidents(ctx, &wg, i, ch)
	}

	p.listenIncidents(ctx, feed, ch)
	close(ch)

	p.logger.Info("Waiting for workers to complete...")
	wg.Wait()
	p.logger.Info("All workers completed")
}

// listenIncidents keeps the feed running, restarting it after failures.
func (p *Pool) listenIncidents(ctx context.Context, feed Feed, ch chan<- models.IncidentCreated) {
	for {
		err := feed.Listen(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Error("Incident listener failed, restarting",
				zap.Duration("delay", p.opts.RestartDelay), zap.Error(err))
		} else {
			p.logger.Warn("Incident listener stopped, restarting", zap.Duration("delay", p.opts.RestartDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.RestartDelay):
		}
	}
}

func (p *Pool) processIncidents(ctx context.Context, wg *sync.WaitGroup, id int, ch <-chan models.IncidentCreated) {
	defer wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker shutting down")
			return

		case event, ok := <-ch:
			if !ok {
				logger.Debug("Worker channel closed")
				return
			}

			if err := p.limiter.Wait(ctx); err != nil {
				logger.Warn("Rate limiter wait aborted", zap.String("incident_id", event.IncidentId), zap.Error(err))
				continue
			}

			outcome, err := p.handler.Handle(ctx, event)
			switch {
			case errors.Is(err, trigger.ErrMalformedEvent):
				logger.Warn("Dropping malformed incident event", zap.String("incident_id", event.IncidentId))
			case err != nil:
				logger.Error("Incident handling failed", zap.String("incident_id", event.IncidentId), zap.Error(err))
			default:
				logger.Debug("Incident handled",
					zap.String("incident_id", outcome.IncidentId),
					zap.String("status", string(outcome.Status)),
				)
			}
		}
	}
}
