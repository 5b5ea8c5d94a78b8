// Package dispatcher delivers an alert payload over the topic broadcast and the
// batched direct-to-device channel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// Pusher is the push platform.
type Pusher interface {
	// SendToTopic sends one message to every device subscribed to topic.
	SendToTopic(ctx context.Context, topic string, payload models.NotificationPayload) error
	// SendMulticast sends one message to up to 500 tokens. Responses are in token order.
	SendMulticast(ctx context.Context, tokens []string, payload models.NotificationPayload) (models.BatchResponse, error)
}

// Options configures the Dispatcher.
type Options struct {
	BatchSize   int           // tokens per multicast call, at most 500
	Workers     int           // concurrent batch sends
	RateLimit   int           // platform calls per second, 0 disables
	CallTimeout time.Duration // per platform call, 0 disables
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   constants.MaxMulticastTokens,
		Workers:     4,
		RateLimit:   50,
		CallTimeout: 10 * time.Second,
	}
}

// Dispatcher sends payloads to the push platform.
type Dispatcher struct {
	pusher  Pusher
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter
}

// NewDispatcher creates a Dispatcher. Out-of-range options are clamped.
func NewDispatcher(pusher Pusher, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 || opts.BatchSize > constants.MaxMulticastTokens {
		opts.BatchSize = constants.MaxMulticastTokens
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	return &Dispatcher{
		pusher:  pusher,
		logger:  logger.Named("dispatcher"),
		opts:    opts,
		limiter: limiter,
	}
}

// BroadcastToTopic makes a single topic send. There is no retry; the platform
// does the fan-out.
func (d *Dispatcher) BroadcastToTopic(ctx context.Context, topic string, payload models.NotificationPayload) error {
	if err := d.wait(ctx); err != nil {
		return fmt.Errorf("topic %q: %w", topic, err)
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	if err := d.pusher.SendToTopic(callCtx, topic, payload); err != nil {
		return fmt.Errorf("topic %q: %w", topic, err)
	}
	d.logger.Info("Topic broadcast sent", zap.String("topic", topic))
	return nil
}

// SendToDevices partitions tokens into platform-sized batches and sends them
// with bounded parallelism. The returned results are in token order; a failed
// batch yields transient-error results for its tokens and does not stop other batches.
func (d *Dispatcher) SendToDevices(ctx context.Context, tokens []string, payload models.NotificationPayload) []models.DispatchResult {
	batches := Partition(tokens, d.opts.BatchSize)
	if len(batches) == 0 {
		return []models.DispatchResult{}
	}

	perBatch := make([][]models.DispatchResult, len(batches))

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			perBatch[i] = d.sendBatch(ctx, i, batch, payload)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]models.DispatchResult, 0, len(tokens))
	for _, r := range perBatch {
		results = append(results, r...)
	}
	return results
}

func (d *Dispatcher) sendBatch(ctx context.Context, index int, batch []string, payload models.NotificationPayload) []models.DispatchResult {
	startTime := time.Now()

	if err := d.wait(ctx); err != nil {
		d.logger.Warn("Batch not sent, rate limiter aborted",
			zap.Int("batch", index),
			zap.Int("size", len(batch)),
			zap.Error(err),
		)
		return failBatch(batch, errorCode(err), err)
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	resp, err := d.pusher.SendMulticast(callCtx, batch, payload)
	if err == nil && len(resp.Responses) != len(batch) {
		err = fmt.Errorf("platform returned %d responses for %d tokens", len(resp.Responses), len(batch))
	}
	if err != nil {
		d.logger.Warn("Batch send failed",
			zap.Int("batch", index),
			zap.Int("size", len(batch)),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err),
		)
		return failBatch(batch, errorCode(err), err)
	}

	results := make([]models.DispatchResult, len(batch))
	for i, token := range batch {
		r := resp.Responses[i]
		results[i] = models.DispatchResult{
			Token:     token,
			Success:   r.Success,
			ErrorCode: r.ErrorCode,
			Error:     r.Error,
		}
	}

	d.logger.Debug("Batch send complete",
		zap.Int("batch", index),
		zap.Int("sent", resp.SuccessCount),
		zap.Int("failed", resp.FailureCount),
		zap.Duration("duration", time.Since(startTime)),
	)
	return results
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.opts.CallTimeout)
}

// Partition splits tokens into consecutive batches of at most size tokens.
func Partition(tokens []string, size int) [][]string {
	if size <= 0 {
		size = constants.MaxMulticastTokens
	}
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		batches = append(batches, tokens[start:end])
	}
	return batches
}

func failBatch(batch []string, code string, err error) []models.DispatchResult {
	results := make([]models.DispatchResult, len(batch))
	for i, token := range batch {
		results[i] = models.DispatchResult{
			Token:     token,
			ErrorCode: code,
			Error:     err.Error(),
		}
	}
	return results
}

func errorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return constants.ErrorCodeDeadlineExceeded
	}
	return constants.ErrorCodeBatchFailed
}
