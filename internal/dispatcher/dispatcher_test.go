package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

type fakePusher struct {
	mu          sync.Mutex
	topics      []string
	batches     [][]string
	topicErr    error
	multicastFn func(ctx context.Context, tokens []string) (models.BatchResponse, error)
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakePusher) SendToTopic(_ context.Context, topic string, _ models.NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return f.topicErr
}

func (f *fakePusher) SendMulticast(ctx context.Context, tokens []string, _ models.NotificationPayload) (models.BatchResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), tokens...))
	f.mu.Unlock()

	if f.multicastFn != nil {
		return f.multicastFn(ctx, tokens)
	}
	return allDelivered(tokens), nil
}

func allDelivered(tokens []string) models.BatchResponse {
	resp := models.BatchResponse{SuccessCount: len(tokens)}
	for i := range tokens {
		resp.Responses = append(resp.Responses, models.SendResponse{Success: true, MessageId: fmt.Sprintf("m-%d", i)})
	}
	return resp
}

func makeTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("device-token-%05d", i)
	}
	return tokens
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RateLimit = 0
	opts.CallTimeout = time.Second
	return opts
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 10*time.Second, opts.CallTimeout)
}

func TestNewDispatcher_ClampsOptions(t *testing.T) {
	d := NewDispatcher(&fakePusher{}, zap.NewNop(), Options{BatchSize: 900, Workers: -1})
	assert.Equal(t, constants.MaxMulticastTokens, d.opts.BatchSize)
	assert.Equal(t, 1, d.opts.Workers)
	assert.Nil(t, d.limiter)
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 500, sizes: []int{}},
		{name: "single partial", n: 3, size: 500, sizes: []int{3}},
		{name: "exact", n: 1000, size: 500, sizes: []int{500, 500}},
		{name: "1200", n: 1200, size: 500, sizes: []int{500, 500, 200}},
		{name: "zero size uses platform max", n: 501, size: 0, sizes: []int{500, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := makeTokens(tt.n)
			batches := Partition(tokens, tt.size)

			sizes := make([]int, 0, len(batches))
			var flat []string
			for _, b := range batches {
				sizes = append(sizes, len(b))
				assert.LessOrEqual(t, len(b), constants.MaxMulticastTokens)
				flat = append(flat, b...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if tt.n > 0 {
				assert.Equal(t, tokens, flat)
			}
		})
	}
}

func TestBroadcastToTopic(t *testing.T) {
	p := &fakePusher{}
	d := NewDispatcher(p, zap.NewNop(), testOptions())

	require.NoError(t, d.BroadcastToTopic(context.Background(), "security", models.NotificationPayload{Title: "SOS: Fire"}))
	assert.Equal(t, []string{"security"}, p.topics)
}

func TestBroadcastToTopic_Error(t *testing.T) {
	p := &fakePusher{topicErr: errors.New("quota exceeded")}
	d := NewDispatcher(p, zap.NewNop(), testOptions())

	err := d.BroadcastToTopic(context.Background(), "security", models.NotificationPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Len(t, p.topics, 1, "no retry")
}

func TestSendToDevices_Empty(t *testing.T) {
	p := &fakePusher{}
	d := NewDispatcher(p, zap.NewNop(), testOptions())

	results := d.SendToDevices(context.Background(), nil, models.NotificationPayload{})
	assert.Empty(t, results)
	assert.Empty(t, p.batches)
}

func TestSendToDevices_PreservesOrderAcrossBatches(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(_ context.Context, tokens []string) (models.BatchResponse, error) {
			// Finish later batches first.
			if tokens[0] == "device-token-00000" {
				time.Sleep(20 * time.Millisecond)
			}
			return allDelivered(tokens), nil
		},
	}
	d := NewDispatcher(p, zap.NewNop(), testOptions())
	tokens := makeTokens(1200)

	results := d.SendToDevices(context.Background(), tokens, models.NotificationPayload{})

	require.Len(t, results, 1200)
	for i, r := range results {
		assert.Equal(t, tokens[i], r.Token)
		assert.True(t, r.Success)
	}

	sizes := make([]int, 0, len(p.batches))
	for _, b := range p.batches {
		sizes = append(sizes, len(b))
	}
	assert.ElementsMatch(t, []int{500, 500, 200}, sizes)
}

func TestSendToDevices_PerTokenResultsMatchInput(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(_ context.Context, tokens []string) (models.BatchResponse, error) {
			resp := allDelivered(tokens)
			resp.Responses[1] = models.SendResponse{ErrorCode: constants.ErrorCodeTokenNotRegistered, Error: "not registered"}
			resp.Responses[2] = models.SendResponse{ErrorCode: constants.ErrorCodeQuotaExceeded, Error: "quota"}
			resp.SuccessCount, resp.FailureCount = len(tokens)-2, 2
			return resp, nil
		},
	}
	d := NewDispatcher(p, zap.NewNop(), testOptions())
	tokens := makeTokens(4)

	results := d.SendToDevices(context.Background(), tokens, models.NotificationPayload{})

	require.Len(t, results, 4)
	assert.True(t, results[0].Success)
	assert.Equal(t, tokens[1], results[1].Token)
	assert.Equal(t, constants.ErrorCodeTokenNotRegistered, results[1].ErrorCode)
	assert.Equal(t, tokens[2], results[2].Token)
	assert.Equal(t, constants.ErrorCodeQuotaExceeded, results[2].ErrorCode)
	assert.True(t, results[3].Success)
}

func TestSendToDevices_FailedBatchDoesNotBlockOthers(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(_ context.Context, tokens []string) (models.BatchResponse, error) {
			if tokens[0] == "device-token-00500" {
				return models.BatchResponse{}, errors.New("connection reset")
			}
			return allDelivered(tokens), nil
		},
	}
	d := NewDispatcher(p, zap.NewNop(), testOptions())
	tokens := makeTokens(1200)

	results := d.SendToDevices(context.Background(), tokens, models.NotificationPayload{})

	require.Len(t, results, 1200)
	c := ClassifyAll(results)
	assert.Len(t, c.Delivered, 700)
	assert.Len(t, c.Transient, 500)
	assert.Empty(t, c.Invalid)
	for i := 500; i < 1000; i++ {
		assert.Equal(t, tokens[i], results[i].Token)
		assert.Equal(t, constants.ErrorCodeBatchFailed, results[i].ErrorCode)
	}
}

func TestSendToDevices_TimeoutIsTransient(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(ctx context.Context, tokens []string) (models.BatchResponse, error) {
			<-ctx.Done()
			return models.BatchResponse{}, ctx.Err()
		},
	}
	opts := testOptions()
	opts.CallTimeout = 20 * time.Millisecond
	d := NewDispatcher(p, zap.NewNop(), opts)

	results := d.SendToDevices(context.Background(), makeTokens(3), models.NotificationPayload{})

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, constants.ErrorCodeDeadlineExceeded, r.ErrorCode)
		assert.Equal(t, models.OutcomeTransientError, Classify(r))
	}
}

func TestSendToDevices_ShortResponseIsTransient(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(_ context.Context, tokens []string) (models.BatchResponse, error) {
			return allDelivered(tokens[:1]), nil
		},
	}
	d := NewDispatcher(p, zap.NewNop(), testOptions())

	results := d.SendToDevices(context.Background(), makeTokens(3), models.NotificationPayload{})

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, constants.ErrorCodeBatchFailed, r.ErrorCode)
	}
}

func TestSendToDevices_BoundedParallelism(t *testing.T) {
	p := &fakePusher{
		multicastFn: func(_ context.Context, tokens []string) (models.BatchResponse, error) {
			time.Sleep(10 * time.Millisecond)
			return allDelivered(tokens), nil
		},
	}
	opts := testOptions()
	opts.BatchSize = 10
	opts.Workers = 2
	d := NewDispatcher(p, zap.NewNop(), opts)

	results := d.SendToDevices(context.Background(), makeTokens(100), models.NotificationPayload{})

	assert.Len(t, results, 100)
	assert.Len(t, p.batches, 10)
	assert.LessOrEqual(t, p.maxInFlight.Load(), int32(2))
}

func TestSendToDevices_CancelledContext(t *testing.T) {
	p := &fakePusher{}
	opts := testOptions()
	opts.RateLimit = 1
	d := NewDispatcher(p, zap.NewNop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.SendToDevices(ctx, makeTokens(2), models.NotificationPayload{})
	require.Len(t, results, 2)
	assert.Empty(t, p.batches)
	for _, r := range results {
		assert.Equal(t, models.OutcomeTransientError, Classify(r))
	}
}
