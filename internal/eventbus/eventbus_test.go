package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
)

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := New(zap.NewNop(), cfg)
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestPublishDispatchesToSubscriber(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1})

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe("TaskCreated", func(ctx context.Context, evt Event) error {
		received.Add(1)
		wg.Done()
		return nil
	}, 0, nil)

	require.NoError(t, b.Publish(Event{Type: "TaskCreated", Payload: "x"}))

	wg.Wait()
	assert.Equal(t, int32(1), received.Load())
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1})

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	b.SubscribeAll(func(ctx context.Context, evt Event) error {
		count.Add(1)
		wg.Done()
		return nil
	}, 0)

	require.NoError(t, b.Publish(Event{Type: "A"}))
	require.NoError(t, b.Publish(Event{Type: "B"}))
	wg.Wait()
	assert.Equal(t, int32(2), count.Load())
}

func TestPriorityOrdering(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1})

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	b.Subscribe("E", func(ctx context.Context, evt Event) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
		return nil
	}, 1, nil)
	b.Subscribe("E", func(ctx context.Context, evt Event) error {
		mu.Lock()
		order = append(order, 10)
		mu.Unlock()
		wg.Done()
		return nil
	}, 10, nil)

	require.NoError(t, b.Publish(Event{Type: "E"}))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, 10, order[0], "higher priority handler must run first")
	assert.Equal(t, 1, order[1])
}

func TestQueueFullReturnsError(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1, QueueSize: 1})
	// A zero Workers value falls back to the default pool, so the single
	// worker is held inside a handler instead: the first publish occupies
	// the worker, the second fills the one queue slot, and the third must
	// fail loudly rather than silently drop (spec.md §5).
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	t.Cleanup(func() { close(release) })
	b.Subscribe("A", func(ctx context.Context, evt Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, 0, nil)

	require.NoError(t, b.Publish(Event{Type: "A"}))
	<-started
	require.NoError(t, b.Publish(Event{Type: "A"}))
	err := b.Publish(Event{Type: "A"})
	require.Error(t, err)
	ae := apperrors.As(err)
	assert.Equal(t, apperrors.CodeQueueFull, ae.Code)
}

func TestRetryExhaustionMovesToDeadLetterQueue(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1, MaxRetries: 1})

	var calls atomic.Int32
	done := make(chan struct{})
	b.Subscribe("Fails", func(ctx context.Context, evt Event) error {
		n := calls.Add(1)
		if int(n) >= 2 {
			close(done)
		}
		return errors.New("boom")
	}, 0, nil)

	require.NoError(t, b.Publish(Event{Type: "Fails"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for retries to exhaust")
	}

	// Give the second (final) failure time to land in the DLQ.
	require.Eventually(t, func() bool {
		return len(b.DeadLetterQueue()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dlq := b.DeadLetterQueue()
	require.Len(t, dlq, 1)
	assert.Equal(t, "Fails", dlq[0].Type)
}

func TestReplayDeadLetterQueueRedispatches(t *testing.T) {
	// MaxRetries 0 would fall back to the default of 3; with 1, the first
	// failure is retried once (after 1s) and the second lands in the DLQ.
	b := newTestBus(t, Config{Workers: 1, MaxRetries: 1})

	var calls atomic.Int32
	failing := true
	first := make(chan struct{})
	var once sync.Once

	b.Subscribe("Replay", func(ctx context.Context, evt Event) error {
		calls.Add(1)
		once.Do(func() { close(first) })
		if failing {
			return errors.New("fail once")
		}
		return nil
	}, 0, nil)

	require.NoError(t, b.Publish(Event{Type: "Replay"}))
	<-first

	require.Eventually(t, func() bool {
		return len(b.DeadLetterQueue()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	failing = false
	require.NoError(t, b.ReplayDeadLetterQueue())

	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, b.DeadLetterQueue())
}

func TestMetricsTrackPublishedAndProcessed(t *testing.T) {
	b := newTestBus(t, Config{Workers: 1})

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe("M", func(ctx context.Context, evt Event) error {
		wg.Done()
		return nil
	}, 0, nil)

	require.NoError(t, b.Publish(Event{Type: "M"}))
	wg.Wait()

	require.Eventually(t, func() bool {
		m := b.Metrics()
		return m.EventsProcessed == 1
	}, time.Second, 10*time.Millisecond)

	m := b.Metrics()
	assert.Equal(t, int64(1), m.EventsPublished)
	assert.Equal(t, 1, m.HandlerCount)
}
