// Package eventbus implements the typed publish/subscribe substrate that
// every mutation in the control plane flows through (spec.md §4.3), grounded
// on the teacher's worker-pool-over-channel idiom in mcp-server/main.go.
package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
)

// Event is one published message. Type is the routing key handlers
// subscribe against.
type Event struct {
	ID            string
	Type          string
	Payload       interface{}
	Priority      int
	CorrelationID string
	UserID        string
	PublishedAt   time.Time
	RetryCount    int
}

// Handler processes one event. An error triggers the retry/DLQ path.
type Handler func(ctx context.Context, evt Event) error

// Filter, when non-nil, gates whether a subscription's handler runs for evt.
type Filter func(evt Event) bool

type subscription struct {
	id       string
	eventType string // "" means subscribe_all
	handler  Handler
	priority int
	filter   Filter
}

// HandlerMetrics is the per-handler counter set exposed via Metrics.
type HandlerMetrics struct {
	CallCount     int64
	ErrorCount    int64
	TotalDuration time.Duration
}

// AvgDurationMS returns the mean handler latency in milliseconds.
func (m HandlerMetrics) AvgDurationMS() float64 {
	if m.CallCount == 0 {
		return 0
	}
	return float64(m.TotalDuration.Milliseconds()) / float64(m.CallCount)
}

// Metrics is the event bus's observable counter set (spec.md §4.3).
type Metrics struct {
	EventsPublished int64
	EventsProcessed int64
	HandlerCount    int
	PerHandler      map[string]HandlerMetrics
}

// Config tunes the bus. Zero values fall back to the spec's defaults.
type Config struct {
	Workers    int           // default 3
	QueueSize  int           // default 1000
	MaxRetries int           // default 3
	GraceDrain time.Duration // default 5s, used by Stop
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.GraceDrain <= 0 {
		c.GraceDrain = 5 * time.Second
	}
	return c
}

// Bus is the concurrency-safe, worker-pool-backed event bus.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	subs  map[string][]*subscription // eventType -> subs, sorted by priority desc
	all   []*subscription
	dlq   []Event
	dlqMu sync.Mutex

	metricsMu sync.Mutex
	metrics   Metrics

	queue    chan Event
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Bus and starts its worker pool. Callers must call Stop to
// release the workers.
func New(logger *zap.Logger, cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string][]*subscription),
		queue:  make(chan Event, cfg.QueueSize),
		stopCh: make(chan struct{}),
		metrics: Metrics{
			PerHandler: make(map[string]HandlerMetrics),
		},
	}
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return b
}

// Subscribe registers handler for eventType, returning an opaque
// subscription id. Handlers for the same type run in descending priority
// order.
func (b *Bus) Subscribe(eventType string, handler Handler, priority int, filter Filter) string {
	sub := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		priority:  priority,
		filter:    filter,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	sortByPriorityDesc(b.subs[eventType])
	return sub.id
}

// SubscribeAll registers a catch-all handler invoked for every event type.
func (b *Bus) SubscribeAll(handler Handler, priority int) string {
	sub := &subscription{id: uuid.NewString(), handler: handler, priority: priority}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, sub)
	sortByPriorityDesc(b.all)
	return sub.id
}

func sortByPriorityDesc(subs []*subscription) {
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].priority > subs[j].priority })
}

// Publish enqueues evt for dispatch, returning once it is accepted into the
// bounded queue. Returns apperrors.QueueFull when the queue is saturated —
// callers must not silently drop events (spec.md §5).
func (b *Bus) Publish(evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.PublishedAt.IsZero() {
		evt.PublishedAt = time.Now()
	}

	select {
	case b.queue <- evt:
		b.metricsMu.Lock()
		b.metrics.EventsPublished++
		b.metricsMu.Unlock()
		return nil
	default:
		return apperrors.QueueFull(fmt.Sprintf("event bus queue at capacity (%d)", b.cfg.QueueSize))
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			b.drainRemaining()
			return
		case evt, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(evt)
		}
	}
}

func (b *Bus) drainRemaining() {
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	typed := append([]*subscription(nil), b.subs[evt.Type]...)
	all := append([]*subscription(nil), b.all...)
	b.mu.RUnlock()

	handlers := mergeByPriority(typed, all)

	for _, sub := range handlers {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		b.runHandler(sub, evt)
	}

	b.metricsMu.Lock()
	b.metrics.EventsProcessed++
	b.metricsMu.Unlock()
}

func mergeByPriority(a, b []*subscription) []*subscription {
	merged := append(append([]*subscription(nil), a...), b...)
	sortByPriorityDesc(merged)
	return merged
}

func (b *Bus) runHandler(sub *subscription, evt Event) {
	start := time.Now()
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					zap.String("event_type", evt.Type), zap.Any("recover", r))
				b.recordHandlerResult(sub.id, start, true)
				b.handleFailure(sub, evt)
				return
			}
		}()

		err := sub.handler(ctx, evt)
		b.recordHandlerResult(sub.id, start, err != nil)
		if err != nil {
			b.logger.Warn("event handler error",
				zap.String("event_type", evt.Type), zap.Error(err))
			b.handleFailure(sub, evt)
		}
	}()
}

func (b *Bus) recordHandlerResult(handlerID string, start time.Time, failed bool) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	m := b.metrics.PerHandler[handlerID]
	m.CallCount++
	m.TotalDuration += time.Since(start)
	if failed {
		m.ErrorCount++
	}
	b.metrics.PerHandler[handlerID] = m
	b.metrics.HandlerCount = len(b.metrics.PerHandler)
}

// handleFailure re-enqueues evt with backoff, or moves it to the DLQ once
// max_retries is exhausted (spec.md §4.3).
func (b *Bus) handleFailure(sub *subscription, evt Event) {
	if evt.RetryCount >= b.cfg.MaxRetries {
		b.dlqMu.Lock()
		b.dlq = append(b.dlq, evt)
		b.dlqMu.Unlock()
		b.logger.Error("event moved to dead-letter queue",
			zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))
		return
	}

	retry := evt
	retry.RetryCount++
	delay := backoffDelay(retry.RetryCount)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-b.stopCh:
			return
		case <-timer.C:
		}
		if err := b.Publish(retry); err != nil {
			b.logger.Error("retry re-publish failed", zap.Error(err))
		}
	}()
}

func backoffDelay(retryCount int) time.Duration {
	seconds := 1
	for i := 1; i < retryCount; i++ {
		seconds *= 2
		if seconds > 60 {
			seconds = 60
			break
		}
	}
	return time.Duration(seconds) * time.Second
}

// DeadLetterQueue returns a snapshot of events that exhausted their retry
// budget.
func (b *Bus) DeadLetterQueue() []Event {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return append([]Event(nil), b.dlq...)
}

// ReplayDeadLetterQueue re-publishes every DLQ entry with its retry count
// reset, clearing the queue on success.
func (b *Bus) ReplayDeadLetterQueue() error {
	b.dlqMu.Lock()
	entries := append([]Event(nil), b.dlq...)
	b.dlq = nil
	b.dlqMu.Unlock()

	var errs error
	for _, evt := range entries {
		evt.RetryCount = 0
		if err := b.Publish(evt); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Metrics returns a snapshot of the bus's observable counters.
func (b *Bus) Metrics() Metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	snap := Metrics{
		EventsPublished: b.metrics.EventsPublished,
		EventsProcessed: b.metrics.EventsProcessed,
		HandlerCount:    b.metrics.HandlerCount,
		PerHandler:      make(map[string]HandlerMetrics, len(b.metrics.PerHandler)),
	}
	for k, v := range b.metrics.PerHandler {
		snap.PerHandler[k] = v
	}
	return snap
}

// Stop drains in-flight work for up to the grace window, then cancels
// workers and returns aggregated shutdown errors (spec.md §4.3).
func (b *Bus) Stop() error {
	var errs error
	b.stopOnce.Do(func() {
		close(b.stopCh)
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(b.cfg.GraceDrain):
			errs = multierr.Append(errs, fmt.Errorf("event bus: grace window elapsed before workers drained"))
		}
	})
	return errs
}
