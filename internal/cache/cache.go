// Package cache implements the multi-level (L1 in-process, optional L2
// external) cache with invalidation fan-out, metrics sampling, and alert
// thresholds described in spec.md §4.5.
package cache

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// L2 is the optional external cache backend (e.g. Redis). Implementations
// must be safe for concurrent use.
type L2 interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{}, ttl time.Duration)
	Invalidate(key string)
	InvalidatePattern(pattern string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Metrics is the cache's observable counter set (spec.md §4.5).
type Metrics struct {
	Hits           int64
	Misses         int64
	Operations     int64
	EvictionCount  int64
	CacheSize      int
	SampledAt      time.Time
}

// HitRate returns hits / (hits+misses), or 1 when no lookups have occurred.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 1
	}
	return float64(m.Hits) / float64(total)
}

// MissRate returns 1 - HitRate.
func (m Metrics) MissRate() float64 { return 1 - m.HitRate() }

// Thresholds configure when Alert callbacks fire (spec.md §4.5).
type Thresholds struct {
	HitRateMin       float64 // default 0.7
	ResponseTimeMaxMS float64 // default 100
	MemoryMaxMB      float64 // default 1024
}

func (t Thresholds) withDefaults() Thresholds {
	if t.HitRateMin == 0 {
		t.HitRateMin = 0.7
	}
	if t.ResponseTimeMaxMS == 0 {
		t.ResponseTimeMaxMS = 100
	}
	if t.MemoryMaxMB == 0 {
		t.MemoryMaxMB = 1024
	}
	return t
}

// AlertFunc is invoked when a sampled metric crosses a threshold.
type AlertFunc func(reason string, m Metrics)

// InvalidationEvent describes one cascade-worthy mutation, mirroring the
// cache-invalidation mixin contract in spec.md §4.6.
type InvalidationEvent struct {
	EntityType string
	EntityID   string
	Op         string // create | update | delete
	UserID     string
	Level      string // for contexts
	Propagate  bool
}

// CascadeFunc computes additional keys/patterns to invalidate for evt,
// beyond the entity's own key — e.g. updating a task also invalidates its
// branch's list cache.
type CascadeFunc func(evt InvalidationEvent) []string

// Cache is the concurrent-safe L1+L2 cache.
type Cache struct {
	logger *zap.Logger
	l2     L2

	mu   sync.RWMutex
	data map[string]entry

	thresholds Thresholds
	alerts     []AlertFunc
	alertsMu   sync.Mutex

	cascadesMu sync.Mutex
	cascades   []CascadeFunc

	metricsMu     sync.Mutex
	metrics       Metrics
	stopSampling  chan struct{}
	sampleOnce    sync.Once
}

// New constructs an L1-only cache; attach an L2 with SetL2 if configured.
func New(logger *zap.Logger, thresholds Thresholds) *Cache {
	return &Cache{
		logger:       logger,
		data:         make(map[string]entry),
		thresholds:   thresholds.withDefaults(),
		stopSampling: make(chan struct{}),
	}
}

// SetL2 attaches an external L2 backend.
func (c *Cache) SetL2(l2 L2) { c.l2 = l2 }

// Get checks L1 then L2, populating L1 on an L2 hit.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if ok && !e.expired(time.Now()) {
		c.recordOp(true)
		return e.value, true
	}

	if c.l2 != nil {
		if v, ok := c.l2.Get(key); ok {
			c.mu.Lock()
			c.data[key] = entry{value: v}
			c.mu.Unlock()
			c.recordOp(true)
			return v, true
		}
	}

	c.recordOp(false)
	return nil, false
}

func (c *Cache) recordOp(hit bool) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.metrics.Operations++
	if hit {
		c.metrics.Hits++
	} else {
		c.metrics.Misses++
	}
}

// Put writes key to both levels. ttl of zero means no expiry.
func (c *Cache) Put(key string, value interface{}, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()

	if c.l2 != nil {
		c.l2.Put(key, value, ttl)
	}
}

// Invalidate removes key, or every key matching pattern (a "*" suffix
// wildcard), from both levels atomically with respect to readers.
func (c *Cache) Invalidate(pattern string) {
	c.mu.Lock()
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		for k := range c.data {
			if strings.HasPrefix(k, prefix) {
				delete(c.data, k)
				c.metricsMu.Lock()
				c.metrics.EvictionCount++
				c.metricsMu.Unlock()
			}
		}
	} else {
		if _, ok := c.data[pattern]; ok {
			c.metricsMu.Lock()
			c.metrics.EvictionCount++
			c.metricsMu.Unlock()
		}
		delete(c.data, pattern)
	}
	c.mu.Unlock()

	if c.l2 != nil {
		if strings.HasSuffix(pattern, "*") {
			c.l2.InvalidatePattern(pattern)
		} else {
			c.l2.Invalidate(pattern)
		}
	}
}

// RegisterCascade adds fn to the set consulted on every InvalidateEntity
// call, letting repositories cascade invalidation to related keys.
func (c *Cache) RegisterCascade(fn CascadeFunc) {
	c.cascadesMu.Lock()
	defer c.cascadesMu.Unlock()
	c.cascades = append(c.cascades, fn)
}

// InvalidateEntity invalidates evt's own key plus every key any registered
// CascadeFunc derives from it (spec.md §4.5's invalidation fan-out).
func (c *Cache) InvalidateEntity(evt InvalidationEvent) {
	c.Invalidate(evt.EntityType + ":" + evt.EntityID)

	if !evt.Propagate {
		return
	}

	c.cascadesMu.Lock()
	cascades := append([]CascadeFunc(nil), c.cascades...)
	c.cascadesMu.Unlock()

	for _, fn := range cascades {
		for _, key := range fn(evt) {
			c.Invalidate(key)
		}
	}
}

// RegisterAlert adds fn to the set invoked when Sample finds a threshold
// crossed.
func (c *Cache) RegisterAlert(fn AlertFunc) {
	c.alertsMu.Lock()
	defer c.alertsMu.Unlock()
	c.alerts = append(c.alerts, fn)
}

// Sample takes a metrics snapshot, records cache size, and fires the alert
// callbacks when the hit rate is below HitRateMin. Only the hit-rate
// threshold is checked; ResponseTimeMaxMS and MemoryMaxMB are not measured
// and never trigger an alert.
func (c *Cache) Sample() Metrics {
	c.mu.RLock()
	size := len(c.data)
	c.mu.RUnlock()

	c.metricsMu.Lock()
	c.metrics.CacheSize = size
	c.metrics.SampledAt = time.Now()
	snap := c.metrics
	c.metricsMu.Unlock()

	if snap.HitRate() < c.thresholds.HitRateMin {
		c.fireAlert("hit_rate_below_threshold", snap)
	}

	return snap
}

func (c *Cache) fireAlert(reason string, snap Metrics) {
	c.alertsMu.Lock()
	alerts := append([]AlertFunc(nil), c.alerts...)
	c.alertsMu.Unlock()

	for _, fn := range alerts {
		fn(reason, snap)
	}
}

// StartSampling samples every interval until Stop is called.
func (c *Cache) StartSampling(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopSampling:
				return
			case <-ticker.C:
				c.Sample()
			}
		}
	}()
}

// Stop halts background sampling.
func (c *Cache) Stop() {
	c.sampleOnce.Do(func() { close(c.stopSampling) })
}
