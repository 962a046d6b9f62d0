package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	c.Put("task:1", "payload", 0)

	v, ok := c.Get("task:1")
	assert.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestGetMissingKeyIsMiss(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	_, ok := c.Get("missing")
	assert.False(t, ok)

	m := c.Sample()
	assert.Equal(t, int64(1), m.Misses)
}

func TestTTLExpiry(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	c.Put("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidatePattern(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	c.Put("task:1", "a", 0)
	c.Put("task:2", "b", 0)
	c.Put("project:1", "c", 0)

	c.Invalidate("task:*")

	_, ok1 := c.Get("task:1")
	_, ok2 := c.Get("task:2")
	_, ok3 := c.Get("project:1")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}

func TestInvalidateEntityCascades(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	c.Put("task:1", "a", 0)
	c.Put("branch:list:b1", "list", 0)

	c.RegisterCascade(func(evt InvalidationEvent) []string {
		if evt.EntityType == "task" {
			return []string{"branch:list:b1"}
		}
		return nil
	})

	c.InvalidateEntity(InvalidationEvent{EntityType: "task", EntityID: "1", Op: "update", Propagate: true})

	_, ok1 := c.Get("task:1")
	_, ok2 := c.Get("branch:list:b1")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestInvalidateEntityWithoutPropagateSkipsCascade(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{})
	c.Put("task:1", "a", 0)
	c.Put("branch:list:b1", "list", 0)

	called := false
	c.RegisterCascade(func(evt InvalidationEvent) []string {
		called = true
		return []string{"branch:list:b1"}
	})

	c.InvalidateEntity(InvalidationEvent{EntityType: "task", EntityID: "1", Op: "update", Propagate: false})

	assert.False(t, called)
	_, ok := c.Get("branch:list:b1")
	assert.True(t, ok)
}

func TestHitRateAndAlert(t *testing.T) {
	c := New(zap.NewNop(), Thresholds{HitRateMin: 0.9})
	c.Put("k", "v", 0)

	var firedReason string
	c.RegisterAlert(func(reason string, m Metrics) { firedReason = reason })

	c.Get("missing-a")
	c.Get("missing-b")
	c.Get("k")

	c.Sample()
	assert.Equal(t, "hit_rate_below_threshold", firedReason)
}
