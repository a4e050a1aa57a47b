package extraction

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	now time.Time
	mu  sync.Mutex
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newManualClock()
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock.Now)

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Failures())

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_RollingWindow(t *testing.T) {
	clock := newManualClock()
	b := NewCircuitBreaker(DefaultBreakerConfig(), clock.Now)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	clock := newManualClock()
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: 5 * time.Minute}, clock.Now)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(4 * time.Minute)
	assert.False(t, b.Allow())

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow(), "first call after cooldown is the trial")
	assert.False(t, b.Allow(), "only one trial at a time")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	clock.Advance(5 * time.Minute)
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
	assert.Zero(t, b.Failures())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker(DefaultBreakerConfig(), nil)
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	clock := newManualClock()
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1000, Window: time.Hour, Cooldown: time.Minute}, clock.Now)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, b.Failures())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSet_Snapshot(t *testing.T) {
	clock := newManualClock()
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1}, clock.Now)

	set.Get("vision").RecordFailure()
	set.Get("anthropic").RecordSuccess()
	assert.Same(t, set.Get("vision"), set.Get("vision"))

	snap := set.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "anthropic", snap[0].Provider)
	assert.Equal(t, StateClosed, snap[0].State)
	assert.Equal(t, "vision", snap[1].Provider)
	assert.Equal(t, StateOpen, snap[1].State)
	assert.Equal(t, clock.Now(), snap[1].OpenedAt)
}
