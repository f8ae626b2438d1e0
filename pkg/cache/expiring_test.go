package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for cache tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExpiringCache_TTLBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		want    bool
	}{
		{name: "fresh value is valid", ttl: time.Hour, advance: 0, want: true},
		{name: "value within ttl is valid", ttl: time.Hour, advance: 59 * time.Minute, want: true},
		{name: "value at exact ttl is expired", ttl: time.Hour, advance: time.Hour, want: false},
		{name: "value beyond ttl is expired", ttl: time.Hour, advance: 61 * time.Minute, want: false},
		{name: "zero ttl disables the cache", ttl: 0, advance: 0, want: false},
		{name: "negative ttl disables the cache", ttl: -time.Second, advance: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			c := NewExpiring[string](tt.ttl, WithClock(clock.Now))
			c.Set("value")
			clock.Advance(tt.advance)

			// Validity requires now - stamp < ttl, strictly.
			assert.Equal(t, tt.want, c.IsValid())
			_, ok := c.Get()
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestExpiringCache_GetBeforeSet(t *testing.T) {
	t.Parallel()

	c := NewExpiring[[]string](time.Hour)
	assert.False(t, c.IsValid())
	value, ok := c.Get()
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestExpiringCache_ClearIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewExpiring[int](time.Hour)
	c.Set(42)
	require.True(t, c.IsValid())

	c.Clear()
	assert.False(t, c.IsValid())
	_, ok := c.Get()
	assert.False(t, ok)

	// Clearing again must leave the cache in the same state.
	c.Clear()
	assert.False(t, c.IsValid())
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestExpiringCache_SetRefreshesTimestamp(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewExpiring[string](time.Hour, WithClock(clock.Now))

	c.Set("first")
	clock.Advance(50 * time.Minute)
	c.Set("second")
	clock.Advance(50 * time.Minute)

	// 100 minutes after the first Set, but only 50 after the second.
	value, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestExpiringCache_Create(t *testing.T) {
	t.Parallel()

	t.Run("with init value performs a set", func(t *testing.T) {
		t.Parallel()

		c := NewExpiring[string](time.Hour)
		init := "initial"
		value, ok := c.Create(&init)
		assert.True(t, ok)
		assert.Equal(t, "initial", value)
		assert.True(t, c.IsValid())
	})

	t.Run("without init value has no side effects", func(t *testing.T) {
		t.Parallel()

		c := NewExpiring[string](time.Hour)
		_, ok := c.Create(nil)
		assert.False(t, ok)
		assert.False(t, c.IsValid())

		c.Set("existing")
		value, ok := c.Create(nil)
		assert.True(t, ok)
		assert.Equal(t, "existing", value)
	})
}

func TestExpiringCache_ConcurrentSetAndGet(t *testing.T) {
	t.Parallel()

	c := NewExpiring[int](time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			c.Set(n)
		}(i)
		go func() {
			defer wg.Done()
			// Any observed value must be one that some writer stored.
			if value, ok := c.Get(); ok {
				assert.GreaterOrEqual(t, value, 0)
				assert.Less(t, value, 50)
			}
		}()
	}
	wg.Wait()

	_, ok := c.Get()
	assert.True(t, ok)
}
