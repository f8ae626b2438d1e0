package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crederrors "github.com/icanbwell/credcache/pkg/errors"
)

func TestLoadGroup_SingleFlight(t *testing.T) {
	t.Parallel()

	const callers = 20

	c := NewExpiring[[]string](time.Hour)
	g := NewLoadGroup[[]string]()

	var loads atomic.Int64
	release := make(chan struct{})

	load := func(_ context.Context) ([]string, error) {
		loads.Add(1)
		<-release // hold the flight open until all callers have piled up
		value := []string{"modelA", "modelB"}
		c.Set(value)
		return value, nil
	}

	var wg sync.WaitGroup
	results := make([][]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = g.Load(context.Background(), "configs", c.Get, load)
		}(i)
	}

	// Give the goroutines a moment to reach the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load(), "loader must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"modelA", "modelB"}, results[i])
	}
}

func TestLoadGroup_CheckShortCircuits(t *testing.T) {
	t.Parallel()

	c := NewExpiring[string](time.Hour)
	c.Set("cached")
	g := NewLoadGroup[string]()

	value, err := g.Load(context.Background(), "key", c.Get, func(_ context.Context) (string, error) {
		t.Fatal("loader must not run on a valid cache")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", value)
}

func TestLoadGroup_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	c := NewExpiring[string](time.Hour)
	g := NewLoadGroup[string]()
	sentinel := errors.New("loader blew up")

	calls := 0
	failing := func(_ context.Context) (string, error) {
		calls++
		return "", sentinel
	}

	_, err := g.Load(context.Background(), "key", c.Get, failing)
	require.ErrorIs(t, err, sentinel)
	assert.False(t, c.IsValid(), "a failed load must not populate the cache")

	// The next call retries the loader instead of replaying the failure.
	_, err = g.Load(context.Background(), "key", c.Get, failing)
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestLoadGroup_DistinctKeysDoNotSerialize(t *testing.T) {
	t.Parallel()

	g := NewLoadGroup[string]()
	blockA := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = g.Load(context.Background(), "a",
			func() (string, bool) { return "", false },
			func(_ context.Context) (string, error) {
				<-blockA
				return "a", nil
			})
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		value, err := g.Load(context.Background(), "b",
			func() (string, bool) { return "", false },
			func(_ context.Context) (string, error) { return "b", nil })
		assert.NoError(t, err)
		assert.Equal(t, "b", value)
	}()

	select {
	case <-done:
		// key "b" completed while "a" was still in flight
	case <-time.After(2 * time.Second):
		t.Fatal("load for key b was serialized behind key a")
	}

	close(blockA)
	wg.Wait()
}

func TestLoadGroup_WaiterCancellationDoesNotAbortFlight(t *testing.T) {
	t.Parallel()

	c := NewExpiring[string](time.Hour)
	g := NewLoadGroup[string]()

	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			t.Error("flight context must be detached from the caller's")
		}
		c.Set("loaded")
		return "loaded", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Load(ctx, "key", c.Get, load)
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// The flight keeps going and still populates the cache.
	close(release)
	require.Eventually(t, c.IsValid, time.Second, 10*time.Millisecond)
	value, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "loaded", value)
}

func TestLoadGroup_WaitTimeout(t *testing.T) {
	t.Parallel()

	g := NewLoadGroup[string](WithWaitTimeout(30 * time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	_, err := g.Load(context.Background(), "stuck",
		func() (string, bool) { return "", false },
		func(_ context.Context) (string, error) {
			<-release
			return "late", nil
		})
	assert.True(t, crederrors.IsType(err, crederrors.ErrLockTimeout))
}

func TestOnce_MemoizesSuccess(t *testing.T) {
	t.Parallel()

	var o Once[int]
	calls := 0
	factory := func() (int, error) {
		calls++
		return 7, nil
	}

	for i := 0; i < 3; i++ {
		value, err := o.Do(factory)
		require.NoError(t, err)
		assert.Equal(t, 7, value)
	}
	assert.Equal(t, 1, calls)
}

func TestOnce_RetriesAfterFailure(t *testing.T) {
	t.Parallel()

	var o Once[string]
	boom := errors.New("boom")
	calls := 0

	_, err := o.Do(func() (string, error) {
		calls++
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	value, err := o.Do(func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, calls)
}

func TestOnce_ConcurrentFirstCall(t *testing.T) {
	t.Parallel()

	var o Once[int]
	var calls atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := o.Do(func() (int, error) {
				calls.Add(1)
				time.Sleep(5 * time.Millisecond)
				return 99, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 99, value)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())
}
