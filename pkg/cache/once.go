package cache

import "sync"

// Once memoizes the first successful result of a factory function. Unlike
// sync.Once it does not latch failures: if the factory returns an error the
// next Do call retries it. Concurrent first calls run the factory once; the
// losers wait and observe the winner's result.
type Once[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
}

// Do returns the memoized value, invoking factory to compute it if no
// successful computation has happened yet.
func (o *Once[T]) Do(factory func() (T, error)) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done {
		return o.value, nil
	}

	value, err := factory()
	if err != nil {
		var zero T
		return zero, err
	}

	o.value = value
	o.done = true
	return value, nil
}

// Reset discards the memoized value so the next Do recomputes it.
func (o *Once[T]) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = false
	var zero T
	o.value = zero
}
