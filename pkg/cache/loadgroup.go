package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/icanbwell/credcache/pkg/errors"
	"github.com/icanbwell/credcache/pkg/logger"
)

// GroupOption configures a LoadGroup.
type GroupOption func(*groupOptions)

type groupOptions struct {
	waitTimeout time.Duration
}

// WithWaitTimeout bounds how long a caller waits for an in-flight load
// before failing with a lock_timeout error. Zero (the default) waits
// forever. The in-flight load itself is never interrupted by the timeout.
func WithWaitTimeout(d time.Duration) GroupOption {
	return func(o *groupOptions) {
		o.waitTimeout = d
	}
}

// LoadGroup runs at most one load per key at a time; concurrent callers for
// the same key wait for the in-flight load and share its result.
//
// ConfigCache uses a LoadGroup with a single fixed key, the token exchange
// manager keys it by (provider, referringSubject). Keys never serialize
// against each other.
type LoadGroup[T any] struct {
	group       singleflight.Group
	waitTimeout time.Duration
}

// NewLoadGroup creates a LoadGroup.
func NewLoadGroup[T any](opts ...GroupOption) *LoadGroup[T] {
	o := groupOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &LoadGroup[T]{waitTimeout: o.waitTimeout}
}

// Load returns the value for key, invoking load at most once concurrently
// per key.
//
// check is the cheap cache probe: it is consulted before joining the flight
// and again inside it (double-checked), because another caller may have
// populated the cache while this one was waiting.
//
// The in-flight load runs on a context detached from the caller's: a
// caller's cancellation while it is the flight leader must still let the
// load complete and populate the cache for the benefit of the waiters.
// A cancelled or timed-out waiter returns early; the flight carries on.
func (g *LoadGroup[T]) Load(
	ctx context.Context,
	key string,
	check func() (T, bool),
	load func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	if value, ok := check(); ok {
		return value, nil
	}

	ch := g.group.DoChan(key, func() (any, error) {
		if value, ok := check(); ok {
			logger.Debugw("cache populated while waiting for flight", "key", key)
			return value, nil
		}
		return load(context.WithoutCancel(ctx))
	})

	var timeoutC <-chan time.Time
	if g.waitTimeout > 0 {
		timer := time.NewTimer(g.waitTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			// Only possible if load returned a mismatched concrete type,
			// which the generic signature rules out.
			return zero, errors.NewError(errors.ErrConfigLoad, "unexpected flight result type", nil)
		}
		return value, nil
	case <-timeoutC:
		return zero, errors.NewLockTimeoutError("timed out waiting for in-flight load of " + key)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Forget removes key from the group so that the next Load starts a fresh
// flight instead of joining one already in progress.
func (g *LoadGroup[T]) Forget(key string) {
	g.group.Forget(key)
}
