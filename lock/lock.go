// Package lock defines the mutual-exclusion contract implemented by
// lock/flock and relied on by the generic flock-backed stores (JSON indexes,
// run state) and by GC modules. The Atomic Lock (lock/atomiclock) does not
// implement it.
package lock

import "context"

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock acquires l, runs fn, and releases l unconditionally.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}
