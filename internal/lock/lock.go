package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned by Unlock when the caller does not hold the lock.
var ErrNotHeld = errors.New("lock not held")

// Locker serializes sync runs. Lock blocks until acquired or ctx is done;
// TryLock never waits.
type Locker interface {
	Lock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Local is an in-process mutual exclusion lock that honors contexts.
type Local struct {
	sem chan struct{}
}

// NewLocal creates an unlocked Local.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

// Lock waits for the lock.
func (l *Local) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock takes the lock if it is free.
func (l *Local) TryLock(context.Context) (bool, error) {
	select {
	case l.sem <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Unlock releases the lock.
func (l *Local) Unlock(context.Context) error {
	select {
	case <-l.sem:
		return nil
	default:
		return ErrNotHeld
	}
}
