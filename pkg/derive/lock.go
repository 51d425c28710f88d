package derive

import (
	"context"
	"sync"
)

// Locker serializes rebuilds. TryLock never waits: it returns
// ErrRebuildInProgress when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// LocalLocker is a process-local Locker used when no shared lock is configured
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker creates a process-local rebuild lock
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryLock implements Locker
func (l *LocalLocker) TryLock(_ context.Context) (func(context.Context) error, error) {
	if !l.mu.TryLock() {
		return nil, ErrRebuildInProgress
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
