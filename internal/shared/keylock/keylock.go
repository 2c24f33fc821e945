package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the key could not be acquired before the deadline.
var ErrTimeout = errors.New("keylock: timed out waiting for key")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out one exclusive slot per key. Different keys never contend with each other.
// Entries are dropped once no goroutine holds or waits on them.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Acquire blocks until key is free, ctx is done or timeout elapses (timeout <= 0 waits on ctx only).
// The returned release func must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.drop(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.drop(key, e)
		})
	}, nil
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
