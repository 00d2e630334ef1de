// Package lock serializes work on a single key, such as one issue's
// status transitions, across goroutines or service instances.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the lock could not be taken within the
// wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive per-key locks.
type Locker interface {
	// Acquire blocks until key is held, ctx is done, or the locker's wait
	// budget runs out. The returned function releases the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local that waits at most wait for a key.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
