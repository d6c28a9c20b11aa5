package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotAcquired = errors.New("slot lock not acquired")

// Locker guards critical sections per slot key. Implementations never block
// longer than the caller's context allows.
type Locker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Local is an in-process Locker. Waiters queue on the key instead of failing
// fast, since hold times are bounded to in-memory work.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireRef(key)
	defer l.releaseRef(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrNotAcquired, ctx.Err())
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *Local) acquireRef(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	return s
}

func (l *Local) releaseRef(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
}

// SlotKey names the lock for one (caregiver, date) pair.
func SlotKey(caregiver, date string) string {
	return "slot:" + caregiver + ":" + date
}
