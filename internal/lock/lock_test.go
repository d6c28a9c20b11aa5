package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("WithSlotLock error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	if len(l.slots) != 0 {
		t.Fatalf("slots left behind = %d, want 0", len(l.slots))
	}
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()

	done := make(chan struct{})
	err := l.WithSlotLock(context.Background(), "a", func(ctx context.Context) error {
		go func() {
			_ = l.WithSlotLock(context.Background(), "b", func(ctx context.Context) error {
				return nil
			})
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(time.Second):
			return errors.New("lock on b blocked behind a")
		}
	})
	if err != nil {
		t.Fatalf("WithSlotLock error: %v", err)
	}
}

func TestLocal_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLocal()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := l.WithSlotLock(ctx, "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	close(release)

	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("err = %v, want %v", err, ErrNotAcquired)
	}
	if called {
		t.Fatalf("fn ran without the lock")
	}
}

func TestLocal_PropagatesFnError(t *testing.T) {
	l := NewLocal()
	want := errors.New("boom")

	err := l.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
