package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/lock"
)

func newTestLocker(t *testing.T) (*redisSlotLocker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewRedisSlotLocker(db, 5*time.Second).(*redisSlotLocker)
	l.newToken = func() string { return "tok-1" }
	return l, mock
}

func TestWithSlotLock_AcquiresRunsAndReleases(t *testing.T) {
	l, mock := newTestLocker(t)
	key := lock.SlotKey("alice", "2024-06-01")

	mock.ExpectSetNX("lock:"+key, "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectEvalSha(unlockScript.Hash(), []string{"lock:" + key}, "tok-1").SetVal(int64(1))

	called := false
	err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected critical section context to carry the lock ttl deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSlotLock error: %v", err)
	}
	if !called {
		t.Fatalf("critical section was not run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithSlotLock_BusyKeyFailsFast(t *testing.T) {
	l, mock := newTestLocker(t)
	key := lock.SlotKey("alice", "2024-06-01")

	mock.ExpectSetNX("lock:"+key, "tok-1", 5*time.Second).SetVal(false)

	called := false
	err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("err = %v, want %v", err, lock.ErrNotAcquired)
	}
	if called {
		t.Fatalf("critical section ran without the lock")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithSlotLock_RedisErrorIsNotBusy(t *testing.T) {
	l, mock := newTestLocker(t)
	key := lock.SlotKey("bob", "2024-07-01")

	mock.ExpectSetNX("lock:"+key, "tok-1", 5*time.Second).SetErr(errors.New("connection refused"))

	err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		return nil
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("transport error reported as busy lock: %v", err)
	}
}

func TestWithSlotLock_FnErrorStillReleases(t *testing.T) {
	l, mock := newTestLocker(t)
	key := lock.SlotKey("carol", "2024-08-01")
	want := errors.New("slot taken")

	mock.ExpectSetNX("lock:"+key, "tok-1", 5*time.Second).SetVal(true)
	mock.ExpectEvalSha(unlockScript.Hash(), []string{"lock:" + key}, "tok-1").SetVal(int64(1))

	err := l.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
