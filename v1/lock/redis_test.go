package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-spin/v1/syncbus"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis, syncbus.Bus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := syncbus.NewInMemoryBus()
	locker := NewRedis(client, bus, WithPollInterval(time.Millisecond))
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return locker, mr, bus, context.Background()
}

func TestRedisTryLockAcquireReleaseAndBus(t *testing.T) {
	l, mr, bus, ctx := newRedisLocker(t)

	lockCh, err := bus.Subscribe(ctx, "lock:k")
	if err != nil {
		t.Fatalf("subscribe lock: %v", err)
	}
	unlockCh, err := bus.Subscribe(ctx, "unlock:k")
	if err != nil {
		t.Fatalf("subscribe unlock: %v", err)
	}

	tok, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got, _ := mr.Get("k"); got != string(tok) {
		t.Fatalf("expected key to store token %q, got %q", tok, got)
	}
	select {
	case <-lockCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for lock publish")
	}
	if err := l.Release(ctx, "k", tok); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-unlockCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unlock publish")
	}
	if mr.Exists("k") {
		t.Fatal("key not deleted on release")
	}

	tok, ok, err := l.TryLock(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	if _, ok, err := l.TryLock(ctx, "k", time.Second); err != nil || ok {
		t.Fatalf("expected lock held, ok %v err %v", ok, err)
	}
	if err := l.Release(ctx, "k", tok); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestRedisAcquireTimeout(t *testing.T) {
	l1, _, bus, ctx := newRedisLocker(t)
	l2 := NewRedis(l1.client, bus)

	if _, ok, err := l1.TryLock(ctx, "k", 0); err != nil || !ok {
		t.Fatalf("initial trylock: %v ok %v", err, ok)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := l2.Acquire(cctx, "k", 0); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("acquire did not respect context timeout")
	}
}

func TestRedisAcquireWakesOnRelease(t *testing.T) {
	l1, _, bus, ctx := newRedisLocker(t)
	l2 := NewRedis(l1.client, bus, WithPollInterval(time.Hour))
	tok, err := l1.Acquire(ctx, "k", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := l2.Acquire(ctx, "k", 0)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := l1.Release(ctx, "k", tok); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by unlock event")
	}
}

func TestRedisReleaseUnheld(t *testing.T) {
	l, _, _, ctx := newRedisLocker(t)
	if err := l.Release(ctx, "k", "nobody"); !errors.Is(err, spinerrors.ErrInvalidRelease) {
		t.Fatalf("expected ErrInvalidRelease, got %v", err)
	}
}

// A holder whose TTL ran out must not free the key for the next holder, even
// when both went through the same locker.
func TestRedisStaleReleaseAfterExpiry(t *testing.T) {
	l, mr, _, ctx := newRedisLocker(t)

	first, ok, err := l.TryLock(ctx, "k", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first trylock: %v ok %v", err, ok)
	}
	mr.FastForward(time.Second)
	second, ok, err := l.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("second trylock after expiry: %v ok %v", err, ok)
	}

	if err := l.Release(ctx, "k", first); !errors.Is(err, spinerrors.ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder for stale token, got %v", err)
	}
	if got, _ := mr.Get("k"); got != string(second) {
		t.Fatalf("stale release touched the key: got %q want %q", got, second)
	}
	if _, ok, err := l.TryLock(ctx, "k", 0); err != nil || ok {
		t.Fatalf("third caller acquired while second holds: ok %v err %v", ok, err)
	}
	if err := l.Release(ctx, "k", second); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestRedisAcquireSerializesCounter(t *testing.T) {
	l, _, _, ctx := newRedisLocker(t)
	counter := 0
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Acquire(ctx, "counter", 0)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			counter++
			if err := l.Release(ctx, "counter", tok); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()
	if counter != workers {
		t.Fatalf("expected %d got %d", workers, counter)
	}
}
