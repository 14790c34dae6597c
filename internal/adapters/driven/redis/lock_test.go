package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.Close()

	if _, err := Connect(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestLock_OwnerIDUnique(t *testing.T) {
	client, _ := setupTestRedis(t)

	a, b := NewLock(client), NewLock(client)
	if a.OwnerID() == "" || a.OwnerID() == b.OwnerID() {
		t.Errorf("expected distinct owner IDs, got %q and %q", a.OwnerID(), b.OwnerID())
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	lock := NewLock(client)

	ok, err := lock.Acquire(ctx, "index-rebuild", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire: %v, %v", ok, err)
	}
	if got, _ := mr.Get(lockPrefix + "index-rebuild"); got != lock.OwnerID() {
		t.Errorf("expected owner in key, got %q", got)
	}

	// Not reentrant: a rebuild in progress blocks a second one.
	ok, err = lock.Acquire(ctx, "index-rebuild", time.Minute)
	if err != nil || ok {
		t.Errorf("second Acquire should fail, got %v, %v", ok, err)
	}

	if err := lock.Release(ctx, "index-rebuild"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists(lockPrefix + "index-rebuild") {
		t.Error("expected key removed")
	}
}

func TestLock_ContendedAcrossInstances(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	if ok, _ := a.Acquire(ctx, "index-rebuild", time.Minute); !ok {
		t.Fatal("a should acquire")
	}
	if ok, _ := b.Acquire(ctx, "index-rebuild", time.Minute); ok {
		t.Fatal("b must not acquire a held lock")
	}

	// b cannot release or extend a's lock.
	if err := b.Release(ctx, "index-rebuild"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !mr.Exists(lockPrefix + "index-rebuild") {
		t.Error("b released a's lock")
	}
	if err := b.Extend(ctx, "index-rebuild", time.Minute); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld, got %v", err)
	}

	// Expiry frees the lock for b.
	mr.FastForward(2 * time.Minute)
	if ok, _ := b.Acquire(ctx, "index-rebuild", time.Minute); !ok {
		t.Error("b should acquire after expiry")
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	lock := NewLock(client)

	if err := lock.Extend(ctx, "index-rebuild", time.Minute); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld before acquire, got %v", err)
	}

	_, _ = lock.Acquire(ctx, "index-rebuild", 10*time.Second)
	if err := lock.Extend(ctx, "index-rebuild", time.Hour); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if ttl := mr.TTL(lockPrefix + "index-rebuild"); ttl < 59*time.Minute {
		t.Errorf("expected extended TTL, got %v", ttl)
	}
}

func TestLock_ReleaseNotHeld(t *testing.T) {
	client, _ := setupTestRedis(t)
	if err := NewLock(client).Release(context.Background(), "never-acquired"); err != nil {
		t.Errorf("Release of unheld lock should succeed, got %v", err)
	}
}

func TestLock_Ping(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewLock(client)

	if err := lock.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	mr.Close()
	if err := lock.Ping(context.Background()); err == nil {
		t.Error("expected Ping error after server stops")
	}
}
