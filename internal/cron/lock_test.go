package cron

import (
	"context"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) ReleaseIfOwner(_ context.Context, key, owner string) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryStore) LockKey(name string) string { return "sp:lock:" + name }

func TestRedisLocksAreExclusivePerJob(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	locks := RedisLocks(store, time.Minute)

	first, err := locks(JobPayoutRetry)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	second, _ := locks(JobPayoutRetry)
	other, _ := locks(JobEscrowRelease)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire to win, got %v %v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("expected second replica to lose the race")
	}
	if ok, _ := other.Acquire(ctx); !ok {
		t.Fatal("expected a different job to lock independently")
	}
	if _, ok := store.values["sp:lock:cron:payout-retry"]; !ok {
		t.Fatalf("expected namespaced key, have %v", store.values)
	}

	// the loser must not free the winner's lock
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("lock released by a non-owner")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after owner release")
	}
}

func TestRedisLockIgnoresExpiredOwnership(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	lock, err := NewRedisLock(store, "sp:lock:cron:dispute-sla", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	// TTL expired and another replica took over
	store.values["sp:lock:cron:dispute-sla"] = "other-owner"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["sp:lock:cron:dispute-sla"] != "other-owner" {
		t.Fatal("released a lock owned by another replica")
	}
}
