package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisStoreRememberAndLookup(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if _, found, err := store.Lookup(ctx, "k1"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}

	ok, err := store.Remember(ctx, "k1", "tx-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("remember failed: ok=%v err=%v", ok, err)
	}

	txID, found, err := store.Lookup(ctx, "k1")
	if err != nil || !found || txID != "tx-1" {
		t.Fatalf("lookup mismatch: %q found=%v err=%v", txID, found, err)
	}
}

func TestRedisStoreSingleWinner(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if ok, _ := store.Remember(ctx, "dup", "tx-1", time.Minute); !ok {
		t.Fatal("first writer should win")
	}
	if ok, _ := store.Remember(ctx, "dup", "tx-2", time.Minute); ok {
		t.Fatal("second writer should lose")
	}
	txID, _, _ := store.Lookup(ctx, "dup")
	if txID != "tx-1" {
		t.Fatalf("expected winner's mapping, got %q", txID)
	}
}

func TestRedisStoreRetention(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	store.Remember(ctx, "short", "tx-1", time.Second)
	mr.FastForward(2 * time.Second)

	if _, found, err := store.Lookup(ctx, "short"); err != nil || found {
		t.Fatalf("expected expired record, found=%v err=%v", found, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	store.Remember(ctx, "k", "tx-1", time.Minute)
	now = now.Add(2 * time.Minute)

	if _, found, _ := store.Lookup(ctx, "k"); found {
		t.Fatal("expected expired record")
	}
	if ok, _ := store.Remember(ctx, "k", "tx-2", time.Minute); !ok {
		t.Fatal("expired key should be claimable again")
	}
}

func TestMemoryStoreConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	wins := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := store.Remember(ctx, "race", string(rune('a'+i)), time.Minute); ok {
				wins <- string(rune('a' + i))
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}
