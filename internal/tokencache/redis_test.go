package tokencache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create token cache: %v", err)
	}
	return cache, s
}

func TestPutAndGet(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	entry := Entry{DocumentID: "doc_1", Capability: "read"}

	if err := cache.Put(ctx, "tok-abc", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := cache.Get(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != entry {
		t.Fatalf("got %+v, want %+v", got, entry)
	}
}

func TestGetMiss(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	_, ok, err := cache.Get(context.Background(), "tok-missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}
}

func TestDeleteEvictsTokens(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	for _, token := range []string{"tok-1", "tok-2"} {
		if err := cache.Put(ctx, token, Entry{DocumentID: "doc_1", Capability: "read"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := cache.Delete(ctx, "tok-1", "tok-2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, token := range []string{"tok-1", "tok-2"} {
		if _, ok, _ := cache.Get(ctx, token); ok {
			t.Fatalf("token %s should be evicted", token)
		}
	}
}

func TestPing(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	s.Close()
	if err := cache.Ping(context.Background()); err == nil {
		t.Fatal("Ping should fail once redis is down")
	}
}

func TestEntryExpires(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "tok-ttl", Entry{DocumentID: "doc_1", Capability: "write"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	s.FastForward(16 * time.Minute)

	if _, ok, _ := cache.Get(ctx, "tok-ttl"); ok {
		t.Fatal("entry should have expired")
	}
}
