package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/crop-market/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestApplyStats_Increments(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "stats:test-user")

	if err := adapter.ApplyStats(ctx, "test-user", domain.StatsDelta{TotalPosts: 2, TotalSold: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.ApplyStats(ctx, "test-user", domain.StatsDelta{TotalPurchased: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := adapter.GetStats(ctx, "test-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalPosts != 2 || st.TotalSold != 1 || st.TotalPurchased != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestApplyStats_FloorsAtZero(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "stats:floor-user")
	adapter.ApplyStats(ctx, "floor-user", domain.StatsDelta{TotalPosts: 1})

	// Test - decrement past zero
	if err := adapter.ApplyStats(ctx, "floor-user", domain.StatsDelta{TotalPosts: -3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	posts, _ := client.HGet(ctx, "stats:floor-user", "totalPosts").Int()
	if posts != 0 {
		t.Errorf("expected totalPosts 0, got %d", posts)
	}
}

func TestGetStats_MissingUser(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stats:nobody")

	st, err := adapter.GetStats(ctx, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != (domain.UserStats{}) {
		t.Errorf("expected zero stats, got %+v", st)
	}
}

func TestApplyStats_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stats:concurrent-user")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adapter.ApplyStats(ctx, "concurrent-user", domain.StatsDelta{TotalSold: 1}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	st, _ := adapter.GetStats(ctx, "concurrent-user")
	if st.TotalSold != 50 {
		t.Errorf("expected totalSold 50, got %d", st.TotalSold)
	}
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "idem:test-idem-key")

	// First call should succeed
	ok, err := adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	// Setup
	client.Del(ctx, "idem:concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestReleaseIdempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "idem:release-idem-key")

	if ok, err := adapter.SetIdempotency(ctx, "release-idem-key"); err != nil || !ok {
		t.Fatalf("expected first set to succeed, got %v %v", ok, err)
	}
	if err := adapter.ReleaseIdempotency(ctx, "release-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := adapter.SetIdempotency(ctx, "release-idem-key"); err != nil || !ok {
		t.Errorf("expected released key to be settable, got %v %v", ok, err)
	}
	client.Del(ctx, "idem:release-idem-key")
}
