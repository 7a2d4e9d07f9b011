package ratelimit

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			redisDB = n
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	})
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Skipf("skip: redis not available at %s: %v", redisAddr, err)
	}
	return client
}

func TestRedisStore_FixedWindow(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client)

	clientID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Del(ctx, store.key(clientID, "safebrowse")).Err()
	})

	window := 2 * time.Second
	l := NewLimiter(store).WithWindow(window)
	limit := 3

	callAllow := func() Decision {
		ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		d, err := l.Allow(ctx, clientID, "safebrowse", limit)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		return d
	}

	// 前 limit 次应放行
	for i := 0; i < limit; i++ {
		if d := callAllow(); !d.Allowed || d.Count != i+1 {
			t.Fatalf("attempt %d: got %+v", i+1, d)
		}
	}

	// 第 limit+1 次应被拒绝
	d := callAllow()
	if d.Allowed {
		t.Fatalf("expected denied at attempt %d", limit+1)
	}
	wait := time.Until(d.ResetAt)
	if wait <= 0 || wait > window {
		t.Fatalf("unexpected reset in %v (window=%v)", wait, window)
	}

	// 窗口结束后重新放行
	time.Sleep(wait + 200*time.Millisecond)
	if d := callAllow(); !d.Allowed || d.Count != 1 {
		t.Fatalf("after window: got %+v", d)
	}
}
