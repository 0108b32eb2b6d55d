//go:build integration

package reserve

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Requires a reachable Redis; set REDIS_ADDR or default to localhost:6379.
func newRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		t.Skipf("redis not reachable at %s: %v", addr, errPing)
	}
	return client
}

func TestRedisCounterIncrementAndTotal(t *testing.T) {
	client := newRedisClient(t)
	prefix := fmt.Sprintf("hushbox:test:%d:", time.Now().UnixNano())
	counter := NewRedisCounter(client, WithKeyPrefix(prefix))
	ctx := context.Background()

	total, errIncr := counter.Increment(ctx, "user:1", 12.5)
	if errIncr != nil {
		t.Fatalf("increment: %v", errIncr)
	}
	if math.Abs(total-12.5) > 1e-9 {
		t.Fatalf("total = %v, want 12.5", total)
	}

	total, errIncr = counter.Increment(ctx, "user:1", 7.5)
	if errIncr != nil {
		t.Fatalf("second increment: %v", errIncr)
	}
	if math.Abs(total-20) > 1e-9 {
		t.Fatalf("total = %v, want 20", total)
	}

	read, errRead := counter.Total(ctx, "user:1")
	if errRead != nil {
		t.Fatalf("read total: %v", errRead)
	}
	if math.Abs(read-20) > 1e-9 {
		t.Fatalf("read = %v, want 20", read)
	}

	if errDel := client.Del(ctx, prefix+"user:1").Err(); errDel != nil {
		t.Fatalf("cleanup: %v", errDel)
	}
}

func TestRedisCounterMissingKeyIsZero(t *testing.T) {
	client := newRedisClient(t)
	counter := NewRedisCounter(client, WithKeyPrefix(fmt.Sprintf("hushbox:test:%d:", time.Now().UnixNano())))

	total, errRead := counter.Total(context.Background(), "user:absent")
	if errRead != nil {
		t.Fatalf("total: %v", errRead)
	}
	if total != 0 {
		t.Fatalf("missing key total = %v, want 0", total)
	}
}
