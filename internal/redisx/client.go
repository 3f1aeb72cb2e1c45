package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// New returns a client for addr, or nil when addr is empty. Callers treat a
// nil client as "Redis not configured" and skip their fast paths.
func New(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// SetNX claims key atomically. claimed=false means another caller got there
// first. A nil client always claims, so code paths behave the same without
// Redis (the durable ledger still backstops them).
func SetNX(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (claimed bool, err error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}
