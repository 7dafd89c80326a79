package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ctx = context.Background()
var rdb *redis.Client

func InitRedis(addr string, db int) error {
	rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb = nil
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// SaveStringSafe writes a device attribute, silently skipping when redis is
// not available.
func SaveStringSafe(key, value string) {
	if rdb == nil {
		return
	}
	_ = rdb.Set(ctx, key, value, 0).Err()
}

func GetStringSafe(key string) string {
	if rdb == nil {
		return ""
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return ""
	}
	return val
}

// SaveLastSeen marks the device as alive with a 24h expiry so stale entries
// age out on their own.
func SaveLastSeen(imei string) {
	if rdb == nil {
		return
	}
	_ = rdb.Set(ctx, "dev:"+imei+":last_seen", time.Now().UTC().Format(time.RFC3339), 24*time.Hour).Err()
}

// IncDailyCmdCounter bumps the per-day counter for imei/cmd and reports
// whether the daily limit still allows another send. Without redis the limit
// cannot be enforced and the command is allowed through.
func IncDailyCmdCounter(imei, cmd string, limit int) (bool, int64, error) {
	if rdb == nil {
		return true, 0, nil
	}
	key := "cmd:" + imei + ":" + cmd + ":" + time.Now().UTC().Format("20060102")
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis INCR %s: %w", key, err)
	}
	if n == 1 {
		_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
	}
	allowed := limit <= 0 || n <= int64(limit)
	return allowed, n, nil
}
