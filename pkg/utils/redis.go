package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the dialer's redis client.
type RedisConfig struct {
	Addr string
	// ClientName shows up in CLIENT LIST.
	ClientName string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.ClientName == "" {
		out.ClientName = "outbound-dialer"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	// Reads sit on the dispatch path (DNC, recency, slots).
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 2 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		ClientName:      cfg.ClientName,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// SlotResult is the outcome of a slot acquire.
type SlotResult struct {
	Acquired bool
	// InUse counts the slots held after the call.
	InUse int64
}

// A full counter refuses without incrementing. Every acquire refreshes the TTL.
var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = slot counter
-- ARGV[1] = limit
-- ARGV[2] = ttl_ms
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, current}
`)

// Releasing an expired or empty counter is a no-op; the count never goes negative.
var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = slot counter
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// AcquireSlot takes one of limit slots under key. ttl bounds how long a slot
// leaked by a crashed dialer stays held.
func AcquireSlot(ctx context.Context, rdb *redis.Client, key string, limit int, ttl time.Duration) (SlotResult, error) {
	if rdb == nil {
		return SlotResult{}, errors.New("redis client is nil")
	}
	if key == "" {
		return SlotResult{}, errors.New("slot key is required")
	}
	if limit <= 0 {
		return SlotResult{}, errors.New("slot limit must be > 0")
	}
	if ttl <= 0 {
		return SlotResult{}, errors.New("slot ttl must be > 0")
	}

	res, err := slotAcquireScript.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return SlotResult{}, err
	}
	if len(res) != 2 {
		return SlotResult{}, fmt.Errorf("slot acquire: unexpected reply %v", res)
	}
	return SlotResult{Acquired: res[0] == 1, InUse: res[1]}, nil
}

// ReleaseSlot gives back a slot and returns how many remain held.
func ReleaseSlot(ctx context.Context, rdb *redis.Client, key string) (int64, error) {
	if rdb == nil {
		return 0, errors.New("redis client is nil")
	}
	if key == "" {
		return 0, errors.New("slot key is required")
	}
	return slotReleaseScript.Run(ctx, rdb, []string{key}).Int64()
}
