package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rate_limit:"

// Each counter is a hash {count, window_start, expires_at} with a PEXPIREAT
// at expires_at, so Redis reclaims dead windows itself.
var createScript = redis.NewScript(`
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0')
if expires > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'count', 1, 'window_start', ARGV[1], 'expires_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return 1
`)

var incrementScript = redis.NewScript(`
local values = redis.call('HMGET', KEYS[1], 'count', 'window_start', 'expires_at')
if not values[1] or not values[3] then
	return {-1, 0, 0, 0}
end
local count = tonumber(values[1])
local expires = tonumber(values[3])
if expires <= tonumber(ARGV[1]) then
	return {-1, 0, 0, 0}
end
if count >= tonumber(ARGV[2]) then
	return {0, count, tonumber(values[2]), expires}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, tonumber(values[2]), expires}
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SweepExpired is a no-op: key TTLs reclaim expired windows.
func (s *RedisStore) SweepExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) GetLive(ctx context.Context, key string, now time.Time) (*Counter, error) {
	values, err := s.client.HMGet(ctx, redisKeyPrefix+key, "count", "window_start", "expires_at").Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}

	counter, ok, err := parseRedisCounter(key, values)
	if err != nil {
		return nil, err
	}
	if !ok || !counter.ExpiresAt.After(now) {
		return nil, nil
	}
	return &counter, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, max int, now time.Time) (Counter, error) {
	result, err := incrementScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, now.UnixMilli(), max).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("increment rate limit: %w", err)
	}
	if len(result) != 4 {
		return Counter{}, fmt.Errorf("increment rate limit: unexpected reply %v", result)
	}

	counter := Counter{
		Key:         key,
		Count:       int(result[1]),
		WindowStart: time.UnixMilli(result[2]).UTC(),
		ExpiresAt:   time.UnixMilli(result[3]).UTC(),
	}
	switch result[0] {
	case 1:
		return counter, nil
	case 0:
		return counter, ErrCounterFull
	default:
		return Counter{}, ErrCounterMissing
	}
}

func (s *RedisStore) Create(ctx context.Context, key string, windowStart, expiresAt time.Time) (Counter, error) {
	created, err := createScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, windowStart.UnixMilli(), expiresAt.UnixMilli()).Int64()
	if err != nil {
		return Counter{}, fmt.Errorf("create rate limit: %w", err)
	}
	if created == 0 {
		return Counter{}, ErrCounterExists
	}

	return Counter{
		Key:         key,
		Count:       1,
		WindowStart: windowStart.UTC().Truncate(time.Millisecond),
		ExpiresAt:   expiresAt.UTC().Truncate(time.Millisecond),
	}, nil
}

func parseRedisCounter(key string, values []any) (Counter, bool, error) {
	if len(values) != 3 {
		return Counter{}, false, nil
	}

	fields := make([]int64, 3)
	for i, value := range values {
		if value == nil {
			return Counter{}, false, nil
		}
		raw, ok := value.(string)
		if !ok {
			return Counter{}, false, fmt.Errorf("rate limit field %d: unexpected type %T", i, value)
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counter{}, false, fmt.Errorf("rate limit field %d: %w", i, err)
		}
		fields[i] = parsed
	}

	return Counter{
		Key:         key,
		Count:       int(fields[0]),
		WindowStart: time.UnixMilli(fields[1]).UTC(),
		ExpiresAt:   time.UnixMilli(fields[2]).UTC(),
	}, true, nil
}
