package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const healthCheckTimeout = 2 * time.Second

// Redis implements Store on top of a go-redis client.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Dial connects to the given address and verifies the connection with a ping.
func Dial(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client}, nil
}

// Get returns the value for key; redis.Nil is reported as a clean miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetWithTTL writes value under key with the given expiry.
func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DeleteKeys removes keys and returns how many were present.
func (r *Redis) DeleteKeys(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// HealthCheck pings the server and measures round-trip latency.
func (r *Redis) HealthCheck(ctx context.Context) Health {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	if err := r.client.Ping(probeCtx).Err(); err != nil {
		return Health{Healthy: false}
	}
	return Health{Healthy: true, Latency: time.Since(start)}
}

// Stats reads memory usage from INFO and the key count from DBSIZE.
func (r *Redis) Stats(ctx context.Context) (Stats, bool) {
	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return Stats{}, false
	}
	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, false
	}
	return Stats{
		UsedMemoryBytes: parseInfoInt(info, "used_memory"),
		KeyCount:        keys,
	}, true
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func parseInfoInt(info, field string) int64 {
	for line := range strings.Lines(info) {
		line = strings.TrimSpace(line)
		val, ok := strings.CutPrefix(line, field+":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
