// Package cache defines the key/value store used to hold analysis state.
//
// The store is best-effort by contract: callers treat read errors as misses
// and swallow write errors, so an outage degrades to live polling instead of
// failing requests.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Store is the cache port consumed by the orchestrator.
type Store interface {
	// Get returns the value for key, reporting presence separately from
	// transport errors so callers can fail open.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetWithTTL writes value under key with a per-entry expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteKeys removes the given keys and reports how many existed.
	// Deleting an absent key is not an error.
	DeleteKeys(ctx context.Context, keys ...string) (int, error)
	// HealthCheck probes the store with a lightweight round trip. It never
	// returns an error; an unreachable store is reported as unhealthy.
	HealthCheck(ctx context.Context) Health
	// Stats returns a best-effort metrics snapshot; ok is false on error.
	Stats(ctx context.Context) (Stats, bool)
	// Close releases the underlying connection.
	Close() error
}

// Health is the result of a HealthCheck probe.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Stats is a snapshot of store-level metrics.
type Stats struct {
	UsedMemoryBytes int64 `json:"used_memory_bytes"`
	KeyCount        int64 `json:"key_count"`
}

// ResultKey addresses the long-lived terminal result for a product.
func ResultKey(productID string) string {
	return fmt.Sprintf("result:%s", productID)
}

// StatusKey addresses the short-lived in-flight status for a product.
func StatusKey(productID string) string {
	return fmt.Sprintf("status:%s", productID)
}

// TaskKey addresses the task-to-product index used by callback resolution.
func TaskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}
