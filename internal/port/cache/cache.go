// Package cache defines the port interface for the forest snapshot cache.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SnapshotKey returns the cache key for a forest snapshot at a revision.
// A committed write bumps the revision, so stale entries are never read
// again and simply age out.
func SnapshotKey(forestID string, revision int64) string {
	return fmt.Sprintf("forest:%s:rev:%d", forestID, revision)
}
