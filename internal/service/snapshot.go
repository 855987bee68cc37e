package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/arbor/internal/adapter/otel"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/cache"
	"github.com/Strob0t/arbor/internal/port/database"
)

// Snapshot is a forest with all its nodes in lft order, as of Forest.Revision.
// Callers must treat Nodes as read-only; cached snapshots are shared.
type Snapshot struct {
	Forest nestedset.Forest `json:"forest"`
	Nodes  []nestedset.Node `json:"nodes"`
}

// SnapshotCache serves forest snapshots keyed by revision. Every committed
// write bumps the revision, so a cached entry is never stale; it just stops
// being asked for. Concurrent misses for the same revision share one store
// read.
type SnapshotCache struct {
	store   database.NodeReader
	cache   cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	metrics *otel.Metrics
}

// NewSnapshotCache creates a snapshot cache over c.
func NewSnapshotCache(store database.NodeReader, c cache.Cache, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{store: store, cache: c, ttl: ttl}
}

// SetMetrics sets the hit and miss counters.
func (c *SnapshotCache) SetMetrics(m *otel.Metrics) {
	c.metrics = m
}

// Get returns the snapshot of the forest's current revision.
func (c *SnapshotCache) Get(ctx context.Context, forestID string) (*Snapshot, error) {
	f, err := c.store.GetForest(ctx, forestID)
	if err != nil {
		return nil, err
	}
	key := cache.SnapshotKey(forestID, f.Revision)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("snapshot cache get failed", "key", key, "error", err)
	} else if ok {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			c.count(ctx, true)
			return &snap, nil
		}
		slog.Warn("snapshot cache: corrupt entry", "key", key)
	}
	c.count(ctx, false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The fill serves every waiter, so it must not die with the first
		// caller's context.
		fillCtx := context.WithoutCancel(ctx)
		f, nodes, err := c.store.Snapshot(fillCtx, forestID)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Forest: *f, Nodes: nodes}
		if data, err := json.Marshal(snap); err == nil {
			// A write may have landed since GetForest; store under the
			// revision actually read.
			if err := c.cache.Set(fillCtx, cache.SnapshotKey(forestID, f.Revision), data, c.ttl); err != nil {
				slog.Warn("snapshot cache set failed", "forest_id", forestID, "error", err)
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *SnapshotCache) count(ctx context.Context, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.SnapshotHits.Add(ctx, 1)
	} else {
		c.metrics.SnapshotMiss.Add(ctx, 1)
	}
}
