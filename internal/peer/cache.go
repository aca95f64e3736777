package peer

import (
	"fmt"
	"sync"
	"time"

	"prosumer-p2p/internal/model"
)

type cacheEntry struct {
	snapshot   model.PeerSnapshot
	receivedAt time.Time
}

// Cache holds the last snapshot received from each peer, keyed by sender id.
// Writes are last-write-wins by arrival; there is no ordering check, a missed or
// reordered update is superseded by the next one.
//
// The RPC listener writes, the tick loop reads.
type Cache struct {
	mu         sync.RWMutex
	snapshots  map[string]cacheEntry
	aggregates map[string]model.AggregateSnapshot
	freshness  time.Duration
	now        func() time.Time
}

// NewCache returns an empty cache. A freshness of 0 disables staleness checks.
func NewCache(freshness time.Duration) *Cache {
	return &Cache{
		snapshots:  make(map[string]cacheEntry),
		aggregates: make(map[string]model.AggregateSnapshot),
		freshness:  freshness,
		now:        time.Now,
	}
}

// WithNow overrides the arrival clock (tests).
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Upsert(s model.PeerSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[s.NodeID] = cacheEntry{snapshot: s, receivedAt: c.now()}
}

// Get returns the cached snapshot regardless of its age.
func (c *Cache) Get(nodeID string) (model.PeerSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.snapshots[nodeID]
	return e.snapshot, ok
}

// Fresh returns the cached snapshot if it arrived within the freshness threshold.
func (c *Cache) Fresh(nodeID string) (model.PeerSnapshot, error) {
	c.mu.RLock()
	e, ok := c.snapshots[nodeID]
	c.mu.RUnlock()
	if !ok {
		return model.PeerSnapshot{}, fmt.Errorf("%s: %w", nodeID, ErrNoPeerData)
	}
	if c.freshness > 0 {
		if age := c.now().Sub(e.receivedAt); age > c.freshness {
			return e.snapshot, fmt.Errorf("%s: received %s ago: %w", nodeID, age.Round(time.Millisecond), ErrStaleData)
		}
	}
	return e.snapshot, nil
}

// LatestTimestamp is the simulated timestamp of the cached snapshot, zero when none.
func (c *Cache) LatestTimestamp(nodeID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[nodeID].snapshot.Timestamp
}

func (c *Cache) StoreAggregate(a model.AggregateSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregates[a.NodeID] = a
}

func (c *Cache) Aggregate(nodeID string) (model.AggregateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.aggregates[nodeID]
	return a, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
