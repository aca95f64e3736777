package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prosumer-p2p/internal/model"
)

func TestCacheFreshness(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(10 * time.Second).WithNow(func() time.Time { return now })

	_, err := c.Fresh("node-b")
	assert.ErrorIs(t, err, ErrNoPeerData)

	c.Upsert(model.PeerSnapshot{NodeID: "node-b", Balance: -1, Enable: true})
	snap, err := c.Fresh("node-b")
	require.NoError(t, err)
	assert.Equal(t, -1.0, snap.Balance)

	now = now.Add(11 * time.Second)
	snap, err = c.Fresh("node-b")
	assert.ErrorIs(t, err, ErrStaleData)
	assert.Equal(t, -1.0, snap.Balance, "stale data is still returned for logging")

	got, ok := c.Get("node-b")
	require.True(t, ok)
	assert.Equal(t, "node-b", got.NodeID)
}

func TestCacheZeroFreshnessNeverStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(0).WithNow(func() time.Time { return now })
	c.Upsert(model.PeerSnapshot{NodeID: "node-b"})
	now = now.Add(24 * time.Hour)
	_, err := c.Fresh("node-b")
	assert.NoError(t, err)
}

func TestCacheLastWriteWinsByArrival(t *testing.T) {
	c := NewCache(0)
	t1 := time.Date(2013, 1, 1, 1, 0, 0, 0, time.UTC)
	t0 := t1.Add(-30 * time.Minute)

	c.Upsert(model.PeerSnapshot{NodeID: "node-b", Timestamp: t1, Balance: 2})
	c.Upsert(model.PeerSnapshot{NodeID: "node-b", Timestamp: t0, Balance: 1})

	got, ok := c.Get("node-b")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Balance)
	assert.Equal(t, t0, c.LatestTimestamp("node-b"))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.LatestTimestamp("node-c").IsZero())
}

func TestCacheAggregates(t *testing.T) {
	c := NewCache(0)
	_, ok := c.Aggregate("node-b")
	assert.False(t, ok)

	c.StoreAggregate(model.AggregateSnapshot{NodeID: "node-b", Ticks: 4})
	agg, ok := c.Aggregate("node-b")
	require.True(t, ok)
	assert.Equal(t, 4, agg.Ticks)
}
