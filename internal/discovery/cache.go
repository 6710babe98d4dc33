package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/metrics"
)

// Cache wraps a backend with a short-lived member cache. Concurrent
// refreshes collapse into one backend query, so a dispatch burst does not
// stampede Redis/etcd/S3.
type Cache struct {
	inner Discovery
	ttl   time.Duration

	sf      singleflight.Group
	mu      sync.RWMutex
	members []group.Member
	fetched time.Time
}

// NewCache wraps inner. A non-positive ttl falls back to 1s.
func NewCache(inner Discovery, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Cache{inner: inner, ttl: ttl}
}

// Announce passes through to the backend.
func (c *Cache) Announce(ctx context.Context, m group.Member) error {
	return c.inner.Announce(ctx, m)
}

// Members serves from the cache while fresh, refreshing through a single
// flight otherwise.
func (c *Cache) Members(ctx context.Context) ([]group.Member, error) {
	c.mu.RLock()
	if time.Since(c.fetched) < c.ttl {
		members := copyMembers(c.members)
		c.mu.RUnlock()
		return members, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("members", func() (any, error) {
		members, err := c.inner.Members(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.members = members
		c.fetched = time.Now()
		c.mu.Unlock()
		metrics.SetMembers(len(members))
		return members, nil
	})
	if err != nil {
		return nil, err
	}
	return copyMembers(v.([]group.Member)), nil
}

// Forget passes through and drops the cache so the next Members call sees
// the withdrawal.
func (c *Cache) Forget(ctx context.Context, id group.MemberID) error {
	err := c.inner.Forget(ctx, id)
	c.Invalidate()
	return err
}

// Invalidate forces the next Members call to hit the backend.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.inner.Close()
}

func copyMembers(members []group.Member) []group.Member {
	out := make([]group.Member, len(members))
	copy(out, members)
	return out
}
