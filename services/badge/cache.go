package badge

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "badge_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "badge_cache_miss_total"})
)

type CompiledBadgeSet struct {
	Badges    []*CompiledBadge
	UpdatedAt time.Time
}

// BadgeCache holds the compiled predicate set. Loads dedupe through
// singleflight so a cold cache compiles once, not per caller.
type BadgeCache struct {
	mu    sync.RWMutex
	set   *CompiledBadgeSet
	ttl   time.Duration
	group singleflight.Group
}

func NewBadgeCache(ttl time.Duration) *BadgeCache {
	return &BadgeCache{ttl: ttl}
}

func (c *BadgeCache) Get() (*CompiledBadgeSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil || (c.ttl > 0 && time.Since(c.set.UpdatedAt) > c.ttl) {
		return nil, false
	}
	return c.set, true
}

func (c *BadgeCache) Set(set *CompiledBadgeSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = set
}

func (c *BadgeCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = nil
}

func (c *BadgeCache) Load(load func() (*CompiledBadgeSet, error)) (*CompiledBadgeSet, error) {
	if set, ok := c.Get(); ok {
		cacheHits.Inc()
		return set, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do("badges", func() (any, error) {
		if set, ok := c.Get(); ok {
			return set, nil
		}

		set, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*CompiledBadgeSet), nil
}
