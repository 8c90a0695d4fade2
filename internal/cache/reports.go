package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"settleup/internal/core"
)

// ReportCache memoizes group reports by (group, version). A mutation bumps
// the version, so stale entries are never served and simply age out.
type ReportCache struct {
	lru    *LRUCache[core.GroupReport]
	flight singleflight.Group
}

func NewReportCache(size int, ttl time.Duration) *ReportCache {
	return &ReportCache{lru: NewLRUCache[core.GroupReport](size, ttl)}
}

func reportKey(groupID, version int64) string {
	return fmt.Sprintf("%d:%d", groupID, version)
}

// Get returns the report for g's current version, calling compute at most
// once per key among concurrent callers. A computed report is stored under
// the version it reports, which may be newer than g's if a write landed in
// between.
func (c *ReportCache) Get(ctx context.Context, g core.Group, compute func(context.Context, core.Group) (core.GroupReport, error)) (core.GroupReport, error) {
	key := reportKey(g.ID, g.Version)
	if r, ok := c.lru.Get(key); ok {
		return r, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if r, ok := c.lru.Get(key); ok {
			return r, nil
		}
		r, err := compute(ctx, g)
		if err != nil {
			return core.GroupReport{}, err
		}
		c.lru.Set(reportKey(r.GroupID, r.Version), r)
		return r, nil
	})
	if err != nil {
		return core.GroupReport{}, err
	}
	return v.(core.GroupReport), nil
}

func (c *ReportCache) CleanExpired() int { return c.lru.CleanExpired() }

func (c *ReportCache) Size() int { return c.lru.Size() }
