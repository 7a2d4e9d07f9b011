package cache

import (
	"context"

	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/platform/metrics"
)

// CachedThreatList 在数据库前加两层：布隆过滤器挡掉一定不在列表里的 key，
// ristretto 缓存最近查过的结果。filter 和 memo 都可以为 nil。
type CachedThreatList struct {
	source safebrowse.ThreatList
	filter *ThreatFilter
	memo   *Memo
}

func NewCachedThreatList(source safebrowse.ThreatList, filter *ThreatFilter, memo *Memo) *CachedThreatList {
	return &CachedThreatList{source: source, filter: filter, memo: memo}
}

func (c *CachedThreatList) Match(ctx context.Context, keys []string) (map[string]safebrowse.ThreatListEntry, error) {
	out := make(map[string]safebrowse.ThreatListEntry)
	var pending []string

	for _, key := range keys {
		if c.filter != nil && !c.filter.MightContain(key) {
			metrics.CacheOperations.WithLabelValues("bloom", "negative").Inc()
			continue
		}
		if c.memo != nil {
			if e, listed, hit := c.memo.Get(key); hit {
				if listed {
					metrics.CacheOperations.WithLabelValues("memo", "hit").Inc()
					out[key] = e
				} else {
					metrics.CacheOperations.WithLabelValues("memo", "hit_negative").Inc()
				}
				continue
			}
			metrics.CacheOperations.WithLabelValues("memo", "miss").Inc()
		}
		pending = append(pending, key)
	}

	if len(pending) == 0 {
		return out, nil
	}

	found, err := c.source.Match(ctx, pending)
	if err != nil {
		return nil, err
	}
	for _, key := range pending {
		e, ok := found[key]
		if ok {
			out[key] = e
		}
		if c.memo == nil {
			continue
		}
		if ok {
			c.memo.Set(key, e)
		} else {
			c.memo.SetNotListed(key)
		}
	}
	return out, nil
}
