package cache

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"safebrowse.local/internal/app/safebrowse"
)

// ThreatLoader 按自增 id 增量读取威胁列表：回调 id > afterID 的条目，返回见到的最大 id
type ThreatLoader interface {
	LoadAfter(ctx context.Context, afterID int64, fn func(safebrowse.ThreatListEntry)) (int64, error)
}

// refreshOverlap 每次刷新往回多读的 id 数。
// 序列号按分配顺序而不是提交顺序可见，晚提交的小 id 靠这段重叠补上；重复加入布隆过滤器无副作用。
const refreshOverlap = 10000

// ThreatFilter 是威胁列表 url_hash 的布隆过滤器。
// 返回 false 表示一定不在列表里，可以跳过数据库。
type ThreatFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	cursor int64
	ready  bool
}

// NewThreatFilter
// expectedItems: 预期条目数
// falsePositiveRate: 误判率（建议 0.001）
func NewThreatFilter(expectedItems uint, falsePositiveRate float64) *ThreatFilter {
	return &ThreatFilter{
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

// MightContain 未完成首次加载前总是返回 true
func (f *ThreatFilter) MightContain(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.ready {
		return true
	}
	return f.filter.TestString(safebrowse.HashKey(key))
}

func (f *ThreatFilter) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready
}

// Refresh 把游标之后的条目加进过滤器，返回 id 超过上次游标的条目数
func (f *ThreatFilter) Refresh(ctx context.Context, src ThreatLoader) (int, error) {
	f.mu.RLock()
	prev := f.cursor
	f.mu.RUnlock()

	var hashes []string
	added := 0
	latest, err := src.LoadAfter(ctx, max(prev-refreshOverlap, 0), func(e safebrowse.ThreatListEntry) {
		hashes = append(hashes, e.URLHash)
		if e.ID > prev {
			added++
		}
	})
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range hashes {
		f.filter.AddString(h)
	}
	if latest > f.cursor {
		f.cursor = latest
	}
	f.ready = true
	return added, nil
}

// Count 估算已加入的条目数
func (f *ThreatFilter) Count() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.ApproximatedSize()
}
