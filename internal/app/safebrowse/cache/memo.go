package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"safebrowse.local/internal/app/safebrowse"
)

// notListed 是负缓存的哨兵值
type notListed struct{}

// Memo 基于 ristretto 的进程内威胁列表查询结果缓存
type Memo struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewMemo
// maxCost: 按条目计 cost=1，即最多缓存多少个 key
func NewMemo(maxCost int64) (*Memo, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10, // 建议为条目数的 10 倍
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memo{
		cache:    cache,
		ttl:      5 * time.Minute,
		emptyTTL: 10 * time.Second, // 负缓存短一些，新导入的条目尽快可见
	}, nil
}

// Get 返回 (条目, 是否在列表中, 是否命中缓存)
func (m *Memo) Get(key string) (safebrowse.ThreatListEntry, bool, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return safebrowse.ThreatListEntry{}, false, false
	}
	if e, ok := v.(safebrowse.ThreatListEntry); ok {
		return e, true, true
	}
	return safebrowse.ThreatListEntry{}, false, true
}

func (m *Memo) Set(key string, e safebrowse.ThreatListEntry) {
	m.cache.SetWithTTL(key, e, 1, m.ttl)
}

func (m *Memo) SetNotListed(key string) {
	m.cache.SetWithTTL(key, notListed{}, 1, m.emptyTTL)
}

// Wait 等待缓冲中的写入生效
func (m *Memo) Wait() {
	m.cache.Wait()
}

func (m *Memo) Close() {
	m.cache.Close()
}
