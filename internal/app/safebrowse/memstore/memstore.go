// Package memstore 是 verdict 缓存和威胁列表的进程内实现，
// 用于 STORE_BACKEND=memory 和测试。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"safebrowse.local/internal/app/safebrowse"
)

type verdictKey struct {
	hash    string
	expires int64
}

type Verdicts struct {
	mu   sync.Mutex
	rows []safebrowse.VerdictRecord
	seen map[verdictKey]struct{}
}

func NewVerdicts() *Verdicts {
	return &Verdicts{seen: make(map[verdictKey]struct{})}
}

func (v *Verdicts) LookupLive(_ context.Context, keys []string, now time.Time) (map[string][]safebrowse.VerdictRecord, error) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string][]safebrowse.VerdictRecord)
	for _, r := range v.rows {
		if _, ok := want[r.URL]; !ok || !r.Live(now) {
			continue
		}
		out[r.URL] = append(out[r.URL], r)
	}
	return out, nil
}

// InsertBatch 和数据库实现一致：同一批按 URL 去重保留第一条，
// (url_hash, expires_at) 已存在的行直接跳过
func (v *Verdicts) InsertBatch(_ context.Context, records []safebrowse.VerdictRecord) error {
	records = safebrowse.DedupeByURL(records)
	if len(records) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, r := range records {
		k := verdictKey{hash: r.URLHash, expires: r.ExpiresAt.UnixNano()}
		if _, ok := v.seen[k]; ok {
			continue
		}
		v.seen[k] = struct{}{}
		v.rows = append(v.rows, r)
	}
	return nil
}

func (v *Verdicts) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.rows[:0]
	var n int64
	for _, r := range v.rows {
		if r.ExpiresAt.Before(before) {
			delete(v.seen, verdictKey{hash: r.URLHash, expires: r.ExpiresAt.UnixNano()})
			n++
			continue
		}
		kept = append(kept, r)
	}
	v.rows = kept
	return n, nil
}

func (v *Verdicts) Hot(_ context.Context, since time.Time, minCount, limit int) (map[string]safebrowse.HotEntry, error) {
	type agg struct {
		url   string
		count int64
		safe  int64
		last  time.Time
	}

	v.mu.Lock()
	byURL := make(map[string]*agg)
	for _, r := range v.rows {
		if !r.ExpiresAt.After(since) {
			continue
		}
		a, ok := byURL[r.URL]
		if !ok {
			a = &agg{url: r.URL}
			byURL[r.URL] = a
		}
		a.count++
		if r.Safe {
			a.safe++
		}
		if r.ExpiresAt.After(a.last) {
			a.last = r.ExpiresAt
		}
	}
	v.mu.Unlock()

	list := make([]*agg, 0, len(byURL))
	for _, a := range byURL {
		if a.count > int64(minCount) || a.safe == 0 {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].url < list[j].url
	})
	if len(list) > limit {
		list = list[:limit]
	}

	out := make(map[string]safebrowse.HotEntry, len(list))
	for _, a := range list {
		out[a.url] = safebrowse.HotEntry{Count: a.count, LastReport: a.last}
	}
	return out, nil
}

// All 返回全部记录的拷贝，按插入顺序
func (v *Verdicts) All() []safebrowse.VerdictRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]safebrowse.VerdictRecord(nil), v.rows...)
}

type Threats struct {
	mu      sync.RWMutex
	entries []safebrowse.ThreatListEntry
	lastID  int64
}

func NewThreats(entries ...safebrowse.ThreatListEntry) *Threats {
	t := &Threats{}
	t.Add(entries...)
	return t
}

// Add 追加条目；URLHash 为空时按 URL 计算，ID 为空时按追加顺序分配
func (t *Threats) Add(entries ...safebrowse.ThreatListEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if e.URLHash == "" {
			e.URLHash = safebrowse.HashKey(e.URL)
		}
		if e.ID == 0 {
			t.lastID++
			e.ID = t.lastID
		}
		t.lastID = max(t.lastID, e.ID)
		t.entries = append(t.entries, e)
	}
}

func (t *Threats) Match(_ context.Context, keys []string) (map[string]safebrowse.ThreatListEntry, error) {
	byHash := make(map[string]string, len(keys))
	for _, k := range keys {
		byHash[safebrowse.HashKey(k)] = k
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]safebrowse.ThreatListEntry)
	for _, e := range t.entries {
		if k, ok := byHash[e.URLHash]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (t *Threats) Recent(_ context.Context, window time.Duration) (map[string]safebrowse.RecentEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]safebrowse.RecentEntry)
	if len(t.entries) == 0 {
		return out, nil
	}
	var newest time.Time
	for _, e := range t.entries {
		if e.AddedAt.After(newest) {
			newest = e.AddedAt
		}
	}
	cutoff := newest.Add(-window)
	for _, e := range t.entries {
		if !e.AddedAt.After(cutoff) {
			continue
		}
		if cur, ok := out[e.URL]; !ok || e.AddedAt.After(cur.LastReport) {
			out[e.URL] = safebrowse.RecentEntry{LastReport: e.AddedAt}
		}
	}
	return out, nil
}

// LoadAfter 依次回调 id > afterID 的条目，返回见到的最大 id
func (t *Threats) LoadAfter(_ context.Context, afterID int64, fn func(safebrowse.ThreatListEntry)) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	latest := afterID
	for _, e := range t.entries {
		if e.ID <= afterID {
			continue
		}
		fn(e)
		latest = max(latest, e.ID)
	}
	return latest, nil
}
