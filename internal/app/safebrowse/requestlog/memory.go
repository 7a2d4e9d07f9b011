package requestlog

import (
	"context"
	"sync"
)

// MemorySink 进程内保存请求日志，STORE_BACKEND=memory 时使用
type MemorySink struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) InsertBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextID++
		e.ID = m.nextID
		m.entries = append(m.entries, e)
	}
	return nil
}

// List 按 id 倒序，beforeID > 0 时只返回 id < beforeID 的记录
func (m *MemorySink) List(_ context.Context, limit int, beforeID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if beforeID > 0 && e.ID >= beforeID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
