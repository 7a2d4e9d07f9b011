package ratelimit

import (
	"context"
	"sync"
	"time"
)

type quotaKey struct {
	clientID  string
	operation string
}

// MemoryStore 单进程内的配额表，QUOTA_BACKEND=memory 和测试使用
type MemoryStore struct {
	mu     sync.Mutex
	quotas map[quotaKey]Quota
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotas: make(map[quotaKey]Quota)}
}

func (s *MemoryStore) Take(_ context.Context, clientID, operation string, max int, window time.Duration, now time.Time) (Decision, error) {
	k := quotaKey{clientID: clientID, operation: operation}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, found := s.quotas[k]
	if !found {
		q = Quota{ClientID: clientID, Operation: operation}
	}
	q, d := Step(q, found, now, max, window)
	s.quotas[k] = q
	return d, nil
}

// DeleteLapsed 删掉窗口已结束的记录，返回删除条数
func (s *MemoryStore) DeleteLapsed(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, q := range s.quotas {
		if !q.WindowExpiresAt.After(before) {
			delete(s.quotas, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotas)
}
