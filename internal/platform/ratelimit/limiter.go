package ratelimit

import (
	"context"
	"time"
)

// DefaultWindow 固定窗口长度
const DefaultWindow = 60 * time.Second

// Quota 是 (client, operation) 在当前窗口内的计数
type Quota struct {
	ClientID        string
	Operation       string
	WindowExpiresAt time.Time
	Count           int
	Max             int
}

// Decision 是一次检查的结果；被拒绝时 ResetAt 为当前窗口结束时间
type Decision struct {
	Allowed bool
	Count   int
	Max     int
	ResetAt time.Time
}

// RetryAfter 距窗口重置还有多久，向上取整到秒，最少 1 秒
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

// Step 是固定窗口状态机的一步，不做任何 I/O：
//   - 没有记录，或窗口已过期 (expires <= now)：重置为 count=1，放行
//   - 窗口内 count 已经 >= max：拒绝，记录不变
//   - 否则 count+1，放行
func Step(q Quota, found bool, now time.Time, max int, window time.Duration) (Quota, Decision) {
	if !found || !q.WindowExpiresAt.After(now) {
		q.WindowExpiresAt = now.Add(window)
		q.Count = 1
		q.Max = max
		return q, Decision{Allowed: true, Count: 1, Max: max, ResetAt: q.WindowExpiresAt}
	}
	q.Max = max
	if q.Count >= max {
		return q, Decision{Allowed: false, Count: q.Count, Max: max, ResetAt: q.WindowExpiresAt}
	}
	q.Count++
	return q, Decision{Allowed: true, Count: q.Count, Max: max, ResetAt: q.WindowExpiresAt}
}

// Store 原子地完成一次 check-and-increment。实现必须保证同一
// (clientID, operation) 上的并发调用不会一起越过 max。
type Store interface {
	Take(ctx context.Context, clientID, operation string, max int, window time.Duration, now time.Time) (Decision, error)
}

type Limiter struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, window: DefaultWindow, now: time.Now}
}

// WithWindow 覆盖窗口长度，测试里用短窗口
func (l *Limiter) WithWindow(window time.Duration) *Limiter {
	l.window = window
	return l
}

func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Now() time.Time {
	return l.now()
}

// Allow 检查并计数。max <= 0 表示不限流。
func (l *Limiter) Allow(ctx context.Context, clientID, operation string, max int) (Decision, error) {
	if max <= 0 {
		return Decision{Allowed: true}, nil
	}
	return l.store.Take(ctx, clientID, operation, max, l.window, l.now().UTC())
}
