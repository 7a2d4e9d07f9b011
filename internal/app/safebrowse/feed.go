package safebrowse

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// HotEntry 是被频繁查询或被判定为不安全的 URL
type HotEntry struct {
	Count      int64     `json:"count"`
	LastReport time.Time `json:"last_report"`
}

// RecentEntry 是最近一批导入的威胁列表条目
type RecentEntry struct {
	LastReport time.Time `json:"last_report"`
}

// HotSource 统计 verdict 记录：expires_at > since，按 URL 分组，
// 满足 count > minCount 或没有任何 safe 记录，按 count 降序取前 limit 个
type HotSource interface {
	Hot(ctx context.Context, since time.Time, minCount, limit int) (map[string]HotEntry, error)
}

// RecentSource 返回最新一条威胁条目之前 window 内导入的条目，同一 URL 保留最新的
type RecentSource interface {
	Recent(ctx context.Context, window time.Duration) (map[string]RecentEntry, error)
}

type FeedConfig struct {
	HotWindow    time.Duration
	HotMinCount  int
	HotLimit     int
	RecentWindow time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		HotWindow:    24 * time.Hour,
		HotMinCount:  25,
		HotLimit:     5,
		RecentWindow: 5 * time.Minute,
	}
}

const (
	FeedHot    = "hot"
	FeedRecent = "recent"
	FeedAll    = "all"
)

// feedAliases 兼容旧的 provider 名
var feedAliases = map[string]string{
	"phishtank": FeedRecent,
}

type Feeds struct {
	hot    HotSource
	recent RecentSource
	cfg    FeedConfig
	now    func() time.Time
}

func NewFeeds(hot HotSource, recent RecentSource, cfg FeedConfig) *Feeds {
	return &Feeds{hot: hot, recent: recent, cfg: cfg, now: time.Now}
}

func (f *Feeds) WithClock(now func() time.Time) *Feeds {
	f.now = now
	return f
}

func Providers() []string {
	return []string{FeedHot, FeedRecent, FeedAll}
}

// Provider 返回指定 feed 的内容；all 返回以 provider 名为 key 的全部 feed
func (f *Feeds) Provider(ctx context.Context, name string) (any, error) {
	if alias, ok := feedAliases[name]; ok {
		name = alias
	}
	switch name {
	case FeedHot:
		return f.Hot(ctx)
	case FeedRecent:
		return f.Recent(ctx)
	case FeedAll:
		hot, err := f.Hot(ctx)
		if err != nil {
			return nil, err
		}
		recent, err := f.Recent(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{FeedHot: hot, FeedRecent: recent}, nil
	default:
		return nil, UnknownProvider(name, Providers())
	}
}

func (f *Feeds) Hot(ctx context.Context) (map[string]HotEntry, error) {
	since := f.now().Add(-f.cfg.HotWindow)
	out, err := f.hot.Hot(ctx, since, f.cfg.HotMinCount, f.cfg.HotLimit)
	if err != nil {
		return nil, Internal(fmt.Errorf("hot feed: %w", err), string(debug.Stack()))
	}
	if out == nil {
		out = map[string]HotEntry{}
	}
	return out, nil
}

func (f *Feeds) Recent(ctx context.Context) (map[string]RecentEntry, error) {
	out, err := f.recent.Recent(ctx, f.cfg.RecentWindow)
	if err != nil {
		return nil, Internal(fmt.Errorf("recent feed: %w", err), string(debug.Stack()))
	}
	if out == nil {
		out = map[string]RecentEntry{}
	}
	return out, nil
}
