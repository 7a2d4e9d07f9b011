package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"safebrowse.local/internal/app/safebrowse/cache"
	"safebrowse.local/internal/platform/metrics"
)

type ExpiredVerdicts interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type LapsedQuotas interface {
	DeleteLapsed(ctx context.Context, before time.Time) (int64, error)
}

// Options 里除 Verdicts 外都可以为空：Redis 配额靠 key 过期，不需要清理
type Options struct {
	Verdicts  ExpiredVerdicts
	Quotas    LapsedQuotas
	Filter    *cache.ThreatFilter
	Threats   cache.ThreatLoader
	Retention time.Duration
	Schedule  string
	Timeout   time.Duration
}

// Reaper 定时清理过期的 verdict 和配额行，并增量刷新威胁列表布隆过滤器
type Reaper struct {
	opts Options
	cron *cron.Cron
	now  func() time.Time
}

func New(opts Options) *Reaper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Reaper{
		opts: opts,
		cron: cron.New(cron.WithChain(cron.Recover(slogAdapter{}), cron.SkipIfStillRunning(slogAdapter{}))),
		now:  time.Now,
	}
}

func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Start 注册任务并启动调度；ctx 结束后新的任务不再执行
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.opts.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		if ctx.Err() != nil {
			return
		}
		if err := r.RunOnce(jobCtx); err != nil {
			slog.Error("reaper run failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.opts.Schedule, err)
	}
	r.cron.Start()
	slog.Info("reaper started", "schedule", r.opts.Schedule, "retention", r.opts.Retention)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce 执行一轮清理；各步骤互不影响，错误合并返回
func (r *Reaper) RunOnce(ctx context.Context) error {
	now := r.now()
	var errs []error

	if r.opts.Verdicts != nil {
		n, err := r.opts.Verdicts.DeleteExpired(ctx, now.Add(-r.opts.Retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("expired verdicts: %w", err))
		} else if n > 0 {
			metrics.ReaperDeleted.WithLabelValues("verdict_cache").Add(float64(n))
			slog.Info("reaper deleted expired verdicts", "count", n)
		}
	}

	if r.opts.Quotas != nil {
		n, err := r.opts.Quotas.DeleteLapsed(ctx, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("lapsed quotas: %w", err))
		} else if n > 0 {
			metrics.ReaperDeleted.WithLabelValues("quotas").Add(float64(n))
			slog.Debug("reaper deleted lapsed quotas", "count", n)
		}
	}

	if r.opts.Filter != nil && r.opts.Threats != nil {
		n, err := r.opts.Filter.Refresh(ctx, r.opts.Threats)
		if err != nil {
			errs = append(errs, fmt.Errorf("threat filter refresh: %w", err))
		} else if n > 0 {
			slog.Info("threat filter refreshed", "added", n, "approx_size", r.opts.Filter.Count())
		}
	}

	return errors.Join(errs...)
}

// slogAdapter 把 cron 的日志接到 slog
type slogAdapter struct{}

func (slogAdapter) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
