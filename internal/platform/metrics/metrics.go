package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// once 用来保证指标只注册一次。
	// Prometheus 的 registry 不允许重复注册同名指标，否则会直接 panic。
	once sync.Once

	// HTTPRequestsTotal：累计请求数，route 用路由模板避免高基数
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP请求的总数",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds：请求耗时分布，用来算 P95/P99
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// VerdictLookups：每个 key 的结论来源
	// - source: cache / threatlist / upstream
	// - verdict: safe / unsafe
	VerdictLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safebrowse_verdicts_total",
			Help: "Per-key verdicts by source.",
		},
		[]string{"source", "verdict"},
	)

	// UpstreamRequests：调用信誉服务的次数，outcome: ok / http_error / transport_error / decode_error
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safebrowse_upstream_requests_total",
			Help: "Requests sent to the reputation authority.",
		},
		[]string{"outcome"},
	)

	UpstreamDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safebrowse_upstream_request_duration_seconds",
			Help:    "Latency of reputation authority requests.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QuotaDecisions：限流结果，decision: allowed / rejected / error
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safebrowse_quota_decisions_total",
			Help: "Quota decisions per operation.",
		},
		[]string{"operation", "decision"},
	)

	// CacheOperations：本地威胁列表缓存命中情况
	// - cache: bloom / memo
	// - result: hit / hit_negative / miss / negative（bloom 判定一定不存在）
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safebrowse_cache_operations_total",
			Help: "Threat list cache lookups.",
		},
		[]string{"cache", "result"},
	)

	// RequestLogDropped：collector 队列满或已关闭时丢弃的事件
	RequestLogDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "safebrowse_request_log_dropped_total",
			Help: "Request log events dropped before reaching storage.",
		},
	)

	// ReaperDeleted：后台清理删除的行数，table: verdict_cache / quotas
	ReaperDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safebrowse_reaper_deleted_total",
			Help: "Rows removed by the expiry reaper.",
		},
		[]string{"table"},
	)
)

// Init 注册指标：只允许注册一次（否则 panic: duplicate metrics collector registration）
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			VerdictLookups,
			UpstreamRequests,
			UpstreamDurationSeconds,
			QuotaDecisions,
			CacheOperations,
			RequestLogDropped,
			ReaperDeleted,
		)
	})
}
