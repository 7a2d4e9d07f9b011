package safebrowse

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"safebrowse.local/internal/platform/metrics"
)

// ThreatList answers which keys are on the locally ingested phishing list.
type ThreatList interface {
	Match(ctx context.Context, keys []string) (map[string]ThreatListEntry, error)
}

// VerdictCache is the TTL verdict store.
//
// LookupLive returns, per key, the records with expires_at > now in insertion
// order; keys without live records are absent. InsertBatch de-duplicates by
// URL keeping the first occurrence and is a no-op for an empty batch.
type VerdictCache interface {
	LookupLive(ctx context.Context, keys []string, now time.Time) (map[string][]VerdictRecord, error)
	InsertBatch(ctx context.Context, records []VerdictRecord) error
}

// Gateway resolves keys against the upstream reputation authority. Every
// queried key comes back as exactly one safe record or one or more unsafe
// records.
type Gateway interface {
	Query(ctx context.Context, keys []string, now time.Time) ([]VerdictRecord, error)
}

type Match struct {
	URL        string `json:"url"`
	ThreatType string `json:"threatType"`
}

// Report is the merged answer for one batch lookup.
type Report struct {
	Success          bool     `json:"success"`
	Length           int      `json:"length"`
	URLsStandardized []string `json:"urls_standardized"`
	Matches          []Match  `json:"matches"`
	Cached           bool     `json:"cached"`
}

type Service struct {
	threats ThreatList
	cache   VerdictCache
	gateway Gateway
	now     func() time.Time
}

func NewService(threats ThreatList, cache VerdictCache, gateway Gateway) *Service {
	return &Service{
		threats: threats,
		cache:   cache,
		gateway: gateway,
		now:     time.Now,
	}
}

// WithClock replaces the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type keyVerdict struct {
	unsafe     bool
	threatType string
}

// Lookup runs the batch pipeline: normalize, consult the threat list and the
// live cache, resolve misses upstream, merge, persist upstream results.
//
// Every failure comes back as *Error; panics inside the pipeline are turned
// into an internal error carrying the stack.
func (s *Service) Lookup(ctx context.Context, urls []string) (report Report, err error) {
	ctx, span := otel.Tracer("safebrowse").Start(ctx, "safebrowse.Lookup")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("safebrowse lookup panic", "panic", r)
			err = Internal(fmt.Errorf("panic: %v", r), string(debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if len(urls) == 0 {
		return Report{}, Validation("Invalid request format. Empty list of urls", nil)
	}

	keys, _ := NormalizeAll(urls)
	span.SetAttributes(attribute.Int("safebrowse.urls", len(urls)), attribute.Int("safebrowse.keys", len(keys)))
	now := s.now()

	threats, err := s.threats.Match(ctx, keys)
	if err != nil {
		return Report{}, Internal(fmt.Errorf("threat list lookup: %w", err), string(debug.Stack()))
	}
	live, err := s.cache.LookupLive(ctx, keys, now)
	if err != nil {
		return Report{}, Internal(fmt.Errorf("verdict cache lookup: %w", err), string(debug.Stack()))
	}

	verdicts := make(map[string]keyVerdict, len(keys))
	var misses []string
	cached := false
	for _, key := range keys {
		_, listed := threats[key]
		if recs, ok := live[key]; ok && len(recs) > 0 {
			cached = true
			safe, threatType := MergeVerdict(recs)
			verdicts[key] = keyVerdict{unsafe: !safe, threatType: threatType}
			metrics.VerdictLookups.WithLabelValues("cache", verdictLabel(safe)).Inc()
		} else if !listed {
			misses = append(misses, key)
		}
		if listed {
			// 本地威胁列表优先，覆盖缓存里的 safe 结论
			verdicts[key] = keyVerdict{unsafe: true, threatType: LocalThreatType}
			metrics.VerdictLookups.WithLabelValues("threatlist", "unsafe").Inc()
		}
	}
	span.SetAttributes(attribute.Int("safebrowse.misses", len(misses)), attribute.Bool("safebrowse.cached", cached))

	var learned []VerdictRecord
	if len(misses) > 0 {
		records, err := s.gateway.Query(ctx, misses, now)
		if err != nil {
			return Report{}, AsError(err)
		}
		learned = DedupeByURL(records)
		for _, r := range learned {
			verdicts[r.URL] = mergeUpstream(verdicts[r.URL], r)
			metrics.VerdictLookups.WithLabelValues("upstream", verdictLabel(r.Safe)).Inc()
		}
	}

	if err := s.cache.InsertBatch(ctx, learned); err != nil {
		return Report{}, Internal(fmt.Errorf("persist verdicts: %w", err), string(debug.Stack()))
	}

	report = Report{
		Success:          true,
		URLsStandardized: keys,
		Matches:          []Match{},
		Cached:           cached,
	}
	for _, key := range keys {
		v := verdicts[key]
		if !v.unsafe {
			continue
		}
		report.Matches = append(report.Matches, Match{URL: key, ThreatType: v.threatType})
	}
	report.Length = len(report.Matches)
	return report, nil
}

func mergeUpstream(cur keyVerdict, r VerdictRecord) keyVerdict {
	if r.Safe || cur.unsafe {
		return cur
	}
	return keyVerdict{unsafe: true, threatType: r.ThreatType}
}

func verdictLabel(safe bool) string {
	if safe {
		return "safe"
	}
	return "unsafe"
}
