package safebrowse_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/app/safebrowse/memstore"
)

func newFeeds(t *testing.T) *safebrowse.Feeds {
	t.Helper()
	ctx := context.Background()
	verdicts := memstore.NewVerdicts()
	for i := 0; i < 3; i++ {
		at := t0.Add(-time.Duration(i) * time.Minute)
		_ = verdicts.InsertBatch(ctx, []safebrowse.VerdictRecord{
			safebrowse.NewUnsafeRecord("http://phish.com", "MALWARE", at),
			safebrowse.NewSafeRecord("http://busy.com", at),
		})
	}
	_ = verdicts.InsertBatch(ctx, []safebrowse.VerdictRecord{safebrowse.NewSafeRecord("http://quiet.com", t0)})

	threats := memstore.NewThreats(
		safebrowse.ThreatListEntry{URL: "http://old.example", Source: "feed", AddedAt: t0.Add(-time.Hour)},
		safebrowse.ThreatListEntry{URL: "http://new.example", Source: "feed", AddedAt: t0.Add(-2 * time.Minute)},
		safebrowse.ThreatListEntry{URL: "http://new.example", Source: "feed", AddedAt: t0},
	)

	cfg := safebrowse.DefaultFeedConfig()
	cfg.HotMinCount = 2
	return safebrowse.NewFeeds(verdicts, threats, cfg).WithClock(func() time.Time { return t0 })
}

func TestFeeds_Hot(t *testing.T) {
	hot, err := newFeeds(t).Hot(context.Background())
	if err != nil {
		t.Fatalf("Hot: %v", err)
	}
	if len(hot) != 2 || hot["http://phish.com"].Count != 3 || hot["http://busy.com"].Count != 3 {
		t.Fatalf("hot: %+v", hot)
	}
	if !hot["http://phish.com"].LastReport.Equal(t0.Add(safebrowse.UnsafeTTL)) {
		t.Fatalf("last_report: %v", hot["http://phish.com"].LastReport)
	}
}

func TestFeeds_RecentKeepsLatest(t *testing.T) {
	recent, err := newFeeds(t).Recent(context.Background())
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || !recent["http://new.example"].LastReport.Equal(t0) {
		t.Fatalf("recent: %+v", recent)
	}
}

func TestFeeds_Provider(t *testing.T) {
	f := newFeeds(t)
	ctx := context.Background()

	all, err := f.Provider(ctx, "all")
	if err != nil {
		t.Fatalf("Provider(all): %v", err)
	}
	m, ok := all.(map[string]any)
	if !ok || m["hot"] == nil || m["recent"] == nil {
		t.Fatalf("all: %#v", all)
	}

	alias, err := f.Provider(ctx, "phishtank")
	if err != nil {
		t.Fatalf("Provider(phishtank): %v", err)
	}
	if _, ok := alias.(map[string]safebrowse.RecentEntry); !ok {
		t.Fatalf("phishtank should alias recent, got %T", alias)
	}

	_, err = f.Provider(ctx, "nope")
	if !errors.Is(err, safebrowse.ErrUnknownProvider) {
		t.Fatalf("want ErrUnknownProvider, got %v", err)
	}
}

func TestFeeds_EmptySourcesReturnEmptyMaps(t *testing.T) {
	f := safebrowse.NewFeeds(memstore.NewVerdicts(), memstore.NewThreats(), safebrowse.DefaultFeedConfig())

	hot, err := f.Hot(context.Background())
	if err != nil || hot == nil || len(hot) != 0 {
		t.Fatalf("hot: %v %v", hot, err)
	}
	recent, err := f.Recent(context.Background())
	if err != nil || recent == nil || len(recent) != 0 {
		t.Fatalf("recent: %v %v", recent, err)
	}
}
