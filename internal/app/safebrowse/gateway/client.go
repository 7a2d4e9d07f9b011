package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/platform/metrics"
)

// 上游单次请求最多 500 个 threatEntries
const DefaultChunkSize = 500

type Config struct {
	APIKey        string
	Endpoint      string
	ClientID      string
	ClientVersion string
	ThreatTypes   []string
	PlatformTypes []string
	Timeout       time.Duration
	ChunkSize     int
	Concurrency   int
}

func DefaultThreatTypes() []string {
	return []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"}
}

// Client 查询上游 URL 信誉服务（Safe Browsing threatMatches:find）
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if len(cfg.ThreatTypes) == 0 {
		cfg.ThreatTypes = DefaultThreatTypes()
	}
	if len(cfg.PlatformTypes) == 0 {
		cfg.PlatformTypes = []string{"ANY_PLATFORM"}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type threatEntry struct {
	URL string `json:"url"`
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type findRequest struct {
	Client     clientInfo `json:"client"`
	ThreatInfo threatInfo `json:"threatInfo"`
}

type findResponse struct {
	Matches []struct {
		ThreatType string      `json:"threatType"`
		Threat     threatEntry `json:"threat"`
	} `json:"matches"`
}

type match struct {
	url        string
	threatType string
}

// Query 把 keys 分块并发查询，结果里匹配到的 key 先给出 unsafe 记录，
// 其余每个 key 一条 safe 记录。keys 为空时不发请求。
func (c *Client) Query(ctx context.Context, keys []string, now time.Time) ([]safebrowse.VerdictRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	chunks := chunk(keys, c.cfg.ChunkSize)
	results := make([][]match, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, part := range chunks {
		g.Go(func() error {
			m, err := c.find(gctx, part)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	queried := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		queried[k] = struct{}{}
	}

	var records []safebrowse.VerdictRecord
	flagged := make(map[string]struct{})
	for _, ms := range results {
		for _, m := range ms {
			if _, ok := queried[m.url]; !ok {
				slog.Warn("upstream returned a match for an unqueried url", "url", m.url)
				continue
			}
			records = append(records, safebrowse.NewUnsafeRecord(m.url, m.threatType, now))
			flagged[m.url] = struct{}{}
		}
	}
	for _, k := range keys {
		if _, ok := flagged[k]; ok {
			continue
		}
		records = append(records, safebrowse.NewSafeRecord(k, now))
	}
	return records, nil
}

func (c *Client) find(ctx context.Context, keys []string) ([]match, error) {
	body := findRequest{
		Client: clientInfo{ClientID: c.cfg.ClientID, ClientVersion: c.cfg.ClientVersion},
		ThreatInfo: threatInfo{
			ThreatTypes:      c.cfg.ThreatTypes,
			PlatformTypes:    c.cfg.PlatformTypes,
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    make([]threatEntry, 0, len(keys)),
		},
	}
	for _, k := range keys {
		body.ThreatInfo.ThreatEntries = append(body.ThreatInfo.ThreatEntries, threatEntry{URL: k})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, safebrowse.Internal(fmt.Errorf("encode upstream request: %w", err), "")
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, safebrowse.Internal(err, "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, safebrowse.Internal(fmt.Errorf("build upstream request: %w", err), "")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("transport_error").Inc()
		if isTimeout(err) {
			err = safebrowse.UpstreamTimeout(err)
		}
		return nil, safebrowse.Upstream(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("transport_error").Inc()
		return nil, safebrowse.Upstream(resp.StatusCode, "", fmt.Errorf("read upstream body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamRequests.WithLabelValues("http_error").Inc()
		slog.Warn("upstream non-success", "status", resp.StatusCode, "keys", len(keys))
		return nil, safebrowse.Upstream(resp.StatusCode, string(raw), fmt.Errorf("status %d", resp.StatusCode))
	}

	// 全部安全时上游返回 {}
	var out findResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			metrics.UpstreamRequests.WithLabelValues("decode_error").Inc()
			return nil, safebrowse.Upstream(resp.StatusCode, string(raw), fmt.Errorf("decode upstream body: %w", err))
		}
	}
	metrics.UpstreamRequests.WithLabelValues("ok").Inc()

	matches := make([]match, 0, len(out.Matches))
	for _, m := range out.Matches {
		matches = append(matches, match{url: m.Threat.URL, threatType: m.ThreatType})
	}
	return matches, nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse upstream endpoint: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func chunk(keys []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
