package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"safebrowse.local/internal/app/safebrowse"
)

// ThreatsRepo 读写 phishing 表（本地威胁列表）
type ThreatsRepo struct {
	db *pgxpool.Pool
}

func NewThreatsRepo(db *pgxpool.Pool) *ThreatsRepo {
	return &ThreatsRepo{db: db}
}

func (r *ThreatsRepo) Match(ctx context.Context, keys []string) (map[string]safebrowse.ThreatListEntry, error) {
	out := make(map[string]safebrowse.ThreatListEntry)
	if len(keys) == 0 {
		return out, nil
	}
	hashes := make([]string, 0, len(keys))
	byHash := make(map[string]string, len(keys))
	for _, k := range keys {
		h := safebrowse.HashKey(k)
		hashes = append(hashes, h)
		byHash[h] = k
	}

	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx, `
		SELECT id, url_hash, url, source, added_at
		FROM phishing
		WHERE url_hash = ANY($1)
		ORDER BY id`,
		hashes,
	)
	if err != nil {
		return nil, fmt.Errorf("query phishing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e safebrowse.ThreatListEntry
		if err := rows.Scan(&e.ID, &e.URLHash, &e.URL, &e.Source, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan phishing: %w", err)
		}
		if k, ok := byHash[e.URLHash]; ok {
			out[k] = e
		}
	}
	return out, rows.Err()
}

// Recent 返回 added_at 落在最新一条之前 window 内的 URL；同一 URL 取最后一次
func (r *ThreatsRepo) Recent(ctx context.Context, window time.Duration) (map[string]safebrowse.RecentEntry, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx, `
		SELECT url, MAX(added_at)
		FROM phishing
		WHERE added_at > (SELECT MAX(added_at) FROM phishing) - make_interval(secs => $1)
		GROUP BY url`,
		window.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("query recent phishing: %w", err)
	}
	defer rows.Close()

	out := make(map[string]safebrowse.RecentEntry)
	for rows.Next() {
		var url string
		var e safebrowse.RecentEntry
		if err := rows.Scan(&url, &e.LastReport); err != nil {
			return nil, fmt.Errorf("scan recent phishing: %w", err)
		}
		out[url] = e
	}
	return out, rows.Err()
}

// LoadAfter 按 id 顺序回调 id > afterID 的条目，返回见到的最大 id。
// 用自增 id 而不是 added_at 做游标：导入方可以写任意 added_at。
func (r *ThreatsRepo) LoadAfter(ctx context.Context, afterID int64, fn func(safebrowse.ThreatListEntry)) (int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, url_hash, url, source, added_at
		FROM phishing
		WHERE id > $1
		ORDER BY id`,
		afterID,
	)
	if err != nil {
		return afterID, fmt.Errorf("query phishing after: %w", err)
	}
	defer rows.Close()

	latest := afterID
	for rows.Next() {
		var e safebrowse.ThreatListEntry
		if err := rows.Scan(&e.ID, &e.URLHash, &e.URL, &e.Source, &e.AddedAt); err != nil {
			return afterID, fmt.Errorf("scan phishing: %w", err)
		}
		fn(e)
		latest = max(latest, e.ID)
	}
	return latest, rows.Err()
}

// Ingest 导入一批外部 feed 条目，并在 phishing_log 里记一笔。
// 每个 URL 只登记完整的规范形式，不登记 host 形式，同一批里重复的只记一次。
func (r *ThreatsRepo) Ingest(ctx context.Context, source string, urls []string, at time.Time) (int, error) {
	keys := ingestKeys(urls)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(context.Background()) //提交后 rollback 无效，可忽略

	if len(keys) > 0 {
		rows := make([][]any, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []any{safebrowse.HashKey(k), k, source, at})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"phishing"},
			[]string{"url_hash", "url", "source", "added_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return 0, fmt.Errorf("copy phishing: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO phishing_log (source, fetched_at, entry_count) VALUES ($1, $2, $3)`,
		source, at, len(keys),
	); err != nil {
		return 0, fmt.Errorf("insert phishing_log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(keys), nil
}

func ingestKeys(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		k := safebrowse.Normalize(u)[0]
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
