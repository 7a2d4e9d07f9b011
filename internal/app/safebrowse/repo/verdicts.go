package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"safebrowse.local/internal/app/safebrowse"
	"safebrowse.local/internal/platform/db"
)

// VerdictsRepo 是 verdict_cache 表上的 TTL 缓存。
// 读写都经过 db.Store，所以同一进程里不会有两个事务交错。
type VerdictsRepo struct {
	store *db.Store
}

func NewVerdictsRepo(store *db.Store) *VerdictsRepo {
	return &VerdictsRepo{store: store}
}

func (r *VerdictsRepo) LookupLive(ctx context.Context, keys []string, now time.Time) (map[string][]safebrowse.VerdictRecord, error) {
	out := make(map[string][]safebrowse.VerdictRecord)
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

	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT url_hash, url, expires_at, safe, COALESCE(threat_type, '')
			FROM verdict_cache
			WHERE url_hash = ANY($1) AND expires_at > $2
			ORDER BY id`,
			hashes, now,
		)
		if err != nil {
			return fmt.Errorf("query live verdicts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec safebrowse.VerdictRecord
			if err := rows.Scan(&rec.URLHash, &rec.URL, &rec.ExpiresAt, &rec.Safe, &rec.ThreatType); err != nil {
				return fmt.Errorf("scan verdict: %w", err)
			}
			key, ok := byHash[rec.URLHash]
			if !ok {
				continue
			}
			out[key] = append(out[key], rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertBatch 写入上游结论，同一 URL 只保留第一条；(url_hash, expires_at) 冲突时跳过
func (r *VerdictsRepo) InsertBatch(ctx context.Context, records []safebrowse.VerdictRecord) error {
	records = safebrowse.DedupeByURL(records)
	if len(records) == 0 {
		return nil
	}

	return r.store.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			var threatType *string
			if rec.ThreatType != "" {
				threatType = &rec.ThreatType
			}
			batch.Queue(`
				INSERT INTO verdict_cache (url_hash, url, expires_at, safe, threat_type)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (url_hash, expires_at) DO NOTHING`,
				rec.URLHash, rec.URL, rec.ExpiresAt, rec.Safe, threatType,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert verdict: %w", err)
			}
		}
		return br.Close()
	})
}

// DeleteExpired 删除 expires_at < before 的记录，返回删除行数
func (r *VerdictsRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM verdict_cache WHERE expires_at < $1`, before)
		if err != nil {
			return fmt.Errorf("delete expired verdicts: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// Hot 统计 since 之后仍被缓存过的 URL：
// 查询次数超过 minCount，或者从来没被判为 safe 的，按次数倒序取前 limit 个
func (r *VerdictsRepo) Hot(ctx context.Context, since time.Time, minCount, limit int) (map[string]safebrowse.HotEntry, error) {
	out := make(map[string]safebrowse.HotEntry)
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT url, COUNT(*) AS n, MAX(expires_at)
			FROM verdict_cache
			WHERE expires_at > $1
			GROUP BY url
			HAVING COUNT(*) > $2 OR SUM(CASE WHEN safe THEN 1 ELSE 0 END) = 0
			ORDER BY n DESC, url ASC
			LIMIT $3`,
			since, minCount, limit,
		)
		if err != nil {
			return fmt.Errorf("query hot: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var url string
			var e safebrowse.HotEntry
			if err := rows.Scan(&url, &e.Count, &e.LastReport); err != nil {
				return fmt.Errorf("scan hot: %w", err)
			}
			out[url] = e
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
