package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"safebrowse.local/internal/app/safebrowse/requestlog"
)

type RequestLogRepo struct {
	db *pgxpool.Pool
}

func NewRequestLogRepo(db *pgxpool.Pool) *RequestLogRepo {
	return &RequestLogRepo{db: db}
}

func (r *RequestLogRepo) InsertBatch(ctx context.Context, entries []requestlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"request_log"},
		[]string{"request_id", "method", "path", "route", "client_id", "status", "latency_ms", "occurred_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.RequestID, e.Method, e.Path, e.Route, e.ClientID, e.Status, e.LatencyMS, e.OccurredAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy request_log: %w", err)
	}
	return nil
}

// List 按 id 倒序翻页；beforeID <= 0 表示从最新开始
func (r *RequestLogRepo) List(ctx context.Context, limit int, beforeID int64) ([]requestlog.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, method, path, route, client_id, status, latency_ms, occurred_at
		FROM request_log
		WHERE $1::bigint <= 0 OR id < $1::bigint
		ORDER BY id DESC
		LIMIT $2`,
		beforeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query request_log: %w", err)
	}
	defer rows.Close()

	out := make([]requestlog.Entry, 0, limit)
	for rows.Next() {
		var e requestlog.Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &e.Path, &e.Route, &e.ClientID, &e.Status, &e.LatencyMS, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan request_log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
