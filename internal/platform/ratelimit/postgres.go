package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"safebrowse.local/internal/platform/db"
)

// PostgresStore 把配额放在 quotas 表里。
// 整个读改写在 db.Store 的事务里完成，并对行加 FOR UPDATE，
// 多实例部署时也不会超发。
type PostgresStore struct {
	store *db.Store
}

func NewPostgresStore(store *db.Store) *PostgresStore {
	return &PostgresStore{store: store}
}

func (s *PostgresStore) Take(ctx context.Context, clientID, operation string, max int, window time.Duration, now time.Time) (Decision, error) {
	var d Decision
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		// 先保证行存在（过期窗口），后面统一走 FOR UPDATE
		if _, err := tx.Exec(ctx, `
			INSERT INTO quotas (client_id, operation, window_expires_at, count, max)
			VALUES ($1, $2, to_timestamp(0), 0, $3)
			ON CONFLICT (client_id, operation) DO NOTHING`,
			clientID, operation, max,
		); err != nil {
			return fmt.Errorf("ensure quota row: %w", err)
		}

		q := Quota{ClientID: clientID, Operation: operation}
		if err := tx.QueryRow(ctx, `
			SELECT window_expires_at, count, max
			FROM quotas
			WHERE client_id = $1 AND operation = $2
			FOR UPDATE`,
			clientID, operation,
		).Scan(&q.WindowExpiresAt, &q.Count, &q.Max); err != nil {
			return fmt.Errorf("select quota: %w", err)
		}

		var next Quota
		next, d = Step(q, true, now, max, window)
		if !d.Allowed {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE quotas
			SET window_expires_at = $3, count = $4, max = $5
			WHERE client_id = $1 AND operation = $2`,
			clientID, operation, next.WindowExpiresAt, next.Count, next.Max,
		); err != nil {
			return fmt.Errorf("update quota: %w", err)
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (s *PostgresStore) DeleteLapsed(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM quotas WHERE window_expires_at <= $1`, before)
		if err != nil {
			return fmt.Errorf("delete lapsed quotas: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
