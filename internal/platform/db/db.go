package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New 建连接池并 Ping 一次，连不上直接返回错误
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// ErrStoreBusy 等锁时 ctx 先结束
var ErrStoreBusy = errors.New("db: store busy")

// Store 把缓存/配额的读写串行化：同一时刻只有一个事务持有连接。
// 调用方通过 WithTx 拿到作用域内的 tx，返回 nil 提交，返回 error 或 panic 回滚。
type Store struct {
	pool *pgxpool.Pool
	sem  chan struct{}
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, sem: make(chan struct{}, 1)}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStoreBusy, ctx.Err())
	}
	defer func() { <-s.sem }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(tx)
			slog.Error("db tx panic, rolled back", "panic", p)
			panic(p)
		}
		if err != nil {
			rollback(tx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	return fn(tx)
}

func rollback(tx pgx.Tx) {
	// 用独立 ctx：原 ctx 可能已取消，回滚仍要发出去
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Warn("db rollback failed", "err", err)
	}
}
