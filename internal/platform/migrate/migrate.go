package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 多实例同时启动时用同一把 advisory lock 串行执行迁移
const advisoryLockID = 0x5afeb0

type Options struct {
	// FS 优先；为空时从 Dir（或 ./migrations、可执行文件旁的 migrations）读取
	FS  fs.FS
	Dir string
}

type Result struct {
	Source       string
	AppliedFiles []string
	SkippedFiles []string
}

func Up(ctx context.Context, db *pgxpool.Pool, opts Options) (*Result, error) {
	fsys, source, err := resolveSource(opts)
	if err != nil {
		return nil, err
	}

	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return nil, fmt.Errorf("migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockID)

	if err := ensureTable(ctx, conn.Conn()); err != nil {
		return nil, err
	}

	entries, err := listSQLFiles(fsys)
	if err != nil {
		return nil, err
	}

	res := &Result{Source: source}
	for _, name := range entries {
		applied, err := isApplied(ctx, conn.Conn(), path.Base(name))
		if err != nil {
			return nil, err
		}
		if applied {
			res.SkippedFiles = append(res.SkippedFiles, path.Base(name))
			continue
		}
		if err := applyFile(ctx, conn.Conn(), fsys, name); err != nil {
			return nil, err
		}
		res.AppliedFiles = append(res.AppliedFiles, path.Base(name))
	}

	return res, nil
}

func ensureTable(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

// listSQLFiles 按文件名排序，保证 0001_ 先于 0002_
func listSQLFiles(fsys fs.FS) ([]string, error) {
	entries := make([]string, 0, 16)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return path.Base(entries[i]) < path.Base(entries[j]) })
	return entries, nil
}

func isApplied(ctx context.Context, conn *pgx.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func applyFile(ctx context.Context, conn *pgx.Conn, fsys fs.FS, name string) error {
	sqlBytes, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	version := path.Base(name)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1,$2)`, version, time.Now()); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}

	return tx.Commit(ctx)
}

func resolveSource(opts Options) (fs.FS, string, error) {
	if opts.FS != nil {
		return opts.FS, "embedded", nil
	}
	if strings.TrimSpace(opts.Dir) != "" {
		dir := filepath.Clean(opts.Dir)
		return os.DirFS(dir), dir, nil
	}

	// prefer CWD/migrations
	if dir, err := filepath.Abs("migrations"); err == nil {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir), dir, nil
		}
	}

	// fallback to executable dir/migrations
	exe, err := os.Executable()
	if err != nil {
		return nil, "", fmt.Errorf("resolve migrations dir: %w", err)
	}
	dir := filepath.Join(filepath.Dir(exe), "migrations")
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, "", fmt.Errorf("migrations dir not found (tried %s)", dir)
	}
	return os.DirFS(dir), dir, nil
}
