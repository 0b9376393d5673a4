package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradecore/internal/config"
)

// Store 持有交易记录、风控状态与监控事件共用的 SQLite 连接池。
type Store struct {
	db *sql.DB
}

// NewSQLite 打开 cfg.Path 处的数据库，InMemory 时使用单连接内存库。
// 文件库启用 WAL 与 NORMAL 同步级别，每个连接通过 DSN 参数生效。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")

	path := ":memory:"
	if !cfg.InMemory {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: 创建目录 %q 失败: %w", dir, err)
			}
		}
		path = cfg.Path
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}

	db, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("store: 打开 SQLite 数据库失败: %w", err)
	}
	if cfg.InMemory {
		// 每个连接各自持有一份内存库。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: 连接 SQLite 失败: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate 见包级 Migrate。
func (s *Store) Migrate(ctx context.Context, name string, stmts ...string) error {
	return Migrate(ctx, s.db, name, stmts...)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate 在单个事务中执行 stmts，并以 name 记录到 schema_migrations；
// 已记录的 name 不再执行。
func Migrate(ctx context.Context, db *sql.DB, name string, stmts ...string) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: 初始化迁移表失败: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启迁移事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var applied int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
		return fmt.Errorf("store: 查询迁移 %s 失败: %w", name, err)
	}
	if applied > 0 {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: 执行迁移 %s 失败: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("store: 记录迁移 %s 失败: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: 提交迁移 %s 失败: %w", name, err)
	}
	return nil
}
