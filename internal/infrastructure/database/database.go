package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
	connMaxLifetime = time.Hour

	// walReaders sizes the pool in WAL mode, where readers never block the
	// single writer.
	walReaders = 4
)

// DB is the hub's SQLite store: playlist catalog and command journal.
// Statements issued through it join the pipeline transaction carried by
// the context, if any.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of the config file.
type Config struct {
	// Path of the SQLite file; its directory is created on open.
	// ":memory:" opens a private in-memory database.
	Path string

	WALMode bool

	// BusyTimeout in seconds.
	BusyTimeout int
}

// Open opens and pings the database. An in-memory database is pinned to a
// single connection because each connection would otherwise see its own
// empty database.
func Open(cfg Config) (*DB, error) {
	memory := cfg.Path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg, memory))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conns := 1
	if cfg.WALMode && !memory {
		conns = walReaders
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging %s: %w", cfg.Path, err)
	}

	if !memory {
		_ = os.Chmod(cfg.Path, filePermissions)
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always on;
// playlist tracks cascade with their playlist. Transactions take the write
// lock at BEGIN, so two writers wait on busy_timeout instead of failing a
// lock upgrade.
func dsn(cfg Config, memory bool) string {
	v := url.Values{}
	v.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	v.Set("_foreign_keys", "on")
	v.Set("_txlock", "immediate")
	if cfg.WALMode && !memory {
		v.Set("_journal_mode", "WAL")
		v.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + v.Encode()
}

// Close is safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (db *DB) Path() string { return db.path }

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// ExecContext, QueryContext and QueryRowContext run on the scope or
// transaction carried by ctx, falling back to the pool.

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return rows, nil
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.Conn(ctx).QueryRowContext(ctx, query, args...)
}

// BeginTx always starts a fresh transaction on the pool, ignoring any
// transaction in ctx.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
