package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// Querier is the subset of *sql.DB and *sql.Tx that repositories use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying tx.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Conn returns the Querier for ctx: the pipeline scope or transaction it
// carries, or the pool.
//
// Repositories must go through Conn: with a single-connection pool a query
// issued on the pool while the same goroutine holds a transaction would
// wait for a connection that never frees.
func (db *DB) Conn(ctx context.Context) Querier {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok && s.db == db {
		return scopedConn{s}
	}
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db.DB
}

// Begin implements pipeline.TxProvider.
//
// The returned scope holds no connection until the first write through
// Conn, so a command that spends its time on playback control does not
// pin the pool. The write begins an IMMEDIATE transaction (see dsn) and
// later reads in the scope join it. Commit and Rollback of a scope that
// never wrote do nothing.
func (db *DB) Begin(ctx context.Context, opts pipeline.TxOptions) (context.Context, pipeline.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &scope{db: db, ctx: ctx, opts: &sql.TxOptions{Isolation: opts.Isolation}}
	return context.WithValue(ctx, scopeKey{}, s), s, nil
}

type scopeKey struct{}

// scope is a transaction begun on first write.
type scope struct {
	db   *DB
	ctx  context.Context
	opts *sql.TxOptions

	mu   sync.Mutex
	tx   *sql.Tx
	done bool
}

// begun reports whether a write has opened the transaction.
func (s *scope) begun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *scope) begin() (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, sql.ErrTxDone
	}
	if s.tx == nil {
		tx, err := s.db.BeginTx(s.ctx, s.opts)
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

// reader returns the open transaction, or the pool before the first write.
func (s *scope) reader() Querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db.DB
}

func (s *scope) finish(end func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return sql.ErrTxDone
	}
	s.done = true
	if s.tx == nil {
		return nil
	}
	return end(s.tx)
}

func (s *scope) Commit() error   { return s.finish((*sql.Tx).Commit) }
func (s *scope) Rollback() error { return s.finish((*sql.Tx).Rollback) }

type scopedConn struct{ s *scope }

func (c scopedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := c.s.begin()
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}

func (c scopedConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.s.reader().QueryContext(ctx, query, args...)
}

func (c scopedConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.s.reader().QueryRowContext(ctx, query, args...)
}
