// Package pipeline dispatches commands and queries through a fixed chain of
// cross-cutting stages.
//
// Command path:
//
//	validation -> tracing -> performance -> transaction -> handler
//
// Query path:
//
//	validation -> tracing -> performance -> caching -> handler
//
// Both paths end in error translation: Send and Ask never return a raw
// error or let a panic escape; the outcome is a Result carrying at most one
// *apperr.Error.
//
// Request kinds are declared by capability interfaces on each request type
// (Command, Mutating, Query, Cacheable) rather than inferred from names.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/cache"
)

// Default thresholds and timeouts.
const (
	DefaultSlowCommand   = 500 * time.Millisecond
	DefaultSlowQuery     = 200 * time.Millisecond
	DefaultTxTimeout     = time.Minute
	DefaultBulkTxTimeout = 5 * time.Minute
)

// tracerName is the instrumentation scope for pipeline spans.
const tracerName = "github.com/metaneutrons/snapdog2-sub010/internal/pipeline"

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Tx is an open transactional scope.
type Tx interface {
	Commit() error
	Rollback() error
}

// TxProvider opens transactional scopes. Begin returns a context carrying
// the scope so handlers can enlist in it.
type TxProvider interface {
	Begin(ctx context.Context, opts TxOptions) (context.Context, Tx, error)
}

// Config holds the tunables of a Pipeline.
type Config struct {
	SlowCommand   time.Duration
	SlowQuery     time.Duration
	TxTimeout     time.Duration
	BulkTxTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SlowCommand <= 0 {
		c.SlowCommand = DefaultSlowCommand
	}
	if c.SlowQuery <= 0 {
		c.SlowQuery = DefaultSlowQuery
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = DefaultTxTimeout
	}
	if c.BulkTxTimeout <= 0 {
		c.BulkTxTimeout = DefaultBulkTxTimeout
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsSink) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCache sets the query cache. Without one, Cacheable queries always
// reach their handler.
func WithCache(c cache.Store) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithTxProvider sets the transactional resource. Without one, mutating
// commands run without a scope.
func WithTxProvider(tp TxProvider) Option {
	return func(p *Pipeline) { p.tx = tp }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

type handlerFunc func(ctx context.Context, req Request) (any, error)

type kind string

const (
	kindCommand kind = "command"
	kindQuery   kind = "query"
)

// Pipeline dispatches requests to registered handlers.
// Handlers and validators are registered at startup; dispatch is safe for
// concurrent use.
type Pipeline struct {
	cfg     Config
	logger  Logger
	metrics MetricsSink
	cache   cache.Store
	tx      TxProvider
	tracer  trace.Tracer
	flight  singleflight.Group

	mu         sync.RWMutex
	handlers   map[reflect.Type]handlerFunc
	validators map[reflect.Type][]func(Request) error
}

// New creates a Pipeline.
func New(cfg Config, opts ...Option) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:        cfg,
		logger:     noopLogger{},
		metrics:    noopSink{},
		handlers:   make(map[reflect.Type]handlerFunc),
		validators: make(map[reflect.Type][]func(Request) error),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// HandleCommand registers the handler for command type C.
func HandleCommand[C Command](p *Pipeline, h func(ctx context.Context, cmd C) error) {
	p.register(reflect.TypeFor[C](), func(ctx context.Context, req Request) (any, error) {
		return nil, h(ctx, req.(C))
	})
}

// HandleQuery registers the handler for query type Q returning T.
func HandleQuery[Q Query, T any](p *Pipeline, h func(ctx context.Context, q Q) (T, error)) {
	p.register(reflect.TypeFor[Q](), func(ctx context.Context, req Request) (any, error) {
		return h(ctx, req.(Q))
	})
}

// AddValidator registers an extra validator for request type R. All
// validators run; their failures are reported together.
func AddValidator[R Request](p *Pipeline, v func(req R) error) {
	t := reflect.TypeFor[R]()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators[t] = append(p.validators[t], func(req Request) error { return v(req.(R)) })
}

func (p *Pipeline) register(t reflect.Type, h handlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.handlers[t]; dup {
		panic(fmt.Sprintf("pipeline: handler for %s registered twice", t))
	}
	p.handlers[t] = h
}

func (p *Pipeline) handler(req Request) (handlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[reflect.TypeOf(req)]
	return h, ok
}

// Send dispatches a command.
func (p *Pipeline) Send(ctx context.Context, cmd Command) Result {
	_, err := p.dispatch(ctx, cmd, kindCommand)
	return Result{Operation: cmd.Operation(), Err: err}
}

// Ask dispatches a query and returns its typed value.
func Ask[T any](ctx context.Context, p *Pipeline, q Query) Value[T] {
	out := Value[T]{Result: Result{Operation: q.Operation()}}
	v, err := p.dispatch(ctx, q, kindQuery)
	if err != nil {
		out.Err = err
		return out
	}
	data, ok := v.(T)
	if !ok && v != nil {
		out.Err = &apperr.Error{
			Kind:    apperr.Internal,
			Op:      q.Operation(),
			Message: fmt.Sprintf("handler returned %T, want %s", v, reflect.TypeFor[T]()),
		}
		return out
	}
	out.Data = data
	return out
}

// Query dispatches a query whose answer is only serialised, as the HTTP
// transport does.
func (p *Pipeline) Query(ctx context.Context, q Query) Value[any] {
	return Ask[any](ctx, p, q)
}

// dispatch runs the stage chain and translates the outcome.
func (p *Pipeline) dispatch(ctx context.Context, req Request, k kind) (v any, appErr *apperr.Error) {
	op := req.Operation()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic", "operation", op, "panic", r)
			v = nil
			appErr = &apperr.Error{Kind: apperr.Internal, Op: op, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	h, ok := p.handler(req)
	if !ok {
		return nil, &apperr.Error{Kind: apperr.Unsupported, Op: op, Message: fmt.Sprintf("no handler for %T", req)}
	}

	next := h
	if k == kindCommand {
		next = p.transaction(next)
	} else {
		next = p.caching(next)
	}
	next = p.performance(k, next)
	next = p.tracing(k, next)
	next = p.validation(next)

	v, err := next(ctx, req)
	return v, apperr.From(err, op)
}

// ============================================================================
// Stages
// ============================================================================

// validation runs the request's own Validate and every registered
// validator, joining the failures into one Validation error.
func (p *Pipeline) validation(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		var problems []string
		if v, ok := req.(Validator); ok {
			if err := v.Validate(); err != nil {
				problems = append(problems, validationMessage(err))
			}
		}
		p.mu.RLock()
		validators := p.validators[reflect.TypeOf(req)]
		p.mu.RUnlock()
		for _, fn := range validators {
			if err := fn(req); err != nil {
				problems = append(problems, validationMessage(err))
			}
		}
		if len(problems) > 0 {
			return nil, &apperr.Error{Kind: apperr.Validation, Op: req.Operation(), Message: strings.Join(problems, "; ")}
		}
		return next(ctx, req)
	}
}

func validationMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// tracing opens a span and logs start, finish and failures.
func (p *Pipeline) tracing(k kind, next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		op := req.Operation()
		ctx, span := p.tracer.Start(ctx, string(k)+" "+op, trace.WithAttributes(spanAttributes(k, req)...))
		defer span.End()

		start := time.Now()
		p.logger.Debug("dispatch started", "operation", op, "kind", k)

		v, err := next(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			recordSpanError(span, err)
			p.logger.Warn("dispatch failed",
				"operation", op,
				"kind", k,
				"duration", elapsed,
				"error_kind", apperr.KindOf(err).String(),
				"error", err,
			)
			return nil, err
		}
		p.logger.Debug("dispatch finished", "operation", op, "kind", k, "duration", elapsed)
		return v, nil
	}
}

// performance records duration and outcome and flags slow operations.
// It never blocks or retries.
func (p *Pipeline) performance(k kind, next handlerFunc) handlerFunc {
	threshold := p.cfg.SlowCommand
	if k == kindQuery {
		threshold = p.cfg.SlowQuery
	}
	return func(ctx context.Context, req Request) (any, error) {
		start := time.Now()
		v, err := next(ctx, req)
		elapsed := time.Since(start)

		outcome := "ok"
		if err != nil {
			outcome = apperr.KindOf(err).String()
		}
		slow := elapsed > threshold
		if slow {
			p.logger.Warn("slow operation",
				"operation", req.Operation(),
				"kind", k,
				"duration", elapsed,
				"threshold", threshold,
			)
		}
		p.metrics.RecordOperation(Sample{
			Operation: req.Operation(),
			Kind:      string(k),
			Duration:  elapsed,
			Outcome:   outcome,
			Slow:      slow,
			At:        start,
		})
		return v, err
	}
}

// caching serves Cacheable queries read-through. Concurrent misses for the
// same key share one handler execution. Entries are never invalidated by
// writes; they expire by TTL only.
func (p *Pipeline) caching(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		c, ok := req.(Cacheable)
		if !ok || p.cache == nil {
			return next(ctx, req)
		}

		key := fmt.Sprintf("%T:%s", req, c.CacheKey())
		if v, hit := p.cache.Get(key); hit {
			p.logger.Debug("cache hit", "operation", req.Operation(), "key", key)
			return v, nil
		}

		v, err, _ := p.flight.Do(key, func() (any, error) {
			v, err := next(ctx, req)
			if err == nil {
				p.cache.Set(key, v, c.CacheTTL())
			}
			return v, err
		})
		return v, err
	}
}

// transaction wraps Mutating commands in a scope chosen by their class.
// The scope commits only when the handler succeeds. External commands
// survive a failed commit.
func (p *Pipeline) transaction(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		m, ok := req.(Mutating)
		if !ok || p.tx == nil {
			return next(ctx, req)
		}

		opts := p.TxOptionsFor(m.Class())
		ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		txCtx, tx, err := p.tx.Begin(ctx, opts)
		if err != nil {
			return nil, apperr.External(err, "begin transaction")
		}

		v, err := next(txCtx, req)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				p.logger.Warn("transaction rollback failed", "operation", req.Operation(), "error", rbErr)
			}
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			if _, ok := req.(External); ok {
				p.logger.Error("transaction commit failed after command took effect",
					"operation", req.Operation(), "error", err)
				return v, nil
			}
			return nil, apperr.External(err, "commit transaction")
		}
		return v, nil
	}
}

// TxOptionsFor maps an operation class to its isolation level and timeout.
func (p *Pipeline) TxOptionsFor(c OperationClass) TxOptions {
	switch c {
	case ClassCritical, ClassDestructive:
		return TxOptions{Isolation: sql.LevelSerializable, Timeout: p.cfg.TxTimeout}
	case ClassBulk:
		return TxOptions{Isolation: sql.LevelReadCommitted, Timeout: p.cfg.BulkTxTimeout}
	default:
		return TxOptions{Isolation: sql.LevelReadCommitted, Timeout: p.cfg.TxTimeout}
	}
}
