package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/cache"
)

// ============================================================================
// Test requests
// ============================================================================

type setLevel struct {
	Zone  int
	Level int
}

func (setLevel) Operation() string     { return "SetLevel" }
func (setLevel) Origin() Source        { return SourceAPI }
func (setLevel) Class() OperationClass { return ClassUpdate }
func (c setLevel) Validate() error {
	if c.Level < 0 || c.Level > 100 {
		return apperr.Invalid("level must be between 0 and 100")
	}
	return nil
}

type wipe struct{}

func (wipe) Operation() string     { return "Wipe" }
func (wipe) Origin() Source        { return SourceInternal }
func (wipe) Class() OperationClass { return ClassDestructive }

// startZone is a mutating command that drives hardware.
type startZone struct{ Zone int }

func (startZone) Operation() string     { return "StartZone" }
func (startZone) Origin() Source        { return SourceKNX }
func (startZone) Class() OperationClass { return ClassUpdate }
func (startZone) ActsExternally()       {}

type ping struct{}

func (ping) Operation() string { return "Ping" }
func (ping) Origin() Source    { return SourceMQTT }

type getLevel struct{ Zone int }

func (getLevel) Operation() string { return "GetLevel" }
func (getLevel) ReadOnly()               {}
func (q getLevel) CacheKey() string      { return string(rune('0' + q.Zone)) }
func (getLevel) CacheTTL() time.Duration { return time.Hour }

type uncached struct{}

func (uncached) Operation() string { return "Uncached" }
func (uncached) ReadOnly()         {}

type snapshot struct {
	Zone  int
	Level int
}

// ============================================================================
// Test collaborators
// ============================================================================

type recordingSink struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recordingSink) RecordOperation(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

type txKey struct{}

type mockTx struct {
	opts       TxOptions
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *mockTx) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback() error {
	t.rolledBack = true
	return nil
}

type mockTxProvider struct {
	mu        sync.Mutex
	txs       []*mockTx
	err       error
	commitErr error
}

func (m *mockTxProvider) Begin(ctx context.Context, opts TxOptions) (context.Context, Tx, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	tx := &mockTx{opts: opts, commitErr: m.commitErr}
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.mu.Unlock()
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// ============================================================================
// Command path
// ============================================================================

func TestSend_ValidationStopsHandler(t *testing.T) {
	p := New(Config{})
	called := false
	HandleCommand(p, func(context.Context, setLevel) error {
		called = true
		return nil
	})
	AddValidator(p, func(c setLevel) error {
		if c.Zone < 1 {
			return errors.New("zone must be positive")
		}
		return nil
	})

	res := p.Send(context.Background(), setLevel{Zone: 0, Level: 150})
	if res.OK() {
		t.Fatal("Send() OK = true, want validation failure")
	}
	if res.Err.Kind != apperr.Validation {
		t.Errorf("Send() kind = %v, want %v", res.Err.Kind, apperr.Validation)
	}
	if !strings.Contains(res.Err.Message, "level") || !strings.Contains(res.Err.Message, "zone") {
		t.Errorf("Send() message = %q, want both problems", res.Err.Message)
	}
	if called {
		t.Error("handler invoked after validation failure")
	}
}

func TestSend_ErrorTranslation(t *testing.T) {
	p := New(Config{})
	HandleCommand(p, func(context.Context, setLevel) error { return errors.New("disk on fire") })
	HandleCommand(p, func(context.Context, ping) error { panic("boom") })

	res := p.Send(context.Background(), setLevel{Zone: 1, Level: 10})
	if res.Err == nil || res.Err.Kind != apperr.Internal || res.Err.Op != "SetLevel" {
		t.Errorf("Send(error) = %+v, want internal error tagged SetLevel", res.Err)
	}

	res = p.Send(context.Background(), ping{})
	if res.Err == nil || res.Err.Kind != apperr.Internal {
		t.Errorf("Send(panic) = %+v, want internal error", res.Err)
	}

	res = p.Send(context.Background(), wipe{})
	if res.Err == nil || res.Err.Kind != apperr.Unsupported {
		t.Errorf("Send(unregistered) = %+v, want unsupported", res.Err)
	}
}

func TestSend_PreservesKinds(t *testing.T) {
	p := New(Config{})
	HandleCommand(p, func(context.Context, setLevel) error {
		return apperr.External(context.DeadlineExceeded, "snapcast")
	})

	res := p.Send(context.Background(), setLevel{Zone: 1, Level: 1})
	if res.Err == nil || res.Err.Kind != apperr.Timeout {
		t.Errorf("Send() = %+v, want timeout", res.Err)
	}
}

func TestSend_TransactionCommitAndRollback(t *testing.T) {
	txp := &mockTxProvider{}
	p := New(Config{}, WithTxProvider(txp))

	fail := false
	HandleCommand(p, func(ctx context.Context, _ setLevel) error {
		if ctx.Value(txKey{}) == nil {
			t.Error("handler context carries no transaction")
		}
		if fail {
			return apperr.Missing("zone 9")
		}
		return nil
	})

	if res := p.Send(context.Background(), setLevel{Zone: 1, Level: 5}); !res.OK() {
		t.Fatalf("Send() error = %v", res.Err)
	}
	fail = true
	if res := p.Send(context.Background(), setLevel{Zone: 1, Level: 5}); res.OK() {
		t.Fatal("Send() OK = true, want failure")
	}

	if len(txp.txs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txp.txs))
	}
	if !txp.txs[0].committed || txp.txs[0].rolledBack {
		t.Errorf("first tx = %+v, want committed", txp.txs[0])
	}
	if txp.txs[1].committed || !txp.txs[1].rolledBack {
		t.Errorf("second tx = %+v, want rolled back", txp.txs[1])
	}
	if txp.txs[0].opts.Isolation != sql.LevelReadCommitted {
		t.Errorf("update isolation = %v, want read committed", txp.txs[0].opts.Isolation)
	}
}

func TestSend_TransactionByClass(t *testing.T) {
	txp := &mockTxProvider{}
	p := New(Config{TxTimeout: 30 * time.Second}, WithTxProvider(txp))
	HandleCommand(p, func(context.Context, wipe) error { return nil })
	HandleCommand(p, func(ctx context.Context, _ ping) error {
		if ctx.Value(txKey{}) != nil {
			t.Error("non-mutating command ran inside a transaction")
		}
		return nil
	})

	p.Send(context.Background(), wipe{})
	p.Send(context.Background(), ping{})

	if len(txp.txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txp.txs))
	}
	if got := txp.txs[0].opts; got.Isolation != sql.LevelSerializable || got.Timeout != 30*time.Second {
		t.Errorf("destructive tx opts = %+v, want serializable/30s", got)
	}
	if got := p.TxOptionsFor(ClassBulk).Timeout; got != DefaultBulkTxTimeout {
		t.Errorf("bulk timeout = %v, want %v", got, DefaultBulkTxTimeout)
	}
}

func TestSend_BeginFailure(t *testing.T) {
	txp := &mockTxProvider{err: errors.New("database is locked")}
	p := New(Config{}, WithTxProvider(txp))
	called := false
	HandleCommand(p, func(context.Context, setLevel) error {
		called = true
		return nil
	})

	res := p.Send(context.Background(), setLevel{Zone: 1})
	if res.Err == nil || res.Err.Kind != apperr.ExternalService {
		t.Errorf("Send() = %+v, want external service", res.Err)
	}
	if called {
		t.Error("handler ran without a transaction")
	}
}

func TestSend_CommitFailure(t *testing.T) {
	txp := &mockTxProvider{commitErr: errors.New("disk I/O error")}
	p := New(Config{}, WithTxProvider(txp))

	var started int
	HandleCommand(p, func(context.Context, startZone) error {
		started++
		return nil
	})
	HandleCommand(p, func(context.Context, setLevel) error { return nil })

	if res := p.Send(context.Background(), startZone{Zone: 1}); !res.OK() {
		t.Errorf("Send(external) error = %v, want success once the effect happened", res.Err)
	}
	if started != 1 {
		t.Errorf("handler runs = %d, want 1", started)
	}

	res := p.Send(context.Background(), setLevel{Zone: 1, Level: 5})
	if res.Err == nil || res.Err.Kind != apperr.ExternalService {
		t.Errorf("Send(local) = %+v, want external service", res.Err)
	}
}

// ============================================================================
// Performance and tracing
// ============================================================================

func TestPerformance_RecordsAndFlagsSlow(t *testing.T) {
	sink := &recordingSink{}
	p := New(Config{SlowCommand: time.Nanosecond}, WithMetrics(sink))
	HandleCommand(p, func(context.Context, setLevel) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	HandleQuery(p, func(context.Context, uncached) (int, error) { return 0, apperr.Missing("nothing") })

	p.Send(context.Background(), setLevel{Zone: 1})
	Ask[int](context.Background(), p, uncached{})

	if len(sink.samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(sink.samples))
	}
	cmd := sink.samples[0]
	if cmd.Operation != "SetLevel" || cmd.Kind != "command" || cmd.Outcome != "ok" || !cmd.Slow {
		t.Errorf("command sample = %+v", cmd)
	}
	q := sink.samples[1]
	if q.Kind != "query" || q.Outcome != "not_found" || q.Slow {
		t.Errorf("query sample = %+v", q)
	}
}

func TestTracing_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	p := New(Config{}, WithTracer(tp.Tracer("test")))
	HandleCommand(p, func(context.Context, setLevel) error { return apperr.Missing("zone 4") })

	p.Send(context.Background(), setLevel{Zone: 4})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "command SetLevel" {
		t.Errorf("span name = %q, want %q", got, "command SetLevel")
	}
	if got := spans[0].Status().Code.String(); got != "Error" {
		t.Errorf("span status = %q, want Error", got)
	}
}

func TestStats(t *testing.T) {
	s := NewStats()
	s.RecordOperation(Sample{Operation: "Play", Duration: 2 * time.Millisecond, Outcome: "ok"})
	s.RecordOperation(Sample{Operation: "Play", Duration: 5 * time.Millisecond, Outcome: "timeout", Slow: true})

	play := s.Snapshot()["Play"]
	if play.Count != 2 || play.Errors != 1 || play.Slow != 1 || play.Max != 5*time.Millisecond {
		t.Errorf("Snapshot()[Play] = %+v", play)
	}
}

// ============================================================================
// Query path
// ============================================================================

func TestAsk_CachedQueryRunsHandlerOnce(t *testing.T) {
	p := New(Config{}, WithCache(cache.NewTTL()))
	var calls atomic.Int32
	HandleQuery(p, func(_ context.Context, q getLevel) (*snapshot, error) {
		calls.Add(1)
		return &snapshot{Zone: q.Zone, Level: 40}, nil
	})

	first := Ask[*snapshot](context.Background(), p, getLevel{Zone: 1})
	second := Ask[*snapshot](context.Background(), p, getLevel{Zone: 1})

	if !first.OK() || !second.OK() {
		t.Fatalf("Ask() errors = %v, %v", first.Err, second.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if first.Data != second.Data {
		t.Error("cached query returned a different payload")
	}

	Ask[*snapshot](context.Background(), p, getLevel{Zone: 2})
	if calls.Load() != 2 {
		t.Errorf("handler calls after new key = %d, want 2", calls.Load())
	}
}

func TestAsk_FailuresAreNotCached(t *testing.T) {
	p := New(Config{}, WithCache(cache.NewTTL()))
	var calls atomic.Int32
	HandleQuery(p, func(context.Context, getLevel) (*snapshot, error) {
		calls.Add(1)
		return nil, apperr.Missing("zone 1")
	})

	Ask[*snapshot](context.Background(), p, getLevel{Zone: 1})
	res := Ask[*snapshot](context.Background(), p, getLevel{Zone: 1})
	if res.Err == nil || res.Err.Kind != apperr.NotFound {
		t.Errorf("Ask() = %+v, want not found", res.Err)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestAsk_UncachedAlwaysRuns(t *testing.T) {
	p := New(Config{}, WithCache(cache.NewTTL()))
	var calls atomic.Int32
	HandleQuery(p, func(context.Context, uncached) (int, error) {
		return int(calls.Add(1)), nil
	})

	Ask[int](context.Background(), p, uncached{})
	res := Ask[int](context.Background(), p, uncached{})
	if res.Data != 2 {
		t.Errorf("Ask().Data = %d, want 2", res.Data)
	}
}

func TestAsk_WrongResultType(t *testing.T) {
	p := New(Config{})
	HandleQuery(p, func(context.Context, uncached) (int, error) { return 3, nil })

	res := Ask[string](context.Background(), p, uncached{})
	if res.Err == nil || res.Err.Kind != apperr.Internal {
		t.Errorf("Ask[string]() = %+v, want internal error", res.Err)
	}
}

func TestQuery_Untyped(t *testing.T) {
	p := New(Config{})
	HandleQuery(p, func(context.Context, uncached) (int, error) { return 3, nil })

	res := p.Query(context.Background(), uncached{})
	if !res.OK() || res.Data != 3 {
		t.Errorf("Query() = %+v, want 3", res)
	}
	if res := p.Query(context.Background(), getLevel{Zone: 1}); res.Err == nil || res.Err.Kind != apperr.Unsupported {
		t.Errorf("Query(unregistered) error = %v, want unsupported", res.Err)
	}
}

func TestHandleCommand_DuplicatePanics(t *testing.T) {
	p := New(Config{})
	HandleCommand(p, func(context.Context, ping) error { return nil })
	defer func() {
		if recover() == nil {
			t.Error("second registration did not panic")
		}
	}()
	HandleCommand(p, func(context.Context, ping) error { return nil })
}
