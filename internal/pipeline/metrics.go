package pipeline

import (
	"sync"
	"time"
)

// Sample is one measured dispatch.
type Sample struct {
	Operation string
	Kind      string // "command" or "query"
	Duration  time.Duration
	Outcome   string // "ok" or the error kind
	Slow      bool
	At        time.Time
}

// MetricsSink receives one Sample per dispatch. Implementations must not
// block.
type MetricsSink interface {
	RecordOperation(s Sample)
}

type noopSink struct{}

func (noopSink) RecordOperation(Sample) {}

// Stats is an in-memory MetricsSink that keeps per-operation counters.
// It backs the server statistics endpoint and tests.
type Stats struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

// OpStats aggregates the samples of one operation.
type OpStats struct {
	Count    int64         `json:"count"`
	Errors   int64         `json:"errors"`
	Slow     int64         `json:"slow"`
	Total    time.Duration `json:"total_ns"`
	Max      time.Duration `json:"max_ns"`
	LastSeen time.Time     `json:"last_seen"`
}

// NewStats returns an empty Stats sink.
func NewStats() *Stats {
	return &Stats{ops: make(map[string]*OpStats)}
}

// RecordOperation implements MetricsSink.
func (s *Stats) RecordOperation(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[sample.Operation]
	if !ok {
		op = &OpStats{}
		s.ops[sample.Operation] = op
	}
	op.Count++
	if sample.Outcome != "ok" {
		op.Errors++
	}
	if sample.Slow {
		op.Slow++
	}
	op.Total += sample.Duration
	if sample.Duration > op.Max {
		op.Max = sample.Duration
	}
	op.LastSeen = sample.At
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() map[string]OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]OpStats, len(s.ops))
	for k, v := range s.ops {
		out[k] = *v
	}
	return out
}

// MultiSink fans samples out to several sinks.
type MultiSink []MetricsSink

// RecordOperation implements MetricsSink.
func (m MultiSink) RecordOperation(s Sample) {
	for _, sink := range m {
		sink.RecordOperation(s)
	}
}
