package influxdb

import (
	"context"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// Measurement names.
const (
	MeasurementOperations = "snapdog_operations"
	MeasurementStatus     = "snapdog_status"
)

// RecordOperation implements pipeline.MetricsSink.
func (c *Client) RecordOperation(s pipeline.Sample) {
	if !c.IsConnected() {
		return
	}
	c.writes.WritePoint(operationPoint(s))
}

// HandleNotification records a status change. It has the notify.Handler
// signature so the client can subscribe to the dispatcher directly.
// Statuses without a scalar value are skipped.
func (c *Client) HandleNotification(_ context.Context, n notify.Notification) error {
	if !c.IsConnected() {
		return nil
	}
	if p, ok := statusPoint(n); ok {
		c.writes.WritePoint(p)
	}
	return nil
}

func operationPoint(s pipeline.Sample) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementOperations,
		map[string]string{
			"operation": s.Operation,
			"kind":      s.Kind,
			"outcome":   s.Outcome,
		},
		map[string]any{
			"duration_ms": float64(s.Duration) / float64(time.Millisecond),
			"slow":        s.Slow,
		},
		at,
	)
}

func statusPoint(n notify.Notification) (*write.Point, bool) {
	fields := make(map[string]any, 1)
	switch v := n.Value().(type) {
	case int:
		fields["value"] = int64(v)
	case int64:
		fields["value"] = v
	case float64:
		fields["value"] = v
	case bool:
		fields["value"] = v
	case string:
		fields["text"] = v
	default:
		return nil, false
	}

	at := n.Timestamp()
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementStatus,
		map[string]string{
			"status": n.StatusID(),
			"scope":  string(n.Scope()),
			"index":  strconv.Itoa(n.Index()),
		},
		fields,
		at,
	), true
}
