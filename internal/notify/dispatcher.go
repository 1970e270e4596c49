package notify

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler receives a notification. A returned error is logged and does not
// stop delivery to later subscribers.
type Handler func(ctx context.Context, n Notification) error

type subscription struct {
	name     string
	statusID string // empty means every status
	handler  Handler
}

// Dispatcher delivers notifications to subscribers synchronously, in the
// order they subscribed. A slow subscriber delays the ones after it.
//
// Subscribing is expected at startup; Publish may run concurrently from many
// requests.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	logger Logger
}

// NewDispatcher returns a Dispatcher with no subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: noopLogger{}}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(l Logger) {
	d.logger = l
}

// Subscribe registers h for one status id.
func (d *Dispatcher) Subscribe(name, statusID string, h Handler) {
	d.mu.Lock()
	d.subs = append(d.subs, subscription{name: name, statusID: statusID, handler: h})
	d.mu.Unlock()
}

// SubscribeAll registers h for every notification.
func (d *Dispatcher) SubscribeAll(name string, h Handler) {
	d.Subscribe(name, "", h)
}

// Publish delivers n to every matching subscriber and returns how many
// handled it without error.
func (d *Dispatcher) Publish(ctx context.Context, n Notification) int {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if s.statusID != "" && s.statusID != n.StatusID() {
			continue
		}
		if err := d.deliver(ctx, s, n); err != nil {
			d.logger.Warn("notification delivery failed",
				"subscriber", s.name,
				"status", n.StatusID(),
				"index", n.Index(),
				"error", err,
			)
			continue
		}
		delivered++
	}
	d.logger.Debug("notification published", "status", n.StatusID(), "index", n.Index(), "delivered", delivered)
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, s subscription, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.handler(ctx, n)
}
