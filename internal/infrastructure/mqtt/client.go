package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
)

// Client is the hub's connection to the MQTT broker.
//
// paho handles reconnection; the client adds what the bridge relies on
// across reconnects: filters are re-subscribed, the retained online status
// is republished and the OnConnect hook runs so the bridge can resync
// retained state. All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	mu           sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives the concrete topic of a message, never the
// filter it matched.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first CONNACK. The will on
// {base}/system/status is registered before dialling.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The paho OnConnect handler runs on its own goroutine and may lag.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.BaseTopic),
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}

	c.options = buildClientOptions(cfg)
	c.options.SetWill(c.topics.SystemStatus(), string(offlineStatus(cfg.Broker.ClientID, reasonUnexpected)), willQoS, true)
	c.options.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	c.options.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("MQTT reconnecting", "broker", c.cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(c.options)
	return c
}

// Topics returns the topic builders rooted at the configured base topic.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.resubscribe()
	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, onlineStatus(c.cfg.Broker.ClientID))

	c.mu.RLock()
	hook := c.onConnect
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() != nil {
			c.log().Warn("MQTT resubscribe failed", "filter", sub.topic, "error", token.Error())
		}
	}
}

// Close publishes the retained graceful-offline status, then disconnects.
// It is safe on an unconnected or already closed client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, offlineStatus(c.cfg.Broker.ClientID, reasonShutdown))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesceMs)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a hook run after every successful (re)connect,
// once subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the link drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger replaces the logger; nil silences the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho. Handler errors are logged
// as warnings; panics are recovered and logged as errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			c.log().Warn("MQTT message rejected", "topic", topic, "error", err)
		}
	}
}
