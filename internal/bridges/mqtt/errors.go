package mqtt

import "errors"

// Domain-specific errors for the MQTT bridge.
var (
	// ErrNoTransport is returned when the bridge is built without a transport.
	ErrNoTransport = errors.New("mqtt bridge: transport is required")

	// ErrNoDispatcher is returned when the bridge is built without a dispatcher.
	ErrNoDispatcher = errors.New("mqtt bridge: dispatcher is required")

	// ErrNoRegistry is returned when the bridge is built without a feature registry.
	ErrNoRegistry = errors.New("mqtt bridge: feature registry is required")

	// ErrUnknownCommand is returned for a command topic with no MQTT feature.
	ErrUnknownCommand = errors.New("mqtt bridge: unknown command topic")
)
