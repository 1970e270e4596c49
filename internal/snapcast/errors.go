package snapcast

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the Snapcast control connection.
var (
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("snapcast: connection failed")

	// ErrNotConnected is returned when a call is made while disconnected,
	// or when the connection drops before the response arrives.
	ErrNotConnected = errors.New("snapcast: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("snapcast: client closed")

	// ErrUnboundZone is returned when a zone has no group or stream binding.
	ErrUnboundZone = errors.New("snapcast: zone not bound")

	// ErrUnboundClient is returned when a client has no Snapcast id.
	ErrUnboundClient = errors.New("snapcast: client not bound")

	// ErrUnknownGroup is returned when a bound group is missing from the
	// server status.
	ErrUnknownGroup = errors.New("snapcast: group not found on server")
)

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("snapcast: rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("snapcast: rpc error %d: %s", e.Code, e.Message)
}
