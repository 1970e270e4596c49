package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "no metrics sink", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed wraps a failed ping during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	ErrNotConnected = errors.New("influxdb: not connected")
)
