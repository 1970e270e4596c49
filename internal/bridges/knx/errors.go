package knx

import "errors"

// Domain errors for the KNX bridge package.
var (
	// ErrNotConnected is returned when knxd is not reachable.
	ErrNotConnected = errors.New("knx: not connected to knxd")

	// ErrConnectionFailed is returned when dialling or the group socket handshake fails.
	ErrConnectionFailed = errors.New("knx: connection to knxd failed")

	// ErrInvalidGroupAddress is returned for a malformed group address.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrEncodingFailed is returned when a value cannot be encoded for its DPT.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	// ErrDecodingFailed is returned when telegram data does not fit its DPT.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrTelegramFailed is returned when a telegram cannot be written.
	ErrTelegramFailed = errors.New("knx: telegram send failed")

	// ErrInvalidTelegram is returned for a malformed knxd frame.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrProtocolDesync is returned when the knxd stream can no longer be framed.
	ErrProtocolDesync = errors.New("knx: protocol desync")

	// ErrUnmappedFeature is returned for a group address bound to a feature
	// that has no KNX datapoint.
	ErrUnmappedFeature = errors.New("knx: feature has no KNX datapoint")

	// ErrNoConnector, ErrNoDispatcher and ErrNoRegistry are returned by
	// NewBridge for a missing collaborator.
	ErrNoConnector  = errors.New("knx bridge: connector is required")
	ErrNoDispatcher = errors.New("knx bridge: dispatcher is required")
	ErrNoRegistry   = errors.New("knx bridge: registry is required")

	// ErrDuplicateAddress is returned when one group address is bound twice.
	ErrDuplicateAddress = errors.New("knx: group address bound twice")
)
