package model

import "errors"

// Error kinds for the failure taxonomy. Per-connection and per-request
// errors never cross into sibling connections; only startup errors are
// fatal to the process.
var (
	// ErrHandshakeFailure: TLS or QUIC handshake error. Logged, connection
	// dropped, never propagates beyond the terminator.
	ErrHandshakeFailure = errors.New("handshake failure")

	// ErrConnectionReset: peer closed the transport mid-request. The request
	// is recorded as incomplete.
	ErrConnectionReset = errors.New("connection reset")

	// ErrConfigError: malformed or missing configuration at startup. Fatal
	// before any listener binds.
	ErrConfigError = errors.New("config error")

	// ErrContentLoad: static content directory unreadable. Fatal at startup.
	ErrContentLoad = errors.New("content load error")

	// ErrProtocolViolation: malformed request framing. The terminator resets
	// the offending stream and keeps serving the rest.
	ErrProtocolViolation = errors.New("protocol violation")
)
