package gateway

import "errors"

var (
	// ErrSendQueueFull is returned when a module's outbound queue is full.
	ErrSendQueueFull = errors.New("gateway: send queue full")

	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("gateway: connection closed")

	// ErrNotAuthenticated is returned when sending a command to a
	// connection that has not identified yet.
	ErrNotAuthenticated = errors.New("gateway: connection not authenticated")

	errMalformedFrame = errors.New("gateway: malformed frame")
)
