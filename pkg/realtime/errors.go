package realtime

import "errors"

var (
	// ErrUnauthorizedSubscription is returned when a connection asks to
	// join a group its identity is not allowed to join.
	ErrUnauthorizedSubscription = errors.New("realtime: unauthorized subscription")

	// ErrInvalidGroupName is returned for subscription requests naming a
	// group that is neither registered nor matched by any pattern.
	ErrInvalidGroupName = errors.New("realtime: invalid group name")

	// ErrConnClosed is returned when queueing a message to a connection
	// that has already shut down.
	ErrConnClosed = errors.New("realtime: connection closed")

	// ErrBusClosed is returned by publish and subscribe calls after the
	// bus has been closed.
	ErrBusClosed = errors.New("realtime: bus closed")
)
