package ws

import "errors"

var (
	// ErrRegistryClosed is returned once the registry stopped accepting
	// connections and broadcasts.
	ErrRegistryClosed = errors.New("ws: registry closed")
	// ErrConnClosed is returned when replying on a closed connection.
	ErrConnClosed = errors.New("ws: connection closed")
)
