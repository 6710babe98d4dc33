package rpc

import "errors"

var (
	// ErrClosed is returned when a broadcast is requested after Stop.
	ErrClosed = errors.New("rpc: executor is closed")

	// ErrInvalidTimeout is returned by the blocking Execute when the caller
	// passes a non-positive timeout. A synchronous wait must always be
	// bounded.
	ErrInvalidTimeout = errors.New("rpc: timeout must be positive")
)
