package channel

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when a transport is used before Connect or
// after Close.
var ErrNotConnected = errors.New("channel: not connected")

// Transport is one bidirectional real-time connection for a room.
type Transport interface {
	// SetHandshake sets the frame written on every new connection,
	// including redials, before the connection carries any other frame.
	SetHandshake(f Frame)

	// Connect establishes the connection and writes the handshake.
	Connect(ctx context.Context) error

	// Listen returns the channel of inbound events. The channel is closed
	// when the transport is closed, the context ends, or reconnection gives
	// up. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Emit sends one frame.
	Emit(ctx context.Context, f Frame) error

	// Close shuts the connection down. It is safe to call more than once.
	Close() error
}
