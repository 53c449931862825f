package bridge

import "errors"

var (
	// ErrAckTimeout means the agent did not answer a command in time.
	ErrAckTimeout = errors.New("bridge: ack timeout")

	// ErrCubeGone is returned by a Cube whose BLE connection dropped. The
	// agent reports it as unreachable.
	ErrCubeGone = errors.New("bridge: cube gone")

	// ErrClosed is returned by an agent after its connection closed.
	ErrClosed = errors.New("bridge: connection closed")
)
