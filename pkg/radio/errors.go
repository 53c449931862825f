package radio

import (
	"errors"
	"fmt"
)

// ErrUnreachable means the physical link to the cube is gone. Control
// loops treat it as terminal.
var ErrUnreachable = errors.New("radio: unreachable")

// ErrRejected means the bridge answered but refused the command.
var ErrRejected = errors.New("radio: command rejected")

// LinkError wraps a failed command with the cube and operation.
type LinkError struct {
	ActuatorID int
	Op         string // "motor", "indicator", "connect"
	Err        error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("radio: cube %d %s: %v", e.ActuatorID, e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err means the cube will not come back.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
