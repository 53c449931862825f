package fleet

import "errors"

var (
	// ErrNoActuators is returned by BringUp when no device initialised.
	ErrNoActuators = errors.New("fleet: no actuators initialised")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("fleet: already started")
)
