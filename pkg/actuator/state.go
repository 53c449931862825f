package actuator

import "time"

// State is the behavioral state of one actuator.
type State int

const (
	Idle State = iota
	Patrolling
	ZoneRecoveryManeuver
	Lost
	StuckRecoveryManeuver
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Patrolling:
		return "patrolling"
	case ZoneRecoveryManeuver:
		return "zone_recovery"
	case Lost:
		return "lost"
	case StuckRecoveryManeuver:
		return "stuck_recovery"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition describes one state change.
type Transition struct {
	ActuatorID int       `json:"actuator_id"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Status is a snapshot of an actuator for the status API.
type Status struct {
	ID             int       `json:"id"`
	Entity         string    `json:"entity"`
	State          State     `json:"state"`
	Detected       bool      `json:"detected"`
	LastCommandAt  time.Time `json:"last_command_at"`
	LastRecoveryAt time.Time `json:"last_recovery_at"`
	ZoneManeuvers  uint64    `json:"zone_maneuvers"`
	Recoveries     uint64    `json:"recoveries"`
	Errors         uint64    `json:"errors"`
	Gone           bool      `json:"gone"`
	Err            string    `json:"error,omitempty"`
}
