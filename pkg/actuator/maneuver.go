package actuator

import "time"

// Step is one wheel command held for Hold, Repeat times. When
// Interruptible is set the hold is cut short at a repeat boundary if
// detection resumes.
type Step struct {
	Left          int
	Right         int
	Hold          time.Duration
	Repeat        int
	Interruptible bool
}

func (s Step) repeats() int {
	if s.Repeat < 1 {
		return 1
	}
	return s.Repeat
}

// Duration is the uninterrupted length of the step.
func (s Step) Duration() time.Duration {
	return s.Hold * time.Duration(s.repeats())
}

// Maneuver is a fixed sequence of steps.
type Maneuver struct {
	Name  string
	Steps []Step
}

// Duration is the uninterrupted length of the maneuver.
func (m Maneuver) Duration() time.Duration {
	var d time.Duration
	for _, s := range m.Steps {
		d += s.Duration()
	}
	return d
}

// ZoneManeuver turns the cube around and drives it back toward the zone.
func ZoneManeuver() Maneuver {
	return Maneuver{
		Name: "zone",
		Steps: []Step{
			{Left: 30, Right: -30, Hold: 500 * time.Millisecond}, // ~180 degrees in place
			{Left: 40, Right: 40, Hold: 900 * time.Millisecond},
		},
	}
}

// RecoveryManeuver frees a stuck or lost cube. nudgeRight picks the final
// direction nudge.
func RecoveryManeuver(nudgeRight bool) Maneuver {
	nudge := Step{Left: 35, Right: 20, Hold: 600 * time.Millisecond}
	if nudgeRight {
		nudge = Step{Left: 20, Right: 35, Hold: 600 * time.Millisecond}
	}

	return Maneuver{
		Name: "recovery",
		Steps: []Step{
			{Hold: 500 * time.Millisecond},
			{Left: -30, Right: -30, Hold: 500 * time.Millisecond, Repeat: 6, Interruptible: true},
			{Hold: 300 * time.Millisecond},
			{Left: 35, Right: -35, Hold: 1300 * time.Millisecond},
			{Hold: 300 * time.Millisecond},
			{Left: 30, Right: 30, Hold: 500 * time.Millisecond, Repeat: 5, Interruptible: true},
			nudge,
			{Hold: 200 * time.Millisecond},
		},
	}
}
