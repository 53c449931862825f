// Package recovery decides when an actuator needs a recovery maneuver.
package recovery

import "time"

// Config holds stuck/lost thresholds.
type Config struct {
	// === Stuck ===
	StuckDistance float64       // Max pairwise spread (px) that counts as not moving
	StuckTime     time.Duration // Spread must stay low this long
	MinSamples    int           // Window needs this many samples before judging
	MinSpan       time.Duration // Window must cover at least this much time
	Window        time.Duration // Samples older than this are dropped

	// === Lost ===
	LostGrace     time.Duration // Short gap before motors are held at zero
	LostThreshold time.Duration // Long gap that triggers a recovery maneuver

	// === Gate ===
	Cooldown time.Duration // No recovery within this long of the last one
	Warmup   time.Duration // No recovery within this long of the actuator starting
}

// DefaultConfig returns thresholds tuned for cubes on a 640x480 overhead view.
func DefaultConfig() Config {
	return Config{
		StuckDistance: 15,
		StuckTime:     6 * time.Second,
		MinSamples:    30,
		MinSpan:       3 * time.Second,
		Window:        8 * time.Second,

		LostGrace:     400 * time.Millisecond,
		LostThreshold: 3 * time.Second,

		Cooldown: 15 * time.Second,
		Warmup:   15 * time.Second,
	}
}
