// Package debug provides global verbose-logging flags
package debug

import (
	"fmt"

	"github.com/teslashibe/go-swarm/internal/log"
)

// Enabled gates per-frame perception logs
var Enabled bool

// Tracking gates per-tick control loop logs (very verbose with several cubes)
// Use --debug-tracking to enable these
var Tracking bool

// Log emits a debug-level record only if debug mode is enabled
func Log(format string, args ...interface{}) {
	if Enabled {
		log.Debug(fmt.Sprintf(format, args...))
	}
}

// TrackLog emits a debug-level record only if tracking debug mode is enabled
func TrackLog(format string, args ...interface{}) {
	if Tracking {
		log.Debug(fmt.Sprintf(format, args...))
	}
}
