package recovery

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/track"
)

// Verdict is the outcome of one evaluation.
type Verdict int

const (
	None Verdict = iota
	Lost
	Stuck
)

func (v Verdict) String() string {
	switch v {
	case Lost:
		return "lost"
	case Stuck:
		return "stuck"
	default:
		return "none"
	}
}

// Input is what the detector needs from the actuator for one evaluation.
type Input struct {
	Now          time.Time
	Track        track.Snapshot
	Since        time.Time // when the actuator started; stands in for LastSeen before the first sighting
	Patrolling   bool
	LastRecovery time.Time // zero if never
}

// lastSeen is the reference point for detection gaps.
func (in Input) lastSeen() time.Time {
	if in.Track.Seen() {
		return in.Track.LastSeen
	}
	return in.Since
}

// Gap returns how long the entity has gone undetected (zero while detected).
func (in Input) Gap() time.Duration {
	if in.Track.Detected {
		return 0
	}
	return in.Now.Sub(in.lastSeen())
}

// Detector holds the stuck timer of one actuator. It is owned by that
// actuator's control loop and is not safe for concurrent use.
type Detector struct {
	cfg        Config
	stuckSince time.Time
	logger     *slog.Logger
}

// New creates a detector.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{cfg: cfg, logger: log.Or(logger, "recovery")}
}

// Config returns the thresholds in use.
func (d *Detector) Config() Config {
	return d.cfg
}

// Evaluate checks the lost and stuck conditions behind the warm-up and
// cooldown gates.
// A Stuck verdict clears the stuck timer; the caller is expected to reset
// the track history as well.
func (d *Detector) Evaluate(in Input) Verdict {
	if in.Now.Sub(in.Since) < d.cfg.Warmup {
		return None
	}
	if !in.LastRecovery.IsZero() && in.Now.Sub(in.LastRecovery) < d.cfg.Cooldown {
		return None
	}

	if !in.Track.Detected {
		if in.Gap() > d.cfg.LostThreshold {
			d.logger.Info("detection lost beyond threshold",
				"entity", in.Track.ID,
				"gap", in.Gap().Round(10*time.Millisecond))
			return Lost
		}
		return None
	}

	if !in.Patrolling {
		return None
	}

	s := in.Track
	if s.Samples < d.cfg.MinSamples || s.Span < d.cfg.MinSpan {
		return None
	}

	if s.Spread >= d.cfg.StuckDistance {
		if !d.stuckSince.IsZero() {
			d.logger.Debug("position changing again, stuck timer reset",
				"entity", s.ID, "spread", s.Spread)
		}
		d.stuckSince = time.Time{}
		return None
	}

	if d.stuckSince.IsZero() {
		d.stuckSince = in.Now
		d.logger.Debug("stuck timer started", "entity", s.ID, "spread", s.Spread)
	}

	if held := in.Now.Sub(d.stuckSince); held > d.cfg.StuckTime {
		d.logger.Info("actuator stuck",
			"entity", s.ID,
			"spread", s.Spread,
			"held", held.Round(10*time.Millisecond))
		d.stuckSince = time.Time{}
		return Stuck
	}
	return None
}

// NeedsRecovery reports whether Evaluate returns a recovery verdict.
func (d *Detector) NeedsRecovery(in Input) bool {
	return d.Evaluate(in) != None
}

// Reset clears the stuck timer.
func (d *Detector) Reset() {
	d.stuckSince = time.Time{}
}

// StuckSince returns when the spread first dropped below threshold.
func (d *Detector) StuckSince() (time.Time, bool) {
	return d.stuckSince, !d.stuckSince.IsZero()
}
