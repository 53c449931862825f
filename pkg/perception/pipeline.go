// Package perception runs the camera-rate loop: read a frame, detect,
// calibrate, update tracks, watch the zone and queue exit events.
//
// The pipeline is the single writer of every track and of the zone
// monitor. Control loops only read the tracks.
package perception

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/clock"
	"github.com/teslashibe/go-swarm/pkg/debug"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/track"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// Config holds perception settings.
type Config struct {
	ClassMap    detection.ClassMap
	ReadBackoff time.Duration // pause after a failed camera read
}

// DefaultConfig returns the settings used on the demo mat.
func DefaultConfig() Config {
	return Config{
		ClassMap:    detection.DefaultClassMap(),
		ReadBackoff: 100 * time.Millisecond,
	}
}

// Result is one detection of the latest frame after relabelling.
type Result struct {
	Entity     string             `json:"id"`
	ClassID    int                `json:"class_id"`
	Pixel      geom.Point         `json:"pixel"`
	World      *calibration.World `json:"world"` // nil before calibration
	Angle      float64            `json:"angle"` // relative to the marker once calibrated
	Confidence float64            `json:"conf"`
	Reference  bool               `json:"reference,omitempty"`
	Inside     bool               `json:"inside"`
	At         time.Time          `json:"at"`
}

// Deps are the collaborators of a Pipeline. Metrics and Manager are
// optional.
type Deps struct {
	Source     camera.Source
	Detector   detection.Detector
	Calibrator *calibration.Calibrator
	Tracks     *track.Registry
	Zone       *zone.Monitor
	Queue      *dispatch.Queue
	Manager    *camera.Manager
	Metrics    *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used to stamp observations.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline is the perception loop.
type Pipeline struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	results []Result
	onExit  []func(dispatch.ZoneExitEvent)
}

// New creates a pipeline.
func New(cfg Config, deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		deps:  deps,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.deps.Metrics == nil {
		p.deps.Metrics = metrics.New()
	}
	p.logger = log.Or(p.logger, "perception")
	return p
}

// OnExit registers fn to be called for every queued exit event.
// Register before Run.
func (p *Pipeline) OnExit(fn func(dispatch.ZoneExitEvent)) {
	p.mu.Lock()
	p.onExit = append(p.onExit, fn)
	p.mu.Unlock()
}

// Run processes frames until ctx is done or the source ends. It returns
// nil on cancellation and the source error when the stream is over.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("perception loop started")
	defer p.logger.Info("perception loop stopped")

	for {
		frame, err := p.deps.Source.Read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, camera.ErrEOF) || errors.Is(err, camera.ErrClosed) {
				return err
			}
			p.deps.Metrics.ReadErrors.Add(1)
			p.logger.Warn("frame read failed", "error", err)
			if err := clock.Sleep(ctx, p.clock, p.cfg.ReadBackoff); err != nil {
				return nil
			}
			continue
		}

		p.deps.Metrics.FramesRead.Add(1)
		p.Process(frame)
	}
}

// Process runs one frame through detection and tracking.
func (p *Pipeline) Process(frame camera.Frame) []Result {
	started := time.Now()
	if p.deps.Manager != nil {
		p.deps.Manager.Store(frame)
	}

	dets, err := p.deps.Detector.Detect(frame.JPEG)
	if err != nil {
		// a failed frame keeps the previous detection state
		p.deps.Metrics.DetectErrors.Add(1)
		debug.Log("perception: frame %d: detect: %v", frame.Seq, err)
		return p.Results()
	}
	p.deps.Metrics.FramesProcessed.Add(1)
	p.deps.Metrics.Detections.Add(uint64(len(dets)))

	now := p.clock.Now()
	refClass := p.deps.Calibrator.ReferenceClass()

	for _, d := range dets {
		if d.ClassID == refClass {
			if _, ok := p.deps.Calibrator.TryCalibrate(d); ok {
				p.deps.Metrics.Calibrated.Store(1)
			}
		}
	}
	frameT, calibrated := p.deps.Calibrator.Frame()

	results := make([]Result, 0, len(dets))
	best := make(map[string]int, len(dets))
	for _, d := range dets {
		r := Result{
			Entity:     p.cfg.ClassMap.Label(d.ClassID),
			ClassID:    d.ClassID,
			Pixel:      d.Center,
			Angle:      geom.Round2(d.AngleDeg),
			Confidence: d.Confidence,
			Reference:  d.ClassID == refClass,
			At:         now,
		}
		if calibrated {
			w := frameT.ToWorld(d.Center)
			r.World = &w
			r.Angle = frameT.RelativeAngle(d.AngleDeg)
		}
		results = append(results, r)

		if r.Reference {
			continue
		}
		if i, ok := best[r.Entity]; !ok || results[i].Confidence < r.Confidence {
			best[r.Entity] = len(results) - 1
		}
	}

	for entity, i := range best {
		pos := results[i].Pixel
		p.deps.Tracks.Ensure(entity).Observe(pos, now)

		switch p.deps.Zone.Observe(entity, pos) {
		case zone.Exited:
			p.deps.Metrics.ZoneExits.Add(1)
			p.exit(dispatch.NewZoneExitEvent(entity, now))
		case zone.Entered:
			p.deps.Metrics.ZoneEnters.Add(1)
			debug.Log("perception: %s entered zone", entity)
		}
	}
	for _, id := range p.deps.Tracks.IDs() {
		if _, seen := best[id]; seen {
			continue
		}
		if t, ok := p.deps.Tracks.Get(id); ok {
			t.MarkMissing()
		}
	}

	for i := range results {
		results[i].Inside, _ = p.deps.Zone.Inside(results[i].Entity)
	}

	p.mu.Lock()
	p.results = results
	p.mu.Unlock()

	p.deps.Metrics.UpdateProcessLatency(time.Since(started))
	return results
}

func (p *Pipeline) exit(ev dispatch.ZoneExitEvent) {
	p.logger.Info("zone exit", "entity", ev.EntityID, "event", ev.ID)
	p.deps.Queue.Push(ev)

	p.mu.RLock()
	hooks := p.onExit
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// Results returns the detections of the latest processed frame.
func (p *Pipeline) Results() []Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}
