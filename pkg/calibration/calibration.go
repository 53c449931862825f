// Package calibration establishes the pixel-to-world coordinate frame.
//
// The first confident sighting of the reference marker fixes the origin,
// the rotation and the scale for the rest of the session. Later sightings
// are ignored.
package calibration

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/geom"
)

// ErrNotCalibrated is returned by conversions before the marker was seen.
var ErrNotCalibrated = errors.New("calibration: frame not yet available")

// Config holds calibration parameters.
type Config struct {
	ReferenceClass int     // detector class of the marker
	ReferenceWidth float64 // marker width in world units
	MinConfidence  float64 // ignore weaker marker sightings
	Clamp          float64 // world coordinates are clamped to [-Clamp, Clamp]
}

// DefaultConfig returns the mat layout used on the demo table.
func DefaultConfig() Config {
	return Config{
		ReferenceClass: 5,
		ReferenceWidth: 50.0,
		MinConfidence:  0.5,
		Clamp:          25.0,
	}
}

// World is a position in the robot-centric frame.
type World struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Frame is the immutable pixel-to-world transform.
type Frame struct {
	Origin   geom.Point
	Rotation *mat.Dense // 2x2, rotation by -reference angle
	Scale    float64
	AngleDeg float64 // reference marker orientation
	clamp    float64
}

func newFrame(d detection.Detection, cfg Config) *Frame {
	rad := -d.AngleDeg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return &Frame{
		Origin:   d.Center,
		Rotation: mat.NewDense(2, 2, []float64{c, -s, s, c}),
		Scale:    cfg.ReferenceWidth / d.Size.W,
		AngleDeg: d.AngleDeg,
		clamp:    cfg.Clamp,
	}
}

// ToWorld maps a pixel position into the frame, clamping each axis and
// rounding to two decimals.
func (f *Frame) ToWorld(p geom.Point) World {
	v := p.Sub(f.Origin)
	var out mat.VecDense
	out.MulVec(f.Rotation, mat.NewVecDense(2, []float64{v.X, v.Y}))
	out.ScaleVec(f.Scale, &out)

	return World{
		X: geom.Round2(geom.Clamp(out.AtVec(0), -f.clamp, f.clamp)),
		Z: geom.Round2(geom.Clamp(out.AtVec(1), -f.clamp, f.clamp)),
	}
}

// RelativeAngle returns deg measured against the marker orientation.
func (f *Frame) RelativeAngle(deg float64) float64 {
	return geom.Round2(deg - f.AngleDeg)
}

// Calibrator publishes the Frame exactly once.
type Calibrator struct {
	cfg    Config
	once   sync.Once
	frame  atomic.Pointer[Frame]
	logger *slog.Logger
}

// New creates a calibrator. A nil logger uses the component logger.
func New(cfg Config, logger *slog.Logger) *Calibrator {
	return &Calibrator{cfg: cfg, logger: log.Or(logger, "calibration")}
}

// TryCalibrate considers d as the reference marker. It returns the frame
// and true when d established it; every later call returns nil, false.
func (c *Calibrator) TryCalibrate(d detection.Detection) (*Frame, bool) {
	if d.ClassID != c.cfg.ReferenceClass || d.Confidence < c.cfg.MinConfidence || d.Size.W <= 0 {
		return nil, false
	}
	if c.frame.Load() != nil {
		return nil, false
	}

	var established *Frame
	c.once.Do(func() {
		established = newFrame(d, c.cfg)
		c.frame.Store(established)
		c.logger.Info("coordinate frame established",
			"origin_x", d.Center.X,
			"origin_y", d.Center.Y,
			"angle", d.AngleDeg,
			"scale", established.Scale)
	})
	return established, established != nil
}

// Frame returns the published frame, if any.
func (c *Calibrator) Frame() (*Frame, bool) {
	f := c.frame.Load()
	return f, f != nil
}

// Calibrated reports whether the frame exists.
func (c *Calibrator) Calibrated() bool {
	return c.frame.Load() != nil
}

// ToWorld converts p, or returns ErrNotCalibrated.
func (c *Calibrator) ToWorld(p geom.Point) (World, error) {
	f := c.frame.Load()
	if f == nil {
		return World{}, ErrNotCalibrated
	}
	return f.ToWorld(p), nil
}

// ReferenceClass returns the configured marker class.
func (c *Calibrator) ReferenceClass() int {
	return c.cfg.ReferenceClass
}
