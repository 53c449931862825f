package swarm

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"time"

	"github.com/teslashibe/go-swarm/internal/config"
	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/geom"
)

// SceneSource returns a source yielding a blank mat at the camera rate.
func SceneSource(cfg camera.Config) (camera.Source, error) {
	img := image.NewGray(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 200}}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.Quality}); err != nil {
		return nil, err
	}

	interval := time.Second / 30
	if cfg.Framerate > 0 {
		interval = time.Second / time.Duration(cfg.Framerate)
	}
	return camera.NewStatic(buf.Bytes(), image.Pt(cfg.Width, cfg.Height), interval), nil
}

// SceneDetector returns a detector that sees the reference marker and
// every configured actuator spaced around the zone centre.
func SceneDetector(cfg *config.Config) detection.Detector {
	circle := cfg.Circle()
	cal := cfg.CalibrationConfig()
	classes := cfg.ClassMap()

	dets := []detection.Detection{{
		ClassID:    cal.ReferenceClass,
		Center:     geom.Pt(circle.Center.X-circle.Radius-2*cal.ReferenceWidth, circle.Center.Y),
		Size:       geom.Size{W: cal.ReferenceWidth, H: cal.ReferenceWidth},
		Confidence: 0.95,
	}}

	n := len(cfg.Actuators.IDs)
	for i, id := range cfg.Actuators.IDs {
		class, ok := ClassFor(classes, actuator.Entity(id), cfg.Detector.NumClasses)
		if !ok {
			continue
		}
		a := 2 * math.Pi * float64(i) / float64(n)
		dets = append(dets, detection.Detection{
			ClassID:    class,
			Center:     geom.Pt(circle.Center.X+circle.Radius/2*math.Cos(a), circle.Center.Y+circle.Radius/2*math.Sin(a)),
			Size:       geom.Size{W: 24, H: 24},
			AngleDeg:   a * 180 / math.Pi,
			Confidence: 0.9,
		})
	}
	return detection.NewMock(dets)
}

// ClassFor returns the detector class that is relabelled to entity.
func ClassFor(m detection.ClassMap, entity string, numClasses int) (int, bool) {
	for c := 0; c < numClasses; c++ {
		if m.Label(c) == entity {
			return c, true
		}
	}
	return 0, false
}
