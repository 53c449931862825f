package detection

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-swarm/pkg/geom"
)

// DecodeResult is the output of DecodeOBB before suppression.
type DecodeResult struct {
	Detections []Detection
	Skipped    []error // rows dropped as malformed
}

// DecodeOBB parses a YOLOv8-OBB output tensor laid out channel-major as
// [4 + numClasses + 1][numAnchors]: cx, cy, w, h, one score per class, and
// the box angle in radians. Coordinates are in model input space and are
// multiplied by scaleX/scaleY to get back to frame pixels.
func DecodeOBB(data []float32, numClasses, numAnchors int, threshold float32, scaleX, scaleY float64) (DecodeResult, error) {
	channels := 4 + numClasses + 1
	if numClasses <= 0 || numAnchors <= 0 || len(data) < channels*numAnchors {
		return DecodeResult{}, fmt.Errorf("%w: have %d values, want %dx%d", ErrShape, len(data), channels, numAnchors)
	}

	at := func(c, i int) float32 { return data[c*numAnchors+i] }

	var res DecodeResult
	for i := 0; i < numAnchors; i++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 0; c < numClasses; c++ {
			s := at(4+c, i)
			if s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}

		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		angle := at(4+numClasses, i)

		if !finite(cx, cy, w, h, angle, bestScore) {
			res.Skipped = append(res.Skipped, &DecodeError{Row: i, Reason: "non-finite value"})
			continue
		}
		if w <= 0 || h <= 0 {
			res.Skipped = append(res.Skipped, &DecodeError{Row: i, Reason: "non-positive size"})
			continue
		}

		res.Detections = append(res.Detections, Detection{
			ClassID:    bestClass,
			Center:     geom.Pt(float64(cx)*scaleX, float64(cy)*scaleY),
			Size:       geom.Size{W: float64(w) * scaleX, H: float64(h) * scaleY},
			AngleDeg:   float64(angle) * 180 / math.Pi,
			Confidence: float64(bestScore),
		})
	}
	return res, nil
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
