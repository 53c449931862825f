// Package detection adapts an oriented-box object detector to the swarm.
//
// The model itself is a black box: a frame goes in, a list of oriented
// boxes with class and confidence comes out. Everything downstream works on
// the Detection type defined here.
package detection

import (
	"github.com/teslashibe/go-swarm/pkg/geom"
)

// Detection is one oriented box produced for one frame.
type Detection struct {
	ClassID    int        `json:"class_id"`
	Center     geom.Point `json:"center"`
	Size       geom.Size  `json:"size"`
	AngleDeg   float64    `json:"angle"`
	Confidence float64    `json:"conf"`
}

// Detector is the interface for detection backends.
type Detector interface {
	// Detect runs the model on a JPEG-encoded frame. The returned slice is
	// owned by the caller and may be empty.
	Detect(frame []byte) ([]Detection, error)

	// Close releases resources
	Close() error
}

// Config holds detector configuration
type Config struct {
	ModelPath     string  // Path to ONNX model exported with obb head
	InputSize     int     // Square model input (default 640)
	ConfThreshold float32 // Minimum class score (default 0.5)
	NMSThreshold  float32 // IoU threshold for suppression
	NumClasses    int     // Classes the model was trained with
}

// DefaultConfig returns the settings the cube model was trained for.
func DefaultConfig() Config {
	return Config{
		ModelPath:     "models/cube-obb.onnx",
		InputSize:     640,
		ConfThreshold: 0.5,
		NMSThreshold:  0.45,
		NumClasses:    6,
	}
}

// Filter returns the detections whose class is in keep.
func Filter(dets []Detection, keep map[int]bool) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if keep[d.ClassID] {
			out = append(out, d)
		}
	}
	return out
}

// Best returns the highest-confidence detection of class, if any.
func Best(dets []Detection, class int) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range dets {
		if d.ClassID != class {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}
