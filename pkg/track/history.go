package track

import (
	"time"

	"github.com/teslashibe/go-swarm/pkg/geom"
)

// Sample is one timestamped position.
type Sample struct {
	At  time.Time
	Pos geom.Point
}

// History is a time-windowed sequence of samples, oldest first.
// It is not safe for concurrent use; Track guards it.
type History struct {
	window  time.Duration
	samples []Sample
}

// NewHistory keeps samples no older than window.
func NewHistory(window time.Duration) *History {
	return &History{window: window}
}

// Add appends a sample and drops the ones that fell out of the window.
func (h *History) Add(at time.Time, p geom.Point) {
	h.samples = append(h.samples, Sample{At: at, Pos: p})
	h.prune(at)
}

func (h *History) prune(now time.Time) {
	cut := 0
	for cut < len(h.samples) && now.Sub(h.samples[cut].At) > h.window {
		cut++
	}
	if cut > 0 {
		h.samples = append(h.samples[:0], h.samples[cut:]...)
	}
}

// Len returns the number of samples in the window.
func (h *History) Len() int {
	return len(h.samples)
}

// Span returns the time between the oldest and newest sample.
func (h *History) Span() time.Duration {
	if len(h.samples) < 2 {
		return 0
	}
	return h.samples[len(h.samples)-1].At.Sub(h.samples[0].At)
}

// Spread returns the maximum pairwise distance among the samples.
func (h *History) Spread() float64 {
	max := 0.0
	for i := 0; i < len(h.samples); i++ {
		for j := i + 1; j < len(h.samples); j++ {
			if d := h.samples[i].Pos.Dist(h.samples[j].Pos); d > max {
				max = d
			}
		}
	}
	return max
}

// Reset drops every sample.
func (h *History) Reset() {
	h.samples = h.samples[:0]
}
