// Package zone monitors entities against a circular region in pixel space.
package zone

import (
	"sync"

	"github.com/teslashibe/go-swarm/pkg/geom"
)

// Transition is the result of one observation.
type Transition int

const (
	None Transition = iota
	Entered
	Exited
)

func (t Transition) String() string {
	switch t {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "none"
	}
}

// Circle is the monitored region.
type Circle struct {
	Center geom.Point `json:"center"`
	Radius float64    `json:"radius"`
}

// DefaultCircle returns the ring drawn on the demo mat.
func DefaultCircle() Circle {
	return Circle{Center: geom.Pt(355, 200), Radius: 97}
}

// Contains reports whether p is inside, boundary included.
func (c Circle) Contains(p geom.Point) bool {
	return c.Center.Dist(p) <= c.Radius
}

// Monitor tracks the last known inside/outside state per entity.
// Observations for one entity are expected from a single goroutine; the
// mutex only protects readers such as the status API.
type Monitor struct {
	circle Circle

	mu     sync.RWMutex
	inside map[string]bool
}

// NewMonitor creates a monitor for circle.
func NewMonitor(circle Circle) *Monitor {
	return &Monitor{
		circle: circle,
		inside: make(map[string]bool),
	}
}

// Circle returns the monitored region.
func (m *Monitor) Circle() Circle {
	return m.circle
}

// Observe records p for id and reports the edge, if any. The first
// observation of an entity only records its state.
func (m *Monitor) Observe(id string, p geom.Point) Transition {
	now := m.circle.Contains(p)

	m.mu.Lock()
	was, seen := m.inside[id]
	m.inside[id] = now
	m.mu.Unlock()

	switch {
	case !seen:
		return None
	case was && !now:
		return Exited
	case !was && now:
		return Entered
	default:
		return None
	}
}

// Inside returns the last known state and whether id was ever observed.
func (m *Monitor) Inside(id string) (inside, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inside, known = m.inside[id]
	return inside, known
}

// Reset forgets id so its next observation is treated as the first.
func (m *Monitor) Reset(id string) {
	m.mu.Lock()
	delete(m.inside, id)
	m.mu.Unlock()
}
