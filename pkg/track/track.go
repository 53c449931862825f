// Package track holds per-entity tracking state shared between the
// perception loop (single writer) and the actuator control loops (readers).
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-swarm/pkg/geom"
)

// DefaultWindow is how long position samples are kept.
const DefaultWindow = 8 * time.Second

// Snapshot is a consistent copy of a track's state.
type Snapshot struct {
	ID           string
	Pos          geom.Point
	LastSeen     time.Time // zero if never seen
	Detected     bool      // seen in the most recent frame
	ReacquiredAt time.Time // last not-detected to detected edge
	Samples      int
	Span         time.Duration
	Spread       float64
}

// Seen reports whether the entity was ever detected.
func (s Snapshot) Seen() bool {
	return !s.LastSeen.IsZero()
}

// Track is the state of one entity.
type Track struct {
	id string

	mu           sync.Mutex
	pos          geom.Point
	lastSeen     time.Time
	detected     bool
	reacquiredAt time.Time
	history      *History
}

// New creates an empty track.
func New(id string, window time.Duration) *Track {
	return &Track{id: id, history: NewHistory(window)}
}

// ID returns the entity id.
func (t *Track) ID() string {
	return t.id
}

// Observe records a detection at p.
func (t *Track) Observe(p geom.Point, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.detected {
		t.reacquiredAt = at
	}
	t.detected = true
	t.pos = p
	t.lastSeen = at
	t.history.Add(at, p)
}

// MarkMissing records that the latest frame had no detection.
func (t *Track) MarkMissing() {
	t.mu.Lock()
	t.detected = false
	t.mu.Unlock()
}

// ResetHistory drops the position samples.
func (t *Track) ResetHistory() {
	t.mu.Lock()
	t.history.Reset()
	t.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (t *Track) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		ID:           t.id,
		Pos:          t.pos,
		LastSeen:     t.lastSeen,
		Detected:     t.detected,
		ReacquiredAt: t.reacquiredAt,
		Samples:      t.history.Len(),
		Span:         t.history.Span(),
		Spread:       t.history.Spread(),
	}
}

// Registry owns every track, created lazily on first use.
type Registry struct {
	window time.Duration

	mu     sync.RWMutex
	tracks map[string]*Track
}

// NewRegistry creates a registry whose tracks keep window of history.
func NewRegistry(window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Registry{
		window: window,
		tracks: make(map[string]*Track),
	}
}

// Ensure returns the track for id, creating it if needed.
func (r *Registry) Ensure(id string) *Track {
	r.mu.RLock()
	t, ok := r.tracks[id]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tracks[id]; ok {
		return t
	}
	t = New(id, r.window)
	r.tracks[id] = t
	return t
}

// Get returns the track for id if it exists.
func (r *Registry) Get(id string) (*Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[id]
	return t, ok
}

// IDs returns the known entity ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots returns a snapshot of every track in id order.
func (r *Registry) Snapshots() []Snapshot {
	ids := r.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.Get(id); ok {
			out = append(out, t.Snapshot())
		}
	}
	return out
}
