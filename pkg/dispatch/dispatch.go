// Package dispatch carries zone-exit events from the perception loop to the
// fleet coordinator.
//
// The queue is bounded. When it is full the oldest event is dropped: exits
// are edge triggered, so a missed one is corrected by the next exit.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-swarm/internal/log"
)

// DefaultCapacity is the queue bound used when none is configured.
const DefaultCapacity = 64

// ZoneExitEvent reports that an entity left the zone.
type ZoneExitEvent struct {
	ID       string    `json:"id"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

// NewZoneExitEvent stamps a new event with a unique id.
func NewZoneExitEvent(entityID string, at time.Time) ZoneExitEvent {
	return ZoneExitEvent{
		ID:       uuid.NewString(),
		EntityID: entityID,
		At:       at,
	}
}

// Handler consumes one event.
type Handler func(ZoneExitEvent)

// Stats are queue counters since creation.
type Stats struct {
	Pushed    uint64 `json:"pushed"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}

// Queue is a bounded FIFO with many producers and one consumer.
type Queue struct {
	ch     chan ZoneExitEvent
	mu     sync.Mutex // serializes producers so drop-then-push is atomic
	logger *slog.Logger

	pushed    atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:     make(chan ZoneExitEvent, capacity),
		logger: log.Or(logger, "dispatch"),
	}
}

// Push enqueues ev without blocking. It returns true if an older event was
// dropped to make room.
func (q *Queue) Push(ev ZoneExitEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	for {
		select {
		case q.ch <- ev:
			q.pushed.Add(1)
			return dropped
		default:
		}

		select {
		case old := <-q.ch:
			dropped = true
			q.dropped.Add(1)
			q.logger.Warn("queue full, dropped oldest event",
				"dropped_entity", old.EntityID,
				"dropped_id", old.ID)
		default:
			// consumer drained it in between; retry the push
		}
	}
}

// Run delivers events to h in FIFO order until ctx is done.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-q.ch:
			q.delivered.Add(1)
			h(ev)
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:    q.pushed.Load(),
		Dropped:   q.dropped.Load(),
		Delivered: q.delivered.Load(),
		Queued:    len(q.ch),
		Capacity:  cap(q.ch),
	}
}
