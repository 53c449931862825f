package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/radio"
)

// SimCube is a Cube that logs and records what it is told. It stands in
// for hardware in cmd/bridge-sim and tests.
type SimCube struct {
	ID     int
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	gone      bool
	left      int
	right     int
	color     radio.Color
	commands  int
}

// NewSimCube creates a simulated cube.
func NewSimCube(id int, logger *slog.Logger) *SimCube {
	return &SimCube{ID: id, logger: log.Or(logger, "sim-cube").With("actuator", id)}
}

// Unplug makes every later command fail as unreachable.
func (s *SimCube) Unplug() {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
}

// Connect implements Cube.
func (s *SimCube) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return ErrCubeGone
	}
	s.connected = true
	s.logger.Info("connected")
	return nil
}

// Motor implements Cube.
func (s *SimCube) Motor(ctx context.Context, left, right int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return ErrCubeGone
	}
	s.left, s.right = left, right
	s.commands++
	s.logger.Debug("motor", "left", left, "right", right)
	return nil
}

// Indicator implements Cube.
func (s *SimCube) Indicator(ctx context.Context, r, g, b uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return ErrCubeGone
	}
	s.color = radio.Color{R: r, G: g, B: b}
	s.commands++
	s.logger.Debug("indicator", "color", s.color.String())
	return nil
}

// SimState is a snapshot of a SimCube.
type SimState struct {
	Connected bool
	Left      int
	Right     int
	Color     radio.Color
	Commands  int
}

// State returns the current simulated state.
func (s *SimCube) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimState{
		Connected: s.connected,
		Left:      s.left,
		Right:     s.right,
		Color:     s.color,
		Commands:  s.commands,
	}
}
