// Package actuator runs the per-cube behavior state machine.
//
// Each Machine owns one cube. Its control loop reads the cube's track
// (written by the perception loop), decides on recovery, and issues wheel
// commands through the radio link. A zone-exit request from the
// dispatcher is the only state change made from outside the loop.
package actuator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/clock"
	"github.com/teslashibe/go-swarm/pkg/debug"
	"github.com/teslashibe/go-swarm/pkg/radio"
	"github.com/teslashibe/go-swarm/pkg/recovery"
	"github.com/teslashibe/go-swarm/pkg/track"
)

// Config holds control loop settings.
type Config struct {
	Recovery           recovery.Config
	Personalities      map[int]Personality
	DefaultPersonality Personality

	IdleInterval time.Duration // Poll rate while not patrolling (default 100ms)
	ErrorBackoff time.Duration // Pause after a failed command (default 1s)
	StopTimeout  time.Duration // Budget for the final stop command
}

// DefaultConfig returns the control settings used on the demo mat.
func DefaultConfig() Config {
	return Config{
		Recovery:           recovery.DefaultConfig(),
		Personalities:      DefaultPersonalities(),
		DefaultPersonality: DefaultPersonality(),
		IdleInterval:       100 * time.Millisecond,
		ErrorBackoff:       time.Second,
		StopTimeout:        500 * time.Millisecond,
	}
}

// Personality returns the personality for actuator id.
func (c Config) Personality(id int) Personality {
	if p, ok := c.Personalities[id]; ok {
		return p
	}
	return c.DefaultPersonality
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithRand seeds the patrol and nudge randomness.
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// Machine is the state machine of one cube.
type Machine struct {
	id       int
	link     radio.Link
	track    *track.Track
	cfg      Config
	detector *recovery.Detector
	persona  Personality
	clock    clock.Clock
	rng      *rand.Rand
	logger   *slog.Logger

	mu             sync.RWMutex
	state          State
	startedAt      time.Time
	lastCommandAt  time.Time
	lastRecoveryAt time.Time
	zoneManeuvers  uint64
	recoveries     uint64
	errors         uint64
	gone           bool
	goneErr        error
	onTransition   []func(Transition)

	zoneReq chan struct{}
}

// New creates a machine for cube id following tr.
func New(id int, link radio.Link, tr *track.Track, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		id:      id,
		link:    link,
		track:   tr,
		cfg:     cfg,
		persona: cfg.Personality(id),
		clock:   clock.Real(),
		state:   Idle,
		zoneReq: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id)))
	}
	m.logger = log.Or(m.logger, "actuator").With("actuator", id)
	m.detector = recovery.New(cfg.Recovery, m.logger)
	return m
}

// ID returns the cube id.
func (m *Machine) ID() int {
	return m.id
}

// OnTransition registers fn to be called after every state change.
// Register before Run.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.onTransition = append(m.onTransition, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Gone reports whether the loop exited on a severed link.
func (m *Machine) Gone() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gone
}

// Status returns a snapshot for the status API.
func (m *Machine) Status() Status {
	snap := m.track.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		ID:             m.id,
		Entity:         m.track.ID(),
		State:          m.state,
		Detected:       snap.Detected,
		LastCommandAt:  m.lastCommandAt,
		LastRecoveryAt: m.lastRecoveryAt,
		ZoneManeuvers:  m.zoneManeuvers,
		Recoveries:     m.recoveries,
		Errors:         m.errors,
		Gone:           m.gone,
	}
	if m.goneErr != nil {
		s.Err = m.goneErr.Error()
	}
	return s
}

// TriggerZoneRecovery requests the zone maneuver. It only succeeds while
// patrolling; a request during any other state, including a zone maneuver
// already under way, is ignored and returns false.
func (m *Machine) TriggerZoneRecovery() bool {
	if !m.transition(Patrolling, ZoneRecoveryManeuver, "zone exit") {
		return false
	}
	select {
	case m.zoneReq <- struct{}{}:
	default:
	}
	return true
}

// transition moves from -> to if the machine is in from.
func (m *Machine) transition(from, to State, reason string) bool {
	m.mu.Lock()
	if m.state != from || m.gone {
		m.mu.Unlock()
		return false
	}
	m.state = to
	hooks := m.onTransition
	m.mu.Unlock()

	tr := Transition{ActuatorID: m.id, From: from, To: to, Reason: reason, At: m.clock.Now()}
	m.logger.Info("state change", "from", from.String(), "to", to.String(), "reason", reason)
	for _, fn := range hooks {
		fn(tr)
	}
	return true
}

// start puts the machine into Patrolling. Recovery stays gated for
// Recovery.Warmup from here while the camera pipeline settles.
func (m *Machine) start() {
	now := m.clock.Now()
	m.mu.Lock()
	m.startedAt = now
	m.mu.Unlock()
	m.transition(Idle, Patrolling, "start")
}

// Run drives the control loop until ctx is done or the link is severed.
// It returns nil on cancellation and the link error when the cube is gone.
func (m *Machine) Run(ctx context.Context) error {
	m.start()
	defer m.finish()

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := m.tick(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if radio.IsTerminal(err) {
			m.mu.Lock()
			m.gone = true
			m.goneErr = err
			m.mu.Unlock()
			m.logger.Warn("link severed, control loop exiting", "error", err)
			return err
		}

		m.mu.Lock()
		m.errors++
		m.mu.Unlock()
		m.logger.Warn("command failed", "error", err)
		if err := clock.Sleep(ctx, m.clock, m.cfg.ErrorBackoff); err != nil {
			return nil
		}
	}
}

// finish issues the final stop and returns to Idle.
func (m *Machine) finish() {
	if !m.Gone() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StopTimeout)
		if err := radio.Stop(ctx, m.link, m.id); err != nil {
			m.logger.Debug("final stop failed", "error", err)
		}
		cancel()
	}

	m.mu.Lock()
	from := m.state
	m.state = Idle
	m.mu.Unlock()
	if from != Idle {
		m.logger.Info("control loop stopped", "from", from.String())
	}
}

// tick runs one control iteration.
func (m *Machine) tick(ctx context.Context) error {
	state := m.State()

	if state == ZoneRecoveryManeuver {
		select {
		case <-m.zoneReq:
		default:
		}
		return m.runZone(ctx)
	}

	snap := m.track.Snapshot()
	now := m.clock.Now()

	if state == Lost && snap.Detected {
		if m.transition(Lost, Patrolling, "detection resumed") {
			m.detector.Reset()
			m.track.ResetHistory()
			state = Patrolling
		}
	}

	m.mu.RLock()
	in := recovery.Input{
		Now:          now,
		Track:        snap,
		Since:        m.startedAt,
		Patrolling:   state == Patrolling,
		LastRecovery: m.lastRecoveryAt,
	}
	m.mu.RUnlock()

	if state == Patrolling || state == Lost {
		if v := m.detector.Evaluate(in); v != recovery.None {
			if v == recovery.Stuck {
				m.track.ResetHistory()
			}
			if m.transition(state, StuckRecoveryManeuver, v.String()) {
				return m.runRecovery(ctx)
			}
			// lost a race with a zone request
			return nil
		}
	}

	if state == Patrolling && !snap.Detected && in.Gap() > m.cfg.Recovery.LostGrace {
		if m.transition(Patrolling, Lost, "detection gap") {
			return m.command(ctx, 0, 0)
		}
		return nil
	}

	if state == Patrolling && snap.Detected {
		mv := m.persona.Next(m.rng)
		// a zone request may have landed since state was read
		if m.State() != Patrolling {
			return nil
		}
		if err := m.command(ctx, mv.Left, mv.Right); err != nil {
			return err
		}
		m.wait(ctx, mv.Hold)
		return nil
	}

	m.wait(ctx, m.cfg.IdleInterval)
	return nil
}

// wait blocks for d, waking early on cancellation or a zone request. Run
// notices either on its next iteration.
func (m *Machine) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-m.zoneReq:
	case <-m.clock.After(d):
	}
}

func (m *Machine) command(ctx context.Context, left, right int) error {
	if err := m.link.SetWheelSpeeds(ctx, m.id, left, right); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastCommandAt = m.clock.Now()
	m.mu.Unlock()
	debug.TrackLog("cube %d: wheels %d,%d [%s]", m.id, left, right, m.State())
	return nil
}

// errInterrupted marks a maneuver cut short by resumed detection.
var errInterrupted = errors.New("actuator: maneuver interrupted")

// runManeuver issues each step, checking ctx and interrupt only between
// sub-steps so a wheel command is never split.
func (m *Machine) runManeuver(ctx context.Context, mv Maneuver, interrupt func() bool) error {
	for _, step := range mv.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.command(ctx, step.Left, step.Right); err != nil {
			return err
		}
		for i := 0; i < step.repeats(); i++ {
			if step.Interruptible && interrupt != nil && interrupt() {
				return errInterrupted
			}
			if err := clock.Sleep(ctx, m.clock, step.Hold); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Machine) runZone(ctx context.Context) error {
	m.mu.Lock()
	m.zoneManeuvers++
	m.mu.Unlock()

	err := m.runManeuver(ctx, ZoneManeuver(), nil)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.transition(ZoneRecoveryManeuver, Patrolling, "maneuver complete")
	return err
}

func (m *Machine) runRecovery(ctx context.Context) error {
	started := m.clock.Now()
	resumed := func() bool {
		s := m.track.Snapshot()
		return s.Detected && s.ReacquiredAt.After(started)
	}

	err := m.runManeuver(ctx, RecoveryManeuver(m.rng.IntN(2) == 0), resumed)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reason := "maneuver complete"
	if errors.Is(err, errInterrupted) {
		reason = "detection resumed"
		err = m.command(ctx, 0, 0)
	}

	m.mu.Lock()
	m.lastRecoveryAt = m.clock.Now()
	m.recoveries++
	m.mu.Unlock()
	m.detector.Reset()
	m.track.ResetHistory()

	m.transition(StuckRecoveryManeuver, Patrolling, reason)
	return err
}

// Entity returns the entity id a cube id is tracked under.
func Entity(id int) string {
	return strconv.Itoa(id)
}
