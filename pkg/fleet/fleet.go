// Package fleet brings cubes online and owns their control loops.
package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/clock"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/radio"
	"github.com/teslashibe/go-swarm/pkg/track"
)

// Device is a cube handle offered to BringUp.
type Device struct {
	ID   int
	Link radio.Link
}

// Config holds bring-up settings.
type Config struct {
	Stagger         time.Duration // Pause between devices (default 500ms)
	ConnectAttempts int           // Connection attempts per device (default 3)
	ConnectBackoff  time.Duration // Wait n*ConnectBackoff after failed attempt n (default 3s)
	IndicatorSettle time.Duration // Pause after lighting the indicator (default 300ms)
	BlinkCount      int           // Confirmation blinks (default 3)
	BlinkInterval   time.Duration // Off/on half period (default 200ms)
	ShutdownTimeout time.Duration // Budget per device for the shutdown stop

	Actuator actuator.Config
}

// DefaultConfig returns the bring-up settings used on the demo mat.
func DefaultConfig() Config {
	return Config{
		Stagger:         500 * time.Millisecond,
		ConnectAttempts: 3,
		ConnectBackoff:  3 * time.Second,
		IndicatorSettle: 300 * time.Millisecond,
		BlinkCount:      3,
		BlinkInterval:   200 * time.Millisecond,
		ShutdownTimeout: time.Second,
		Actuator:        actuator.DefaultConfig(),
	}
}

// Stats counts routed zone-exit events.
type Stats struct {
	Routed  uint64 `json:"routed"`
	Dropped uint64 `json:"dropped"`
	Active  int    `json:"active"`
	Gone    int    `json:"gone"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock for bring-up waits and control loops.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithActuatorOptions appends options applied to every machine.
func WithActuatorOptions(opts ...actuator.Option) Option {
	return func(co *Coordinator) { co.machineOpts = append(co.machineOpts, opts...) }
}

// Coordinator owns the machines of all initialised cubes.
type Coordinator struct {
	cfg         Config
	tracks      *track.Registry
	clock       clock.Clock
	logger      *slog.Logger
	machineOpts []actuator.Option

	mu           sync.RWMutex
	devices      map[int]Device
	machines     map[int]*actuator.Machine
	byEntity     map[string]*actuator.Machine
	onTransition []func(actuator.Transition)
	cancel       context.CancelFunc
	done         chan struct{}

	routed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a coordinator whose machines follow tracks in reg.
func New(reg *track.Registry, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		tracks:   reg,
		clock:    clock.Real(),
		devices:  make(map[int]Device),
		machines: make(map[int]*actuator.Machine),
		byEntity: make(map[string]*actuator.Machine),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.Or(c.logger, "fleet")
	return c
}

// OnTransition registers fn on every machine created by later BringUp
// calls.
func (c *Coordinator) OnTransition(fn func(actuator.Transition)) {
	c.mu.Lock()
	c.onTransition = append(c.onTransition, fn)
	c.mu.Unlock()
}

// BringUp initialises each device in turn and returns the ids that came
// up. Failed devices are skipped; an empty result is ErrNoActuators.
func (c *Coordinator) BringUp(ctx context.Context, devices []Device) ([]int, error) {
	var ready []Device

	for i, d := range devices {
		if i > 0 {
			if err := clock.Sleep(ctx, c.clock, c.cfg.Stagger); err != nil {
				return nil, err
			}
		}

		err := c.initDevice(ctx, d)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("cube init failed, trying once more", "actuator", d.ID, "error", err)
			err = c.initDevice(ctx, d)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			c.logger.Warn("cube skipped", "actuator", d.ID, "error", err)
			continue
		}
		ready = append(ready, d)
		c.logger.Info("cube initialised", "actuator", d.ID, "color", radio.ColorFor(d.ID).String())
	}

	if len(ready) == 0 {
		return nil, ErrNoActuators
	}

	c.blink(ctx, ready)

	ids := make([]int, 0, len(ready))
	c.mu.Lock()
	for _, d := range ready {
		tr := c.tracks.Ensure(actuator.Entity(d.ID))
		opts := append([]actuator.Option{actuator.WithClock(c.clock)}, c.machineOpts...)
		m := actuator.New(d.ID, d.Link, tr, c.cfg.Actuator, opts...)
		for _, fn := range c.onTransition {
			m.OnTransition(fn)
		}
		c.devices[d.ID] = d
		c.machines[d.ID] = m
		c.byEntity[tr.ID()] = m
		ids = append(ids, d.ID)
	}
	c.mu.Unlock()

	sort.Ints(ids)
	return ids, nil
}

// initDevice connects, lights the indicator and sends a test stop.
func (c *Coordinator) initDevice(ctx context.Context, d Device) error {
	if conn, ok := d.Link.(radio.Connector); ok {
		if err := c.connect(ctx, conn, d.ID); err != nil {
			return err
		}
	}

	if err := d.Link.SetIndicator(ctx, d.ID, radio.ColorFor(d.ID)); err != nil {
		return err
	}
	if err := clock.Sleep(ctx, c.clock, c.cfg.IndicatorSettle); err != nil {
		return err
	}
	return radio.Stop(ctx, d.Link, d.ID)
}

func (c *Coordinator) connect(ctx context.Context, conn radio.Connector, id int) error {
	attempts := max(c.cfg.ConnectAttempts, 1)

	var err error
	for n := 1; n <= attempts; n++ {
		if err = conn.Connect(ctx, id); err == nil {
			return nil
		}
		c.logger.Debug("connect failed", "actuator", id, "attempt", n, "error", err)
		if n < attempts {
			if serr := clock.Sleep(ctx, c.clock, time.Duration(n)*c.cfg.ConnectBackoff); serr != nil {
				return serr
			}
		}
	}
	return err
}

// blink flashes every ready indicator so an operator can confirm which
// cubes came up. Failures are ignored.
func (c *Coordinator) blink(ctx context.Context, ready []Device) {
	for i := 0; i < c.cfg.BlinkCount; i++ {
		for _, d := range ready {
			_ = d.Link.SetIndicator(ctx, d.ID, radio.Off)
		}
		if clock.Sleep(ctx, c.clock, c.cfg.BlinkInterval) != nil {
			return
		}
		for _, d := range ready {
			_ = d.Link.SetIndicator(ctx, d.ID, radio.ColorFor(d.ID))
		}
		if clock.Sleep(ctx, c.clock, c.cfg.BlinkInterval) != nil {
			return
		}
	}
}

// Start launches one control loop per machine.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyStarted
	}
	if len(c.machines) == 0 {
		return ErrNoActuators
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, m := range c.machines {
		wg.Add(1)
		go func(m *actuator.Machine) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				c.logger.Warn("control loop ended", "actuator", m.ID(), "error", err)
			}
		}(m)
	}
	go func() {
		wg.Wait()
		close(c.done)
	}()

	c.logger.Info("fleet started", "actuators", len(c.machines))
	return nil
}

// RouteEvent hands a zone exit to the machine tracking its entity.
// Unknown entities and machines that are not patrolling drop the event.
func (c *Coordinator) RouteEvent(ev dispatch.ZoneExitEvent) bool {
	c.mu.RLock()
	m, ok := c.byEntity[ev.EntityID]
	c.mu.RUnlock()

	if !ok {
		c.dropped.Add(1)
		c.logger.Debug("zone exit for unknown entity", "entity", ev.EntityID)
		return false
	}
	if !m.TriggerZoneRecovery() {
		c.dropped.Add(1)
		c.logger.Debug("zone exit ignored", "actuator", m.ID(), "state", m.State().String())
		return false
	}
	c.routed.Add(1)
	return true
}

// Shutdown cancels every control loop, waits for them to exit, then sends a
// best-effort stop and indicator off to every cube still reachable.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	for _, id := range c.IDs() {
		c.mu.RLock()
		d, m := c.devices[id], c.machines[id]
		c.mu.RUnlock()
		if m.Gone() {
			continue
		}

		sctx, scancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		if err := radio.Stop(sctx, d.Link, id); err != nil {
			errs = append(errs, err)
		}
		if err := d.Link.SetIndicator(sctx, id, radio.Off); err != nil {
			errs = append(errs, err)
		}
		scancel()
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Debug("shutdown commands failed", "error", err)
	}

	c.logger.Info("fleet stopped")
	return nil
}

// IDs returns the initialised actuator ids in order.
func (c *Coordinator) IDs() []int {
	c.mu.RLock()
	ids := make([]int, 0, len(c.machines))
	for id := range c.machines {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Actuator returns the machine for id.
func (c *Coordinator) Actuator(id int) (*actuator.Machine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.machines[id]
	return m, ok
}

// Status returns every machine's status in id order.
func (c *Coordinator) Status() []actuator.Status {
	ids := c.IDs()
	out := make([]actuator.Status, 0, len(ids))
	for _, id := range ids {
		if m, ok := c.Actuator(id); ok {
			out = append(out, m.Status())
		}
	}
	return out
}

// Stats returns routing counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		Routed:  c.routed.Load(),
		Dropped: c.dropped.Load(),
	}
	for _, st := range c.Status() {
		if st.Gone {
			s.Gone++
		} else {
			s.Active++
		}
	}
	return s
}
