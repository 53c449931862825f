package camera

import (
	"fmt"
	"sync"
)

// Manager caches the latest frame for the snapshot API and the camera
// websocket, and holds the capture config exposed by the status API.
type Manager struct {
	mu     sync.RWMutex
	config Config
	latest Frame
	has    bool
	frames uint64

	onFrame []func(Frame)
}

// NewManager creates a manager for cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Config returns the capture configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ApplyPreset swaps the stored configuration for a named preset. It takes
// effect the next time the source is opened.
func (m *Manager) ApplyPreset(name string) error {
	preset := GetPreset(name)
	if preset == nil {
		return fmt.Errorf("camera: unknown preset: %s", name)
	}
	cfg := *preset
	m.mu.Lock()
	cfg.Device, cfg.File, cfg.Loop = m.config.Device, m.config.File, m.config.Loop
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// OnFrame registers fn to be called with every stored frame. Register
// before frames flow.
func (m *Manager) OnFrame(fn func(Frame)) {
	m.mu.Lock()
	m.onFrame = append(m.onFrame, fn)
	m.mu.Unlock()
}

// Store records f as the latest frame and notifies subscribers.
func (m *Manager) Store(f Frame) {
	m.mu.Lock()
	m.latest = f
	m.has = true
	m.frames++
	hooks := m.onFrame
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(f)
	}
}

// Latest returns the most recent frame.
func (m *Manager) Latest() (Frame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.has
}

// Frames returns how many frames were stored.
func (m *Manager) Frames() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames
}
