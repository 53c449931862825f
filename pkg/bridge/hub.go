// Package bridge links the coordinator to cubes over websockets.
//
// Each cube is driven by a bridge agent: a small process next to a BLE
// adapter that connects to the Hub at /ws/bridge/:id and relays commands
// to its cube. The Hub implements radio.Link and radio.Connector, so the
// fleet does not know which transport it is talking to.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/protocol"
	"github.com/teslashibe/go-swarm/pkg/radio"
)

// Config holds hub timeouts.
type Config struct {
	CommandTimeout time.Duration // Wait for an ack (default 2s)
	ConnectTimeout time.Duration // Wait for the agent to appear on Connect (default 5s)
}

// DefaultConfig returns the default timeouts.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 2 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// agentConn is a connected bridge agent.
type agentConn struct {
	cubeID       int
	conn         *websocket.Conn
	connected    time.Time
	writeTimeout time.Duration

	writeMu sync.Mutex // serializes writes only

	mu       sync.Mutex // guards the fields below
	agentID  string
	lastSeen time.Time
	pending  map[uint64]chan protocol.AckData
}

func (a *agentConn) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeTimeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	}
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *agentConn) await(seq uint64) chan protocol.AckData {
	ch := make(chan protocol.AckData, 1)
	a.mu.Lock()
	a.pending[seq] = ch
	a.mu.Unlock()
	return ch
}

func (a *agentConn) forget(seq uint64) {
	a.mu.Lock()
	delete(a.pending, seq)
	a.mu.Unlock()
}

func (a *agentConn) resolve(ack protocol.AckData) bool {
	a.mu.Lock()
	ch, ok := a.pending[ack.Seq]
	delete(a.pending, ack.Seq)
	a.mu.Unlock()
	if ok {
		ch <- ack
	}
	return ok
}

// failAll answers every outstanding command as unreachable.
func (a *agentConn) failAll() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[uint64]chan protocol.AckData)
	a.mu.Unlock()
	for seq, ch := range pending {
		ch <- protocol.AckData{Seq: seq, Unreachable: true, Error: "agent disconnected"}
	}
}

// AgentInfo describes a connected agent.
type AgentInfo struct {
	CubeID    int       `json:"cube_id"`
	AgentID   string    `json:"agent_id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// Stats contains hub statistics
type Stats struct {
	Agents           int    `json:"agents"`
	MessagesReceived uint64 `json:"messages_received"`
	CommandsSent     uint64 `json:"commands_sent"`
	AcksReceived     uint64 `json:"acks_received"`
	Timeouts         uint64 `json:"timeouts"`
}

// Hub manages websocket connections from bridge agents.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	seq    atomic.Uint64

	mu      sync.RWMutex
	agents  map[int]*agentConn
	changed chan struct{} // closed and replaced whenever an agent registers

	messagesReceived atomic.Uint64
	commandsSent     atomic.Uint64
	acksReceived     atomic.Uint64
	timeouts         atomic.Uint64
}

// NewHub creates a hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  log.Or(logger, "bridge"),
		agents:  make(map[int]*agentConn),
		changed: make(chan struct{}),
	}
}

// RegisterRoutes mounts the agent endpoint on app.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws/bridge", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/bridge/:id", websocket.New(h.handleAgent))
}

// RegisterAPIRoutes mounts agent inspection routes on api.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	g := api.Group("/bridge")

	g.Get("/agents", func(c *fiber.Ctx) error {
		infos := h.Agents()
		return c.JSON(fiber.Map{"agents": infos, "count": len(infos)})
	})

	g.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.Stats())
	})
}

func (h *Hub) handleAgent(c *websocket.Conn) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil || id < 0 {
		h.logger.Warn("agent with invalid cube id", "id", c.Params("id"))
		c.Close()
		return
	}

	now := time.Now()
	a := &agentConn{
		cubeID:       id,
		conn:         c,
		connected:    now,
		writeTimeout: h.cfg.CommandTimeout,
		lastSeen:     now,
		pending:      make(map[uint64]chan protocol.AckData),
	}

	h.mu.Lock()
	old := h.agents[id]
	h.agents[id] = a
	close(h.changed)
	h.changed = make(chan struct{})
	count := len(h.agents)
	h.mu.Unlock()

	if old != nil {
		h.logger.Warn("agent replaced", "actuator", id)
		old.conn.Close()
	}
	h.logger.Info("agent connected", "actuator", id, "agents", count)

	defer func() {
		h.mu.Lock()
		if h.agents[id] == a {
			delete(h.agents, id)
		}
		count := len(h.agents)
		h.mu.Unlock()

		a.failAll()
		h.logger.Info("agent disconnected", "actuator", id, "agents", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("agent read error", "actuator", id, "error", err)
			return
		}

		a.mu.Lock()
		a.lastSeen = time.Now()
		a.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(a, data)
	}
}

func (h *Hub) handleMessage(a *agentConn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse error", "actuator", a.cubeID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeAck:
		ack, err := protocol.Decode[protocol.AckData](msg)
		if err != nil {
			return
		}
		h.acksReceived.Add(1)
		if !a.resolve(*ack) {
			h.logger.Debug("late ack", "actuator", a.cubeID, "seq", ack.Seq)
		}

	case protocol.TypeHello:
		hello, err := protocol.Decode[protocol.HelloData](msg)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.agentID = hello.AgentID
		a.mu.Unlock()
		if hello.CubeID != a.cubeID {
			h.logger.Warn("agent hello names another cube", "actuator", a.cubeID, "hello", hello.CubeID)
		}

	case protocol.TypePing:
		ping, _ := protocol.Decode[protocol.PingData](msg)
		pid := ""
		if ping != nil {
			pid = ping.ID
		}
		pong, err := protocol.NewPongMessage(pid, msg.Timestamp, time.Now().UnixMilli())
		if err == nil {
			_ = a.send(pong)
		}
	}
}

func (h *Hub) agent(id int) *agentConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.agents[id]
}

// waitAgent blocks until an agent for id is connected or ctx is done.
func (h *Hub) waitAgent(ctx context.Context, id int) (*agentConn, error) {
	for {
		h.mu.RLock()
		a, changed := h.agents[id], h.changed
		h.mu.RUnlock()
		if a != nil {
			return a, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// request sends a command built for a fresh sequence number and waits for
// its ack.
func (h *Hub) request(ctx context.Context, a *agentConn, op string, build func(seq uint64) (*protocol.Message, error)) error {
	id := a.cubeID
	seq := h.seq.Add(1)
	msg, err := build(seq)
	if err != nil {
		return &radio.LinkError{ActuatorID: id, Op: op, Err: err}
	}

	ch := a.await(seq)
	defer a.forget(seq)

	if err := a.send(msg); err != nil {
		return &radio.LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: %v", radio.ErrUnreachable, err)}
	}
	h.commandsSent.Add(1)

	timer := time.NewTimer(h.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		switch {
		case ack.Unreachable:
			return &radio.LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: %s", radio.ErrUnreachable, ack.Error)}
		case !ack.OK:
			return &radio.LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: %s", radio.ErrRejected, ack.Error)}
		}
		return nil
	case <-timer.C:
		h.timeouts.Add(1)
		return &radio.LinkError{ActuatorID: id, Op: op, Err: ErrAckTimeout}
	case <-ctx.Done():
		return &radio.LinkError{ActuatorID: id, Op: op, Err: ctx.Err()}
	}
}

// SetWheelSpeeds implements radio.Link. A cube without an agent is
// unreachable.
func (h *Hub) SetWheelSpeeds(ctx context.Context, id, left, right int) error {
	a := h.agent(id)
	if a == nil {
		return &radio.LinkError{ActuatorID: id, Op: "motor", Err: radio.ErrUnreachable}
	}
	left, right = radio.ClampSpeed(left), radio.ClampSpeed(right)
	return h.request(ctx, a, "motor", func(seq uint64) (*protocol.Message, error) {
		return protocol.NewMotorMessage(seq, left, right)
	})
}

// SetIndicator implements radio.Link.
func (h *Hub) SetIndicator(ctx context.Context, id int, c radio.Color) error {
	a := h.agent(id)
	if a == nil {
		return &radio.LinkError{ActuatorID: id, Op: "indicator", Err: radio.ErrUnreachable}
	}
	return h.request(ctx, a, "indicator", func(seq uint64) (*protocol.Message, error) {
		return protocol.NewIndicatorMessage(seq, c.R, c.G, c.B)
	})
}

// Connect implements radio.Connector: it waits for the agent of cube id to
// join, then asks it to connect to its cube.
func (h *Hub) Connect(ctx context.Context, id int) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
	a, err := h.waitAgent(wctx, id)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return &radio.LinkError{ActuatorID: id, Op: "connect", Err: ctx.Err()}
		}
		return &radio.LinkError{ActuatorID: id, Op: "connect", Err: radio.ErrUnreachable}
	}
	return h.request(ctx, a, "connect", func(seq uint64) (*protocol.Message, error) {
		return protocol.NewConnectMessage(seq)
	})
}

// Connected reports whether an agent for id is attached.
func (h *Hub) Connected(id int) bool {
	return h.agent(id) != nil
}

// AgentCount returns the number of connected agents.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Agents returns the connected agents in cube order.
func (h *Hub) Agents() []AgentInfo {
	h.mu.RLock()
	agents := make([]*agentConn, 0, len(h.agents))
	for _, a := range h.agents {
		agents = append(agents, a)
	}
	h.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		a.mu.Lock()
		infos = append(infos, AgentInfo{
			CubeID:    a.cubeID,
			AgentID:   a.agentID,
			Connected: a.connected,
			LastSeen:  a.lastSeen,
		})
		a.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CubeID < infos[j].CubeID })
	return infos
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	return Stats{
		Agents:           h.AgentCount(),
		MessagesReceived: h.messagesReceived.Load(),
		CommandsSent:     h.commandsSent.Load(),
		AcksReceived:     h.acksReceived.Load(),
		Timeouts:         h.timeouts.Load(),
	}
}

var (
	_ radio.Link      = (*Hub)(nil)
	_ radio.Connector = (*Hub)(nil)
)
