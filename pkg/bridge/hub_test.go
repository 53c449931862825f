package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-swarm/pkg/protocol"
	"github.com/teslashibe/go-swarm/pkg/radio"
)

func startHub(t *testing.T, port int, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	go app.Listen(fmt.Sprintf(":%d", port))
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)

	return hub, fmt.Sprintf("ws://localhost:%d", port)
}

func startAgent(t *testing.T, base string, id int) (*SimCube, context.CancelFunc) {
	t.Helper()
	cube := NewSimCube(id, nil)
	ctx, cancel := context.WithCancel(context.Background())
	agent, err := Dial(ctx, base, id, cube, nil)
	require.NoError(t, err)
	go agent.Run(ctx)
	t.Cleanup(cancel)
	return cube, cancel
}

func TestBridgeURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"ws://localhost:9097", "ws://localhost:9097/ws/bridge/2", false},
		{"http://host:9097/", "ws://host:9097/ws/bridge/2", false},
		{"https://host", "wss://host/ws/bridge/2", false},
		{"ftp://host", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := BridgeURL(tt.base, 2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHub_RelaysCommands(t *testing.T) {
	hub, base := startHub(t, 18190, DefaultConfig())
	cube, _ := startAgent(t, base, 0)

	require.Eventually(t, func() bool { return hub.Connected(0) }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Connect(ctx, 0))
	require.NoError(t, hub.SetWheelSpeeds(ctx, 0, 80, -20))
	require.NoError(t, hub.SetIndicator(ctx, 0, radio.ColorFor(0)))

	st := cube.State()
	assert.True(t, st.Connected)
	assert.Equal(t, radio.MaxSpeed, st.Left, "speeds are clamped before sending")
	assert.Equal(t, -20, st.Right)
	assert.Equal(t, radio.ColorFor(0), st.Color)

	stats := hub.Stats()
	assert.Equal(t, 1, stats.Agents)
	assert.Equal(t, uint64(3), stats.CommandsSent)
	assert.Equal(t, uint64(3), stats.AcksReceived)

	infos := hub.Agents()
	require.Len(t, infos, 1)
	assert.NotEmpty(t, infos[0].AgentID, "hello carries the agent id")
}

func TestHub_UnpluggedCubeIsTerminal(t *testing.T) {
	hub, base := startHub(t, 18191, DefaultConfig())
	cube, _ := startAgent(t, base, 1)
	require.Eventually(t, func() bool { return hub.Connected(1) }, time.Second, 10*time.Millisecond)

	cube.Unplug()
	err := hub.SetWheelSpeeds(context.Background(), 1, 10, 10)
	require.Error(t, err)
	assert.True(t, radio.IsTerminal(err))

	var le *radio.LinkError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 1, le.ActuatorID)
	assert.Equal(t, "motor", le.Op)
}

func TestHub_NoAgent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	hub := NewHub(cfg, nil)

	err := hub.SetWheelSpeeds(context.Background(), 4, 0, 0)
	assert.True(t, radio.IsTerminal(err))

	err = hub.Connect(context.Background(), 4)
	assert.ErrorIs(t, err, radio.ErrUnreachable)
}

func TestHub_ConnectWaitsForAgent(t *testing.T) {
	hub, base := startHub(t, 18192, DefaultConfig())

	errc := make(chan error, 1)
	go func() { errc <- hub.Connect(context.Background(), 2) }()

	time.Sleep(50 * time.Millisecond)
	cube, _ := startAgent(t, base, 2)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return")
	}
	assert.True(t, cube.State().Connected)
}

func TestHub_AgentDisconnect(t *testing.T) {
	hub, base := startHub(t, 18193, DefaultConfig())
	_, cancel := startAgent(t, base, 0)
	require.Eventually(t, func() bool { return hub.Connected(0) }, time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !hub.Connected(0) }, time.Second, 10*time.Millisecond)
	assert.True(t, radio.IsTerminal(hub.SetWheelSpeeds(context.Background(), 0, 0, 0)))
}

func TestHub_AckTimeoutIsTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommandTimeout = 100 * time.Millisecond
	hub, base := startHub(t, 18194, cfg)

	// A raw connection that never acks.
	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/bridge/3", nil)
	require.NoError(t, err)
	defer ws.Close()
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return hub.Connected(3) }, time.Second, 10*time.Millisecond)

	err = hub.SetWheelSpeeds(context.Background(), 3, 10, 10)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.False(t, radio.IsTerminal(err))
	assert.Equal(t, uint64(1), hub.Stats().Timeouts)
}

func TestHub_PingPong(t *testing.T) {
	_, base := startHub(t, 18195, DefaultConfig())

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/bridge/0", nil)
	require.NoError(t, err)
	defer ws.Close()

	ping, _ := protocol.NewPingMessage("p1", time.Now().UnixMilli())
	data, _ := ping.Bytes()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	_, resp, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(resp)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, msg.Type)

	pong, err := protocol.Decode[protocol.PongData](msg)
	require.NoError(t, err)
	assert.Equal(t, "p1", pong.ID)
}

func TestHub_InvalidCubeIDRejected(t *testing.T) {
	hub, base := startHub(t, 18196, DefaultConfig())

	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/bridge/abc", nil)
	if err == nil {
		defer ws.Close()
		_, _, err = ws.ReadMessage()
		assert.Error(t, err, "server closes the connection")
	}
	assert.Equal(t, 0, hub.AgentCount())
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/bridge/agents", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), `"count":0`))

	resp, err = app.Test(httptest.NewRequest("GET", "/api/bridge/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestUpgradeRequired(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/bridge/0", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestAgentConn_WriteDoesNotBlockAcks(t *testing.T) {
	a := &agentConn{pending: make(map[uint64]chan protocol.AckData)}

	// hold the writer as a stalled WriteMessage would
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	done := make(chan bool, 1)
	go func() {
		ch := a.await(7)
		ok := a.resolve(protocol.AckData{Seq: 7})
		<-ch
		a.mu.Lock()
		a.lastSeen = time.Now()
		a.mu.Unlock()
		a.failAll()
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("ack resolution waited on the writer")
	}
}
