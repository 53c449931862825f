package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/protocol"
)

// Cube is the device side of an agent: the BLE cube it relays to.
// Returning ErrCubeGone reports the cube as unreachable.
type Cube interface {
	Connect(ctx context.Context) error
	Motor(ctx context.Context, left, right int) error
	Indicator(ctx context.Context, r, g, b uint8) error
}

// Agent is a bridge agent client. It connects to a Hub and relays commands
// to one Cube.
type Agent struct {
	ID     string
	CubeID int

	conn   *websocket.Conn
	cube   Cube
	logger *slog.Logger

	mu sync.Mutex // serializes writes
}

// BridgeURL builds the agent endpoint for cube id from a base URL such as
// "ws://localhost:9097" or "http://host:9097".
func BridgeURL(base string, id int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bridge: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bridge: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/bridge/" + strconv.Itoa(id)
	return u.String(), nil
}

// Dial connects an agent for cubeID to the hub at base and announces it.
func Dial(ctx context.Context, base string, cubeID int, cube Cube, logger *slog.Logger) (*Agent, error) {
	endpoint, err := BridgeURL(base, cubeID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", endpoint, err)
	}

	a := &Agent{
		ID:     uuid.NewString(),
		CubeID: cubeID,
		conn:   conn,
		cube:   cube,
		logger: log.Or(logger, "bridge-agent").With("actuator", cubeID),
	}

	hello, err := protocol.NewHelloMessage(a.ID, cubeID)
	if err == nil {
		err = a.send(hello)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge: hello: %w", err)
	}
	return a, nil
}

func (a *Agent) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// Run relays commands until ctx is done or the hub closes the connection.
func (a *Agent) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			a.logger.Debug("parse error", "error", err)
			continue
		}
		a.handle(ctx, msg)
	}
}

func (a *Agent) handle(ctx context.Context, msg *protocol.Message) {
	seq, hasSeq := msg.Seq()

	var err error
	switch msg.Type {
	case protocol.TypeMotor:
		var m *protocol.MotorData
		if m, err = protocol.Decode[protocol.MotorData](msg); err == nil {
			err = a.cube.Motor(ctx, m.Left, m.Right)
		}
	case protocol.TypeIndicator:
		var ind *protocol.IndicatorData
		if ind, err = protocol.Decode[protocol.IndicatorData](msg); err == nil {
			err = a.cube.Indicator(ctx, ind.R, ind.G, ind.B)
		}
	case protocol.TypeConnect:
		err = a.cube.Connect(ctx)
	case protocol.TypePong:
		return
	default:
		a.logger.Debug("ignoring message", "type", msg.Type)
		return
	}

	if !hasSeq {
		return
	}
	ack, aerr := protocol.NewAckMessage(seq, err, errors.Is(err, ErrCubeGone))
	if aerr != nil {
		return
	}
	if serr := a.send(ack); serr != nil {
		a.logger.Debug("ack failed", "seq", seq, "error", serr)
	}
}

// Ping sends a ping; the hub answers with a pong.
func (a *Agent) Ping() error {
	msg, err := protocol.NewPingMessage(a.ID, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return a.send(msg)
}

// Close closes the connection.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return a.conn.Close()
}
