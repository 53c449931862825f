package radio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/teslashibe/go-swarm/internal/httpc"
)

// HTTPLink drives cubes through a BLE bridge daemon exposing a small HTTP
// API:
//
//	POST /cubes/{id}/motor      {"left":..,"right":..}
//	POST /cubes/{id}/indicator  {"r":..,"g":..,"b":..}
//	GET  /cubes/{id}/status
//
// 404 and 503 from the daemon, and transport failures, mean the cube is
// unreachable.
type HTTPLink struct {
	BaseURL string
	client  *http.Client
}

// NewHTTPLink creates a link to the daemon at baseURL.
func NewHTTPLink(baseURL string) *HTTPLink {
	return &HTTPLink{
		BaseURL: baseURL,
		client:  httpc.NewClient(2 * time.Second),
	}
}

type motorPayload struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// SetWheelSpeeds sends a motor command.
func (l *HTTPLink) SetWheelSpeeds(ctx context.Context, id, left, right int) error {
	payload := motorPayload{Left: ClampSpeed(left), Right: ClampSpeed(right)}
	return l.do(ctx, id, "motor", http.MethodPost, payload)
}

// SetIndicator sets the LED color.
func (l *HTTPLink) SetIndicator(ctx context.Context, id int, c Color) error {
	return l.do(ctx, id, "indicator", http.MethodPost, c)
}

// Connect checks the daemon holds a live connection to cube id.
func (l *HTTPLink) Connect(ctx context.Context, id int) error {
	return l.do(ctx, id, "status", http.MethodGet, nil)
}

func (l *HTTPLink) do(ctx context.Context, id int, op, method string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &LinkError{ActuatorID: id, Op: op, Err: err}
		}
		body = bytes.NewReader(data)
	}

	url := fmt.Sprintf("%s/cubes/%d/%s", l.BaseURL, id, op)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &LinkError{ActuatorID: id, Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &LinkError{ActuatorID: id, Op: op, Err: err}
		}
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			return &LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
		}
		return &LinkError{ActuatorID: id, Op: op, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return &LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)}
	case resp.StatusCode >= 300:
		return &LinkError{ActuatorID: id, Op: op, Err: fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)}
	}
	return nil
}

var (
	_ Link      = (*HTTPLink)(nil)
	_ Connector = (*HTTPLink)(nil)
)
