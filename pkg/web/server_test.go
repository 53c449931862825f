package web

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/clock"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/fleet"
	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/hub"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/protocol"
	"github.com/teslashibe/go-swarm/pkg/radio"
	"github.com/teslashibe/go-swarm/pkg/track"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

type fixture struct {
	srv      *Server
	pipeline *perception.Pipeline
	poses    *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Unix(1000, 0))
	tracks := track.NewRegistry(0)

	rec := radio.NewRecorder()
	fl := fleet.New(tracks, fleet.DefaultConfig(), fleet.WithClock(clk))
	_, err := fl.BringUp(context.Background(), []fleet.Device{{ID: 0, Link: rec}, {ID: 1, Link: rec}})
	require.NoError(t, err)

	cal := calibration.New(calibration.DefaultConfig(), nil)
	zm := zone.NewMonitor(zone.DefaultCircle())
	queue := dispatch.NewQueue(4, nil)
	mgr := camera.NewManager(camera.DefaultConfig())
	m := metrics.New()

	p := perception.New(perception.DefaultConfig(), perception.Deps{
		Source:     camera.NewStatic(nil, image.Pt(640, 480), 0),
		Detector:   detection.NewMock([]detection.Detection{{ClassID: 1, Center: geom.Pt(355, 200), Confidence: 0.9}}),
		Calibrator: cal,
		Tracks:     tracks,
		Zone:       zm,
		Queue:      queue,
		Manager:    mgr,
		Metrics:    m,
	}, perception.WithClock(clk))

	poses := hub.New("poses", nil)
	srv := NewServer(Config{CameraFPS: 10}, Deps{
		SessionID:  "test-session",
		Fleet:      fl,
		Pipeline:   p,
		Calibrator: cal,
		Zone:       zm,
		Queue:      queue,
		Camera:     mgr,
		Metrics:    m,
		PoseHub:    poses,
		CameraHub:  hub.New("camera", nil),
	}, nil)

	return &fixture{srv: srv, pipeline: p, poses: poses}
}

func (f *fixture) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := f.srv.App().Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/api/status")
	require.Equal(t, 200, code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "test-session", st.Session)
	assert.False(t, st.Calibrated)
	assert.Nil(t, st.Frame)
	assert.Equal(t, 97.0, st.Zone.Radius)
	assert.Equal(t, 2, st.Fleet.Active)
	assert.Equal(t, 4, st.Dispatch.Capacity)
	require.NotNil(t, st.Camera)
	assert.Equal(t, 640, st.Camera.Config.Width)
	assert.Nil(t, st.MQTT)
}

func TestActuators(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/api/actuators")
	require.Equal(t, 200, code)
	var list struct {
		Actuators []map[string]any `json:"actuators"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Actuators, 2)

	code, body = f.get(t, "/api/actuators/1")
	require.Equal(t, 200, code)
	var one map[string]any
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "idle", one["state"])
	assert.Equal(t, "1", one["entity"])

	code, _ = f.get(t, "/api/actuators/9")
	assert.Equal(t, 404, code)
	code, _ = f.get(t, "/api/actuators/abc")
	assert.Equal(t, 400, code)
}

func TestPosesAndSnapshot(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, "/api/snapshot")
	assert.Equal(t, 503, code)

	code, body := f.get(t, "/api/poses")
	require.Equal(t, 200, code)
	assert.JSONEq(t, `{"poses":[]}`, string(body))

	f.pipeline.Process(camera.Frame{Seq: 1, JPEG: []byte{0xff, 0xd8, 0xff}})

	code, body = f.get(t, "/api/poses")
	require.Equal(t, 200, code)
	var pm protocol.PoseMessage
	require.NoError(t, json.Unmarshal(body, &pm))
	require.Len(t, pm.Poses, 1)
	assert.Equal(t, "1", pm.Poses[0].ID)
	assert.Nil(t, pm.Poses[0].X)

	resp, err := f.srv.App().Test(httptest.NewRequest("GET", "/api/snapshot", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	jpeg, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, jpeg)

	code, body = f.get(t, "/api/results")
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), `"inside":true`)
}

func TestCameraPreset(t *testing.T) {
	f := newFixture(t)

	resp, err := f.srv.App().Test(httptest.NewRequest("POST", "/api/camera/preset/720p", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	code, body := f.get(t, "/api/camera")
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), `"width":1280`)

	resp, err = f.srv.App().Test(httptest.NewRequest("POST", "/api/camera/preset/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Process(camera.Frame{Seq: 1})

	code, body := f.get(t, "/metrics")
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), "swarm_frames_processed_total 1")
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	code, _ := f.get(t, "/ws/poses")
	assert.Equal(t, 426, code)
}

func TestPoseWebsocket(t *testing.T) {
	f := newFixture(t)
	port := 18210

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.poses.Run(ctx)

	go f.srv.App().Listen(fmt.Sprintf(":%d", port))
	t.Cleanup(func() { f.srv.Shutdown(context.Background()) })
	time.Sleep(100 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://localhost:%d/ws/poses", port), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.poses.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	pub := perception.NewPublisher(f.pipeline, f.poses, 0, nil)
	f.pipeline.Process(camera.Frame{Seq: 1})
	require.NoError(t, pub.Publish())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var pm protocol.PoseMessage
	require.NoError(t, json.Unmarshal(data, &pm))
	require.Len(t, pm.Poses, 1)
	assert.Equal(t, 355.0, pm.Poses[0].PixelX)
}
