package fleet

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/radio"
	"github.com/teslashibe/go-swarm/pkg/track"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// Cube 1 sits 50px from the ring center for five frames, then one frame
// puts it 120px out. Exactly one exit reaches the queue and the cube
// starts its zone maneuver.
func TestScenario_ZoneExitReachesActuator(t *testing.T) {
	circle := zone.Circle{Center: geom.Pt(355, 200), Radius: 97}
	det := func(x float64) []detection.Detection {
		return []detection.Detection{{
			ClassID:    1,
			Center:     geom.Pt(x, 200),
			Size:       geom.Size{W: 20, H: 20},
			Confidence: 0.8,
		}}
	}
	in, out := det(405), det(475)

	reg := track.NewRegistry(track.DefaultWindow)
	queue := dispatch.NewQueue(8, nil)
	p := perception.New(perception.DefaultConfig(), perception.Deps{
		Source:     camera.NewStatic([]byte{0xff, 0xd8}, image.Pt(640, 480), 0),
		Detector:   detection.NewMock(in, in, in, in, in, out),
		Calibrator: calibration.New(calibration.DefaultConfig(), nil),
		Tracks:     reg,
		Zone:       zone.NewMonitor(circle),
		Queue:      queue,
		Manager:    camera.NewManager(camera.DefaultConfig()),
		Metrics:    metrics.New(),
	})

	var (
		mu          sync.Mutex
		transitions []actuator.Transition
	)
	c := New(reg, fastConfig())
	c.OnTransition(func(tr actuator.Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})

	rec := radio.NewRecorder()
	_, err := c.BringUp(context.Background(), devices(rec, 1))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	}()

	m, _ := c.Actuator(1)
	require.Eventually(t, func() bool { return m.State() == actuator.Patrolling },
		time.Second, 5*time.Millisecond)

	frame := camera.Frame{Seq: 1, JPEG: []byte{0xff, 0xd8}}
	for i := 0; i < 5; i++ {
		p.Process(frame)
	}
	assert.Equal(t, 0, queue.Len())

	p.Process(frame)
	require.Equal(t, 1, queue.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	routed := make(chan dispatch.ZoneExitEvent, 1)
	go func() {
		_ = queue.Run(ctx, func(ev dispatch.ZoneExitEvent) {
			c.RouteEvent(ev)
			routed <- ev
		})
	}()

	select {
	case ev := <-routed:
		assert.Equal(t, "1", ev.EntityID)
	case <-time.After(time.Second):
		t.Fatal("exit event not delivered")
	}
	assert.Equal(t, 0, queue.Len())

	mu.Lock()
	defer mu.Unlock()
	var maneuvers []actuator.Transition
	for _, tr := range transitions {
		if tr.To == actuator.ZoneRecoveryManeuver {
			maneuvers = append(maneuvers, tr)
		}
	}
	require.Len(t, maneuvers, 1)
	assert.Equal(t, 1, maneuvers[0].ActuatorID)
	assert.Equal(t, actuator.Patrolling, maneuvers[0].From)
}
