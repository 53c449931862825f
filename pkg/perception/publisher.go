package perception

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/clock"
	"github.com/teslashibe/go-swarm/pkg/hub"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/protocol"
)

// DefaultPublishInterval is the pose push rate.
const DefaultPublishInterval = 100 * time.Millisecond

// Poses converts results to the pose message. The reference marker is
// left out.
func Poses(results []Result) protocol.PoseMessage {
	pm := protocol.PoseMessage{Poses: make([]protocol.Pose, 0, len(results))}
	for _, r := range results {
		if r.Reference {
			continue
		}
		pose := protocol.Pose{
			ID:     r.Entity,
			Angle:  r.Angle,
			PixelX: r.Pixel.X,
			PixelY: r.Pixel.Y,
			Conf:   r.Confidence,
		}
		if r.World != nil {
			x, z := r.World.X, r.World.Z
			pose.X, pose.Z = &x, &z
		}
		pm.Poses = append(pm.Poses, pose)
	}
	return pm
}

// Sink receives every published pose message.
type Sink func(protocol.PoseMessage) error

// Publisher pushes the latest poses to websocket subscribers at a fixed
// interval.
type Publisher struct {
	pipeline *Pipeline
	hub      *hub.Hub
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sinks    []Sink
}

// NewPublisher creates a publisher reading from p and writing to h.
func NewPublisher(p *Pipeline, h *hub.Hub, interval time.Duration, logger *slog.Logger) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{
		pipeline: p,
		hub:      h,
		interval: interval,
		clock:    p.clock,
		metrics:  p.deps.Metrics,
		logger:   log.Or(logger, "publisher"),
	}
}

// AddSink registers an extra destination, such as the MQTT emitter.
// Register before Run.
func (pub *Publisher) AddSink(s Sink) {
	pub.sinks = append(pub.sinks, s)
}

// Run publishes until ctx is done.
func (pub *Publisher) Run(ctx context.Context) {
	pub.logger.Info("pose publisher started", "interval", pub.interval)
	for {
		if err := clock.Sleep(ctx, pub.clock, pub.interval); err != nil {
			return
		}
		if err := pub.Publish(); err != nil {
			pub.logger.Warn("pose publish failed", "error", err)
		}
	}
}

// Publish sends the current poses once.
func (pub *Publisher) Publish() error {
	pm := Poses(pub.pipeline.Results())
	data, err := pm.Bytes()
	if err != nil {
		return err
	}
	pub.hub.Broadcast(hub.NewJSONMessage(data))
	pub.metrics.PosesPublished.Add(1)

	for _, s := range pub.sinks {
		if err := s(pm); err != nil {
			pub.logger.Debug("pose sink failed", "error", err)
		}
	}
	return nil
}
