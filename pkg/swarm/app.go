// Package swarm wires the perception loop, the dispatcher, the actuator
// fleet and the web front into one process.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-swarm/internal/config"
	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/bridge"
	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/emitter"
	"github.com/teslashibe/go-swarm/pkg/fleet"
	"github.com/teslashibe/go-swarm/pkg/hub"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/radio"
	"github.com/teslashibe/go-swarm/pkg/track"
	"github.com/teslashibe/go-swarm/pkg/web"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// ShutdownTimeout bounds each shutdown stage.
const ShutdownTimeout = 3 * time.Second

// Options are command-line switches layered over the config file.
type Options struct {
	DryRun bool // record commands, replay a synthetic scene
}

// App is one running swarm.
type App struct {
	cfg     *config.Config
	session string
	logger  *slog.Logger

	metrics    *metrics.Metrics
	source     camera.Source
	detector   detection.Detector
	link       radio.Link
	bridge     *bridge.Hub
	tracks     *track.Registry
	calibrator *calibration.Calibrator
	zone       *zone.Monitor
	queue      *dispatch.Queue
	fleet      *fleet.Coordinator
	pipeline   *perception.Pipeline
	publisher  *perception.Publisher
	camera     *camera.Manager
	poseHub    *hub.Hub
	cameraHub  *hub.Hub
	emitter    *emitter.MQTTEmitter
	server     *web.Server
}

// New builds every component from cfg. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:     cfg,
		session: uuid.NewString(),
		logger:  log.Component("swarm"),
		metrics: metrics.New(),
	}
	a.logger = a.logger.With("session", a.session)

	var err error
	if a.source, a.detector, err = a.vision(opts); err != nil {
		return nil, err
	}
	a.link = a.radio(opts)

	a.tracks = track.NewRegistry(cfg.RecoveryConfig().Window)
	a.calibrator = calibration.New(cfg.CalibrationConfig(), log.Component("calibration"))
	a.zone = zone.NewMonitor(cfg.Circle())
	a.queue = dispatch.NewQueue(cfg.Dispatch.Capacity, log.Component("dispatch"))
	a.camera = camera.NewManager(cfg.Camera)
	a.fleet = fleet.New(a.tracks, cfg.FleetConfig(), fleet.WithLogger(log.Component("fleet")))

	if cfg.MQTT.Broker != "" {
		a.emitter = emitter.New(cfg.MQTT, log.Component("emitter"))
	}

	a.pipeline = perception.New(cfg.PerceptionConfig(), perception.Deps{
		Source:     a.source,
		Detector:   a.detector,
		Calibrator: a.calibrator,
		Tracks:     a.tracks,
		Zone:       a.zone,
		Queue:      a.queue,
		Manager:    a.camera,
		Metrics:    a.metrics,
	}, perception.WithLogger(log.Component("perception")))

	a.poseHub = hub.New("poses", nil)
	a.cameraHub = hub.New("camera", nil)
	a.publisher = perception.NewPublisher(a.pipeline, a.poseHub, cfg.PublishInterval(), nil)

	a.server = web.NewServer(web.Config{Port: cfg.HTTP.Port, CameraFPS: cfg.HTTP.CameraFPS}, web.Deps{
		SessionID:  a.session,
		Fleet:      a.fleet,
		Pipeline:   a.pipeline,
		Calibrator: a.calibrator,
		Zone:       a.zone,
		Queue:      a.queue,
		Camera:     a.camera,
		Metrics:    a.metrics,
		PoseHub:    a.poseHub,
		CameraHub:  a.cameraHub,
		Bridge:     a.bridge,
		Emitter:    a.emitter,
	}, nil)

	a.wire()
	return a, nil
}

// vision picks the frame source and the detector.
func (a *App) vision(opts Options) (camera.Source, detection.Detector, error) {
	if opts.DryRun || a.cfg.Detector.Model == "" {
		a.logger.Info("using synthetic scene", "actuators", a.cfg.Actuators.IDs)
		src, err := SceneSource(a.cfg.Camera)
		if err != nil {
			return nil, nil, err
		}
		return src, SceneDetector(a.cfg), nil
	}

	src, err := camera.Open(a.cfg.Camera)
	if err != nil {
		return nil, nil, err
	}
	det, err := detection.NewOBB(a.cfg.DetectorConfig())
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, det, nil
}

// radio picks the command link named in the config.
func (a *App) radio(opts Options) radio.Link {
	kind := a.cfg.Actuators.Link
	if opts.DryRun {
		kind = config.LinkDryRun
	}
	a.logger.Info("radio link", "kind", kind)

	switch kind {
	case config.LinkHTTP:
		return radio.NewHTTPLink(a.cfg.Actuators.HTTPURL)
	case config.LinkDryRun:
		return radio.NewRecorder()
	default:
		a.bridge = bridge.NewHub(a.cfg.BridgeConfig(), log.Component("bridge"))
		return a.bridge
	}
}

// wire connects callbacks and metrics between components.
func (a *App) wire() {
	if a.emitter != nil {
		em := a.emitter
		a.fleet.OnTransition(func(tr actuator.Transition) {
			if err := em.PublishTransition(tr); err != nil {
				a.logger.Debug("transition not published", "error", err)
			}
		})
		a.pipeline.OnExit(func(ev dispatch.ZoneExitEvent) {
			if err := em.PublishZoneExit(ev); err != nil {
				a.logger.Debug("zone exit not published", "error", err)
			}
		})
		a.publisher.AddSink(em.PublishPoses)
	}

	m := a.metrics
	m.GaugeFunc("dispatch_queued", "Zone exit events waiting", func() float64 { return float64(a.queue.Len()) })
	m.GaugeFunc("dispatch_dropped_total", "Zone exit events dropped on a full queue", func() float64 {
		return float64(a.queue.Stats().Dropped)
	})
	m.GaugeFunc("fleet_routed_total", "Zone exits that started a maneuver", func() float64 {
		return float64(a.fleet.Stats().Routed)
	})
	m.GaugeFunc("fleet_active", "Actuators with a live link", func() float64 { return float64(a.fleet.Stats().Active) })
	m.GaugeFunc("fleet_gone", "Actuators whose link was severed", func() float64 { return float64(a.fleet.Stats().Gone) })
	m.GaugeFunc("pose_clients", "Connected pose viewers", func() float64 { return float64(a.poseHub.ClientCount()) })
	m.GaugeFunc("camera_clients", "Connected camera viewers", func() float64 { return float64(a.cameraHub.ClientCount()) })
	if a.bridge != nil {
		m.GaugeFunc("bridge_agents", "Connected bridge agents", func() float64 { return float64(a.bridge.AgentCount()) })
		m.GaugeFunc("bridge_timeouts_total", "Bridge commands without an ack", func() float64 {
			return float64(a.bridge.Stats().Timeouts)
		})
	}
}

// registerActuators exposes per-actuator gauges once the fleet is known.
func (a *App) registerActuators(ids []int) {
	for _, id := range ids {
		m, ok := a.fleet.Actuator(id)
		if !ok {
			continue
		}
		label := actuator.Entity(id)
		a.metrics.ActuatorGauge("actuator_state", "Current state code", label, func() float64 { return float64(m.State()) })
		a.metrics.ActuatorGauge("actuator_recoveries", "Recovery maneuvers run", label, func() float64 {
			return float64(m.Status().Recoveries)
		})
		a.metrics.ActuatorGauge("actuator_zone_maneuvers", "Zone maneuvers run", label, func() float64 {
			return float64(m.Status().ZoneManeuvers)
		})
		a.metrics.ActuatorGauge("actuator_errors", "Transient command failures", label, func() float64 {
			return float64(m.Status().Errors)
		})
	}
}

// Run starts every loop and blocks until ctx is done or the camera stream
// ends, then shuts down in order: perception, dispatcher, fleet, web.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHubs := context.WithCancel(context.Background())
	defer stopHubs()
	go a.poseHub.Run(hubCtx)
	go a.cameraHub.Run(hubCtx)

	// the web server is up before bring-up so bridge agents can connect
	webErr := make(chan error, 1)
	go func() { webErr <- a.server.Listen() }()

	if a.emitter != nil {
		if err := a.emitter.Connect(ctx); err != nil {
			a.logger.Warn("mqtt unavailable, events will not be published", "error", err)
		}
	}

	devices := make([]fleet.Device, 0, len(a.cfg.Actuators.IDs))
	for _, id := range a.cfg.Actuators.IDs {
		devices = append(devices, fleet.Device{ID: id, Link: a.link})
	}
	ids, err := a.fleet.BringUp(ctx, devices)
	if err != nil {
		a.close()
		return fmt.Errorf("swarm: bring-up: %w", err)
	}
	a.registerActuators(ids)
	a.logger.Info("fleet ready", "actuators", ids)

	if err := a.fleet.Start(ctx); err != nil {
		a.close()
		return err
	}

	percCtx, stopPerception := context.WithCancel(ctx)
	defer stopPerception()
	var percWG sync.WaitGroup
	percDone := make(chan error, 1)
	percWG.Add(2)
	go func() {
		defer percWG.Done()
		percDone <- a.pipeline.Run(percCtx)
	}()
	go func() {
		defer percWG.Done()
		a.publisher.Run(percCtx)
	}()

	dispCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		a.queue.Run(dispCtx, func(ev dispatch.ZoneExitEvent) {
			a.fleet.RouteEvent(ev)
		})
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-percDone:
		if err != nil {
			runErr = fmt.Errorf("swarm: perception: %w", err)
		}
	case err := <-webErr:
		if err != nil {
			runErr = fmt.Errorf("swarm: web: %w", err)
		}
	}

	a.logger.Info("shutting down")

	stopPerception()
	percWG.Wait()

	stopDispatch()
	<-dispDone

	fctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	if err := a.fleet.Shutdown(fctx); err != nil {
		a.logger.Warn("fleet shutdown", "error", err)
	}
	cancel()

	a.close()
	return runErr
}

// close releases the web server and the device handles.
func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, a.server.Shutdown(ctx))
	if a.emitter != nil {
		errs = append(errs, a.emitter.Disconnect())
	}
	errs = append(errs, a.source.Close(), a.detector.Close())
	if err := errors.Join(errs...); err != nil {
		a.logger.Debug("close", "error", err)
	}
}

// Session returns the id stamped on this run.
func (a *App) Session() string {
	return a.session
}

// Fleet returns the coordinator.
func (a *App) Fleet() *fleet.Coordinator {
	return a.fleet
}

// Link returns the command link.
func (a *App) Link() radio.Link {
	return a.link
}

// Server returns the web server.
func (a *App) Server() *web.Server {
	return a.server
}
