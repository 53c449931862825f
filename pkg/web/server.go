// Package web serves the swarm status API and the viewer websockets.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/bridge"
	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/emitter"
	"github.com/teslashibe/go-swarm/pkg/fleet"
	"github.com/teslashibe/go-swarm/pkg/hub"
	"github.com/teslashibe/go-swarm/pkg/metrics"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// Config holds server settings.
type Config struct {
	Port      int
	CameraFPS int // frames per second pushed on /ws/camera, 0 disables
}

// Deps are the components the API reports on. Bridge and Emitter are
// optional.
type Deps struct {
	SessionID  string
	Fleet      *fleet.Coordinator
	Pipeline   *perception.Pipeline
	Calibrator *calibration.Calibrator
	Zone       *zone.Monitor
	Queue      *dispatch.Queue
	Camera     *camera.Manager
	Metrics    *metrics.Metrics
	PoseHub    *hub.Hub
	CameraHub  *hub.Hub
	Bridge     *bridge.Hub
	Emitter    *emitter.MQTTEmitter
}

// Server is the HTTP and websocket front of the swarm.
type Server struct {
	app     *fiber.App
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	started time.Time

	frameMu   sync.Mutex
	lastFrame time.Time
}

// NewServer builds the fiber app and mounts every route.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  log.Or(logger, "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-swarm",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/actuators", s.handleActuators)
	api.Get("/actuators/:id", s.handleActuator)
	api.Get("/poses", s.handlePoses)
	api.Get("/results", s.handleResults)
	api.Get("/snapshot", s.handleSnapshot)
	api.Get("/camera", s.handleCamera)
	api.Post("/camera/preset/:name", s.handleCameraPreset)
	if deps.Bridge != nil {
		deps.Bridge.RegisterAPIRoutes(api)
	}

	app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))

	if deps.Bridge != nil {
		deps.Bridge.RegisterRoutes(app)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/poses", websocket.New(s.subscribe(deps.PoseHub)))
	app.Get("/ws/camera", websocket.New(s.subscribe(deps.CameraHub)))

	if deps.Camera != nil && cfg.CameraFPS > 0 {
		deps.Camera.OnFrame(s.sendCameraFrame)
	}

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info("web server listening", "url", fmt.Sprintf("http://localhost:%d", s.cfg.Port))
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// Shutdown stops accepting connections and waits for handlers up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// sendCameraFrame forwards frames to camera viewers at the configured rate.
func (s *Server) sendCameraFrame(f camera.Frame) {
	if s.deps.CameraHub == nil || s.deps.CameraHub.ClientCount() == 0 {
		return
	}
	interval := time.Second / time.Duration(s.cfg.CameraFPS)

	s.frameMu.Lock()
	if time.Since(s.lastFrame) < interval {
		s.frameMu.Unlock()
		return
	}
	s.lastFrame = time.Now()
	s.frameMu.Unlock()

	s.deps.CameraHub.BroadcastBinary(f.JPEG)
}
