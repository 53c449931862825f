package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/emitter"
	"github.com/teslashibe/go-swarm/pkg/fleet"
	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/hub"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// FrameInfo describes the calibrated coordinate frame.
type FrameInfo struct {
	Origin   geom.Point `json:"origin"`
	AngleDeg float64    `json:"angle"`
	Scale    float64    `json:"scale"`
}

// CameraInfo reports capture settings and throughput.
type CameraInfo struct {
	Config camera.Config `json:"config"`
	Frames uint64        `json:"frames"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Session       string         `json:"session"`
	Uptime        float64        `json:"uptime_s"`
	Calibrated    bool           `json:"calibrated"`
	Frame         *FrameInfo     `json:"frame"`
	Zone          zone.Circle    `json:"zone"`
	Fleet         fleet.Stats    `json:"fleet"`
	Dispatch      dispatch.Stats `json:"dispatch"`
	Camera        *CameraInfo    `json:"camera,omitempty"`
	PoseClients   int            `json:"pose_clients"`
	CameraClients int            `json:"camera_clients"`
	MQTT          *emitter.Stats `json:"mqtt,omitempty"`
}

// handleStatus returns a summary of every component
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		Session:  s.deps.SessionID,
		Uptime:   time.Since(s.started).Seconds(),
		Zone:     s.deps.Zone.Circle(),
		Fleet:    s.deps.Fleet.Stats(),
		Dispatch: s.deps.Queue.Stats(),
	}
	if f, ok := s.deps.Calibrator.Frame(); ok {
		resp.Calibrated = true
		resp.Frame = &FrameInfo{Origin: f.Origin, AngleDeg: f.AngleDeg, Scale: f.Scale}
	}
	if s.deps.Camera != nil {
		resp.Camera = &CameraInfo{Config: s.deps.Camera.Config(), Frames: s.deps.Camera.Frames()}
	}
	if s.deps.PoseHub != nil {
		resp.PoseClients = s.deps.PoseHub.ClientCount()
	}
	if s.deps.CameraHub != nil {
		resp.CameraClients = s.deps.CameraHub.ClientCount()
	}
	if s.deps.Emitter != nil {
		st := s.deps.Emitter.Stats()
		resp.MQTT = &st
	}
	return c.JSON(resp)
}

// handleActuators lists every actuator that came up
func (s *Server) handleActuators(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"actuators": s.deps.Fleet.Status()})
}

// handleActuator returns one actuator
func (s *Server) handleActuator(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid actuator id",
		})
	}
	m, ok := s.deps.Fleet.Actuator(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown actuator",
		})
	}
	return c.JSON(m.Status())
}

// handlePoses returns the latest poses in the websocket schema
func (s *Server) handlePoses(c *fiber.Ctx) error {
	return c.JSON(perception.Poses(s.deps.Pipeline.Results()))
}

// handleResults returns the latest detections with pixel and world data
func (s *Server) handleResults(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"results": s.deps.Pipeline.Results()})
}

// handleSnapshot returns the latest camera frame as JPEG
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "camera not configured",
		})
	}
	f, ok := s.deps.Camera.Latest()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no frame yet",
		})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(f.JPEG)
}

// handleCamera returns capture settings and presets
func (s *Server) handleCamera(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "camera not configured",
		})
	}
	return c.JSON(fiber.Map{
		"config":  s.deps.Camera.Config(),
		"presets": camera.PresetNames(),
	})
}

// handleCameraPreset stores a preset for the next camera open
func (s *Server) handleCameraPreset(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "camera not configured",
		})
	}
	if err := s.deps.Camera.ApplyPreset(c.Params("name")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"config": s.deps.Camera.Config()})
}

// subscribe attaches a websocket viewer to h until it disconnects.
func (s *Server) subscribe(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		if h == nil {
			c.Close()
			return
		}
		hub.NewClient(h, c).Run()
	}
}
