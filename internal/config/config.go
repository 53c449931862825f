// Package config loads the go-swarm configuration file.
//
// The file is read once at start. Durations are written as float seconds
// under *_s keys and converted when a package config is built.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/bridge"
	"github.com/teslashibe/go-swarm/pkg/calibration"
	"github.com/teslashibe/go-swarm/pkg/camera"
	"github.com/teslashibe/go-swarm/pkg/detection"
	"github.com/teslashibe/go-swarm/pkg/emitter"
	"github.com/teslashibe/go-swarm/pkg/fleet"
	"github.com/teslashibe/go-swarm/pkg/geom"
	"github.com/teslashibe/go-swarm/pkg/perception"
	"github.com/teslashibe/go-swarm/pkg/recovery"
	"github.com/teslashibe/go-swarm/pkg/zone"
)

// Link kinds accepted in actuators.link.
const (
	LinkBridge = "bridge"  // cubes reached through websocket bridge agents
	LinkHTTP   = "http"    // cubes reached through a BLE daemon HTTP API
	LinkDryRun = "dry-run" // commands are recorded, nothing is sent
)

// Config is the root of the configuration file.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Debug       bool              `yaml:"debug"`
	HTTP        HTTPConfig        `yaml:"http"`
	Camera      camera.Config     `yaml:"camera"`
	Detector    DetectorConfig    `yaml:"detector"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Zone        ZoneConfig        `yaml:"zone"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Actuators   ActuatorsConfig   `yaml:"actuators"`
	Fleet       FleetConfig       `yaml:"fleet"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	MQTT        emitter.Config    `yaml:"mqtt"`
}

type HTTPConfig struct {
	Port             int     `yaml:"port"`
	PublishIntervalS float64 `yaml:"publish_interval_s"`
	CameraFPS        int     `yaml:"camera_fps"` // rate of /ws/camera frames, 0 disables
}

type DetectorConfig struct {
	Model      string         `yaml:"model"` // empty runs the mock detector
	InputSize  int            `yaml:"input_size"`
	Confidence float32        `yaml:"confidence"`
	NMS        float32        `yaml:"nms"`
	NumClasses int            `yaml:"num_classes"`
	ClassMap   map[int]string `yaml:"class_map"` // nil means the default relabel table
}

type CalibrationConfig struct {
	ReferenceClass int     `yaml:"reference_class"`
	ReferenceWidth float64 `yaml:"reference_width"`
	MinConfidence  float64 `yaml:"min_confidence"`
	Clamp          float64 `yaml:"clamp"`
}

type ZoneConfig struct {
	CenterX float64 `yaml:"center_x"`
	CenterY float64 `yaml:"center_y"`
	Radius  float64 `yaml:"radius"`
}

type RecoveryConfig struct {
	StuckDistancePx float64 `yaml:"stuck_distance_px"`
	StuckTimeS      float64 `yaml:"stuck_time_s"`
	MinSamples      int     `yaml:"min_samples"`
	MinSpanS        float64 `yaml:"min_span_s"`
	WindowS         float64 `yaml:"window_s"`
	LostGraceS      float64 `yaml:"lost_grace_s"`
	LostThresholdS  float64 `yaml:"lost_threshold_s"`
	CooldownS       float64 `yaml:"cooldown_s"`
	WarmupS         float64 `yaml:"warmup_s"`
}

type PersonalityConfig struct {
	BaseMin     int     `yaml:"base_min"`
	BaseMax     int     `yaml:"base_max"`
	Turn        int     `yaml:"turn"`
	RepeatMinS  float64 `yaml:"repeat_min_s"`
	RepeatMaxS  float64 `yaml:"repeat_max_s"`
	PauseChance float64 `yaml:"pause_chance"`
	PauseMinS   float64 `yaml:"pause_min_s"`
	PauseMaxS   float64 `yaml:"pause_max_s"`
}

type ActuatorsConfig struct {
	IDs           []int                     `yaml:"ids"`
	Link          string                    `yaml:"link"`
	HTTPURL       string                    `yaml:"http_url"`
	Personalities map[int]PersonalityConfig `yaml:"personalities"` // nil means the built-in table
}

type FleetConfig struct {
	StaggerS         float64 `yaml:"stagger_s"`
	ConnectAttempts  int     `yaml:"connect_attempts"`
	ConnectBackoffS  float64 `yaml:"connect_backoff_s"`
	IndicatorSettleS float64 `yaml:"indicator_settle_s"`
	BlinkCount       int     `yaml:"blink_count"`
	BlinkIntervalS   float64 `yaml:"blink_interval_s"`
}

type BridgeConfig struct {
	CommandTimeoutS float64 `yaml:"command_timeout_s"`
	ConnectTimeoutS float64 `yaml:"connect_timeout_s"`
}

type DispatchConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the configuration of the demo mat.
func Default() *Config {
	det := detection.DefaultConfig()
	cal := calibration.DefaultConfig()
	circle := zone.DefaultCircle()
	rec := recovery.DefaultConfig()
	fl := fleet.DefaultConfig()
	br := bridge.DefaultConfig()

	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Port:             9097,
			PublishIntervalS: perception.DefaultPublishInterval.Seconds(),
			CameraFPS:        10,
		},
		Camera: camera.DefaultConfig(),
		Detector: DetectorConfig{
			Model:      det.ModelPath,
			InputSize:  det.InputSize,
			Confidence: det.ConfThreshold,
			NMS:        det.NMSThreshold,
			NumClasses: det.NumClasses,
		},
		Calibration: CalibrationConfig{
			ReferenceClass: cal.ReferenceClass,
			ReferenceWidth: cal.ReferenceWidth,
			MinConfidence:  cal.MinConfidence,
			Clamp:          cal.Clamp,
		},
		Zone: ZoneConfig{CenterX: circle.Center.X, CenterY: circle.Center.Y, Radius: circle.Radius},
		Recovery: RecoveryConfig{
			StuckDistancePx: rec.StuckDistance,
			StuckTimeS:      rec.StuckTime.Seconds(),
			MinSamples:      rec.MinSamples,
			MinSpanS:        rec.MinSpan.Seconds(),
			WindowS:         rec.Window.Seconds(),
			LostGraceS:      rec.LostGrace.Seconds(),
			LostThresholdS:  rec.LostThreshold.Seconds(),
			CooldownS:       rec.Cooldown.Seconds(),
			WarmupS:         rec.Warmup.Seconds(),
		},
		Actuators: ActuatorsConfig{
			IDs:  []int{0, 1, 2},
			Link: LinkBridge,
		},
		Fleet: FleetConfig{
			StaggerS:         fl.Stagger.Seconds(),
			ConnectAttempts:  fl.ConnectAttempts,
			ConnectBackoffS:  fl.ConnectBackoff.Seconds(),
			IndicatorSettleS: fl.IndicatorSettle.Seconds(),
			BlinkCount:       fl.BlinkCount,
			BlinkIntervalS:   fl.BlinkInterval.Seconds(),
		},
		Bridge: BridgeConfig{
			CommandTimeoutS: br.CommandTimeout.Seconds(),
			ConnectTimeoutS: br.ConnectTimeout.Seconds(),
		},
		Dispatch: DispatchConfig{Capacity: 64},
		MQTT:     emitter.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// ValidationError is one rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate returns every problem found, joined, or nil.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("http.port", "must be in 1..65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.PublishIntervalS <= 0 {
		add("http.publish_interval_s", "must be positive")
	}
	if c.HTTP.CameraFPS < 0 {
		add("http.camera_fps", "must be >= 0")
	}

	for _, msg := range c.Camera.Validate() {
		add("camera", "%s", msg)
	}

	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		add("detector.confidence", "must be in (0, 1]")
	}
	if c.Detector.InputSize <= 0 {
		add("detector.input_size", "must be positive")
	}
	if c.Detector.ClassMap != nil {
		if err := detection.ClassMap(c.Detector.ClassMap).Validate(); err != nil {
			add("detector.class_map", "%v", err)
		}
	}

	if c.Calibration.ReferenceWidth <= 0 {
		add("calibration.reference_width", "must be positive")
	}
	if c.Calibration.Clamp <= 0 {
		add("calibration.clamp", "must be positive")
	}

	if c.Zone.Radius <= 0 {
		add("zone.radius", "must be positive")
	}

	r := c.Recovery
	if r.StuckDistancePx <= 0 {
		add("recovery.stuck_distance_px", "must be positive")
	}
	if r.StuckTimeS <= 0 || r.WindowS <= 0 || r.LostThresholdS <= 0 {
		add("recovery", "stuck_time_s, window_s and lost_threshold_s must be positive")
	}
	if r.MinSamples < 2 {
		add("recovery.min_samples", "must be >= 2")
	}
	if r.MinSpanS > r.WindowS {
		add("recovery.min_span_s", "must not exceed window_s")
	}
	if r.LostGraceS < 0 || r.LostGraceS >= r.LostThresholdS {
		add("recovery.lost_grace_s", "must be in [0, lost_threshold_s)")
	}
	if r.CooldownS < 0 {
		add("recovery.cooldown_s", "must be >= 0")
	}
	if r.WarmupS < 0 {
		add("recovery.warmup_s", "must be >= 0")
	}

	if len(c.Actuators.IDs) == 0 {
		add("actuators.ids", "at least one actuator is required")
	}
	seen := make(map[int]bool, len(c.Actuators.IDs))
	for _, id := range c.Actuators.IDs {
		if id < 0 {
			add("actuators.ids", "negative id %d", id)
		}
		if seen[id] {
			add("actuators.ids", "duplicate id %d", id)
		}
		seen[id] = true
	}
	switch c.Actuators.Link {
	case LinkBridge, LinkDryRun:
	case LinkHTTP:
		if c.Actuators.HTTPURL == "" {
			add("actuators.http_url", "required when link is %q", LinkHTTP)
		}
	default:
		add("actuators.link", "unknown link %q", c.Actuators.Link)
	}
	for id, p := range c.Actuators.Personalities {
		if p.BaseMin > p.BaseMax || p.RepeatMinS > p.RepeatMaxS || p.PauseMinS > p.PauseMaxS {
			add(fmt.Sprintf("actuators.personalities.%d", id), "min exceeds max")
		}
		if p.PauseChance < 0 || p.PauseChance > 1 {
			add(fmt.Sprintf("actuators.personalities.%d.pause_chance", id), "must be in [0, 1]")
		}
	}

	if c.Fleet.ConnectAttempts < 1 {
		add("fleet.connect_attempts", "must be >= 1")
	}
	if c.Dispatch.Capacity < 1 {
		add("dispatch.capacity", "must be >= 1")
	}
	if c.MQTT.QoS > 2 {
		add("mqtt.qos", "must be 0, 1 or 2")
	}

	return errors.Join(errs...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// PublishInterval returns the pose push interval.
func (c *Config) PublishInterval() time.Duration {
	return seconds(c.HTTP.PublishIntervalS)
}

// DetectorConfig builds the detector settings.
func (c *Config) DetectorConfig() detection.Config {
	return detection.Config{
		ModelPath:     c.Detector.Model,
		InputSize:     c.Detector.InputSize,
		ConfThreshold: c.Detector.Confidence,
		NMSThreshold:  c.Detector.NMS,
		NumClasses:    c.Detector.NumClasses,
	}
}

// ClassMap returns the relabel table.
func (c *Config) ClassMap() detection.ClassMap {
	if c.Detector.ClassMap == nil {
		return detection.DefaultClassMap()
	}
	return detection.ClassMap(c.Detector.ClassMap)
}

// CalibrationConfig builds the calibrator settings.
func (c *Config) CalibrationConfig() calibration.Config {
	return calibration.Config(c.Calibration)
}

// Circle returns the monitored zone.
func (c *Config) Circle() zone.Circle {
	return zone.Circle{Center: geom.Pt(c.Zone.CenterX, c.Zone.CenterY), Radius: c.Zone.Radius}
}

// RecoveryConfig builds the stuck/lost thresholds.
func (c *Config) RecoveryConfig() recovery.Config {
	r := c.Recovery
	return recovery.Config{
		StuckDistance: r.StuckDistancePx,
		StuckTime:     seconds(r.StuckTimeS),
		MinSamples:    r.MinSamples,
		MinSpan:       seconds(r.MinSpanS),
		Window:        seconds(r.WindowS),
		LostGrace:     seconds(r.LostGraceS),
		LostThreshold: seconds(r.LostThresholdS),
		Cooldown:      seconds(r.CooldownS),
		Warmup:        seconds(r.WarmupS),
	}
}

// ActuatorConfig builds the control loop settings.
func (c *Config) ActuatorConfig() actuator.Config {
	cfg := actuator.DefaultConfig()
	cfg.Recovery = c.RecoveryConfig()
	if c.Actuators.Personalities != nil {
		cfg.Personalities = make(map[int]actuator.Personality, len(c.Actuators.Personalities))
		for id, p := range c.Actuators.Personalities {
			cfg.Personalities[id] = actuator.Personality{
				BaseMin:     p.BaseMin,
				BaseMax:     p.BaseMax,
				Turn:        p.Turn,
				RepeatMin:   seconds(p.RepeatMinS),
				RepeatMax:   seconds(p.RepeatMaxS),
				PauseChance: p.PauseChance,
				PauseMin:    seconds(p.PauseMinS),
				PauseMax:    seconds(p.PauseMaxS),
			}
		}
	}
	return cfg
}

// FleetConfig builds the bring-up settings.
func (c *Config) FleetConfig() fleet.Config {
	cfg := fleet.DefaultConfig()
	cfg.Stagger = seconds(c.Fleet.StaggerS)
	cfg.ConnectAttempts = c.Fleet.ConnectAttempts
	cfg.ConnectBackoff = seconds(c.Fleet.ConnectBackoffS)
	cfg.IndicatorSettle = seconds(c.Fleet.IndicatorSettleS)
	cfg.BlinkCount = c.Fleet.BlinkCount
	cfg.BlinkInterval = seconds(c.Fleet.BlinkIntervalS)
	cfg.Actuator = c.ActuatorConfig()
	return cfg
}

// BridgeConfig builds the bridge hub timeouts.
func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		CommandTimeout: seconds(c.Bridge.CommandTimeoutS),
		ConnectTimeout: seconds(c.Bridge.ConnectTimeoutS),
	}
}

// PerceptionConfig builds the perception loop settings.
func (c *Config) PerceptionConfig() perception.Config {
	cfg := perception.DefaultConfig()
	cfg.ClassMap = c.ClassMap()
	return cfg
}
