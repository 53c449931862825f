package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	rec := cfg.RecoveryConfig()
	assert.Equal(t, 15.0, rec.StuckDistance)
	assert.Equal(t, 6*time.Second, rec.StuckTime)
	assert.Equal(t, 3*time.Second, rec.LostThreshold)
	assert.Equal(t, 400*time.Millisecond, rec.LostGrace)
	assert.Equal(t, 15*time.Second, rec.Cooldown)
	assert.Equal(t, 15*time.Second, rec.Warmup)

	assert.Equal(t, 100*time.Millisecond, cfg.PublishInterval())
	assert.Equal(t, "0", cfg.ClassMap().Label(3))
	assert.Equal(t, "3", cfg.ClassMap().Label(0))
	assert.Equal(t, 97.0, cfg.Circle().Radius)
	assert.Equal(t, []int{0, 1, 2}, cfg.Actuators.IDs)
	assert.Equal(t, 5, cfg.CalibrationConfig().ReferenceClass)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvHTTPPort, "")
	path := writeFile(t, `
log_level: debug
http:
  port: 8080
zone:
  radius: 120
recovery:
  cooldown_s: 7.5
  warmup_s: 2
detector:
  class_map:
    1: "a"
actuators:
  ids: [4, 5]
  link: dry-run
  personalities:
    4: {base_min: 10, base_max: 20, turn: 5, repeat_min_s: 0.1, repeat_max_s: 0.2}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 120.0, cfg.Zone.Radius)
	assert.Equal(t, 355.0, cfg.Zone.CenterX)
	assert.Equal(t, 7500*time.Millisecond, cfg.RecoveryConfig().Cooldown)
	assert.Equal(t, 6*time.Second, cfg.RecoveryConfig().StuckTime)

	// an explicit table replaces the default swap
	assert.Equal(t, "a", cfg.ClassMap().Label(1))
	assert.Equal(t, "3", cfg.ClassMap().Label(3))

	act := cfg.ActuatorConfig()
	require.Contains(t, act.Personalities, 4)
	assert.Equal(t, 200*time.Millisecond, act.Personalities[4].RepeatMax)
	assert.Equal(t, act.DefaultPersonality, act.Personality(5))
	assert.Equal(t, 7500*time.Millisecond, act.Recovery.Cooldown)
	assert.Equal(t, 2*time.Second, act.Recovery.Warmup)

	fl := cfg.FleetConfig()
	assert.Equal(t, 500*time.Millisecond, fl.Stagger)
	assert.Equal(t, 3, fl.ConnectAttempts)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvHTTPPort, "9191")
	t.Setenv(EnvMQTTBroker, "broker:1883")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, "broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "http: [nope"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "zone:\n  radius: -1\n"))
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "zone.radius", ve.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		fields []string
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, []string{"http.port"}},
		{"no actuators", func(c *Config) { c.Actuators.IDs = nil }, []string{"actuators.ids"}},
		{"duplicate id", func(c *Config) { c.Actuators.IDs = []int{1, 1} }, []string{"actuators.ids"}},
		{"unknown link", func(c *Config) { c.Actuators.Link = "serial" }, []string{"actuators.link"}},
		{"http without url", func(c *Config) { c.Actuators.Link = LinkHTTP }, []string{"actuators.http_url"}},
		{"negative warmup", func(c *Config) { c.Recovery.WarmupS = -1 }, []string{"recovery.warmup_s"}},
		{"grace above threshold", func(c *Config) { c.Recovery.LostGraceS = 5 }, []string{"recovery.lost_grace_s"}},
		{"class map collision", func(c *Config) { c.Detector.ClassMap = map[int]string{1: "x", 2: "x"} }, []string{"detector.class_map"}},
		{"personality range", func(c *Config) {
			c.Actuators.Personalities = map[int]PersonalityConfig{0: {BaseMin: 30, BaseMax: 10}}
		}, []string{"actuators.personalities.0"}},
		{"several", func(c *Config) { c.Zone.Radius = 0; c.Dispatch.Capacity = 0; c.MQTT.QoS = 3 },
			[]string{"zone.radius", "dispatch.capacity", "mqtt.qos"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			for _, f := range tt.fields {
				assert.Contains(t, err.Error(), f+":")
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv(EnvConfig, "")
	assert.Equal(t, "swarm.yaml", Path("swarm.yaml"))
	t.Setenv(EnvConfig, "/etc/swarm.yaml")
	assert.Equal(t, "/etc/swarm.yaml", Path("swarm.yaml"))

	t.Setenv(EnvBridgeURL, "")
	assert.Equal(t, DefaultBridgeURL, BridgeURL())
	t.Setenv(EnvBridgeURL, "ws://10.0.0.2:9097")
	assert.Equal(t, "ws://10.0.0.2:9097", BridgeURL())
}
