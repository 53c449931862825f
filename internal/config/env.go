package config

import (
	"os"
	"strconv"
)

// Environment variables read by go-swarm.
const (
	EnvConfig     = "SWARM_CONFIG"
	EnvHTTPPort   = "SWARM_HTTP_PORT"
	EnvMQTTBroker = "SWARM_MQTT_BROKER"
	EnvBridgeURL  = "SWARM_BRIDGE_URL"
	EnvLogLevel   = "SWARM_LOG_LEVEL"
)

// DefaultBridgeURL is where cmd/bridge-sim looks for the swarm server.
const DefaultBridgeURL = "ws://localhost:9097"

// Path returns the config file from SWARM_CONFIG.
// Falls back to the provided default if not set.
func Path(defaultPath string) string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return defaultPath
}

// BridgeURL returns the swarm server websocket base from SWARM_BRIDGE_URL.
func BridgeURL() string {
	if u := os.Getenv(EnvBridgeURL); u != "" {
		return u
	}
	return DefaultBridgeURL
}

// ApplyEnv overrides file values with the environment.
func ApplyEnv(c *Config) {
	if v := os.Getenv(EnvHTTPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}
