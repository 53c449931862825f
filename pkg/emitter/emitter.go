// Package emitter publishes swarm events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/actuator"
	"github.com/teslashibe/go-swarm/pkg/dispatch"
	"github.com/teslashibe/go-swarm/pkg/protocol"
)

// ErrNotConnected is returned by Publish before Connect succeeds.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Config holds broker settings.
type Config struct {
	Broker         string        `yaml:"broker"` // host:port, empty disables the emitter
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	PublishPoses   bool          `yaml:"publish_poses"`
	ConnectTimeout time.Duration `yaml:"-"`
	PublishTimeout time.Duration `yaml:"-"`
}

// DefaultConfig returns the emitter defaults. Broker is left empty.
func DefaultConfig() Config {
	return Config{
		ClientID:       "go-swarm",
		TopicPrefix:    "swarm",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTEmitter publishes zone exits, state transitions and poses.
type MQTTEmitter struct {
	cfg       Config
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	client    mqtt.Client
	published map[string]uint64
	errors    uint64
	connected bool
}

// New creates an emitter. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    log.Or(logger, "emitter"),
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", e.cfg.Broker)
	}

	client := e.newClient(opts)
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) fail() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Publish sends payload to prefix/suffix.
func (e *MQTTEmitter) Publish(suffix string, payload []byte) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()

	if !connected || client == nil {
		e.fail()
		return ErrNotConnected
	}

	topic := e.cfg.TopicPrefix + "/" + suffix
	token := client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.fail()
		return fmt.Errorf("emitter: publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("emitter: publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("published", "topic", topic, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) publishJSON(suffix string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		e.fail()
		return fmt.Errorf("emitter: marshal: %w", err)
	}
	return e.Publish(suffix, payload)
}

// PublishZoneExit publishes ev on prefix/zone_exit.
func (e *MQTTEmitter) PublishZoneExit(ev dispatch.ZoneExitEvent) error {
	return e.publishJSON("zone_exit", ev)
}

// PublishTransition publishes tr on prefix/actuators/<id>/state.
func (e *MQTTEmitter) PublishTransition(tr actuator.Transition) error {
	return e.publishJSON("actuators/"+strconv.Itoa(tr.ActuatorID)+"/state", tr)
}

// PublishPoses publishes pm on prefix/poses when enabled.
func (e *MQTTEmitter) PublishPoses(pm protocol.PoseMessage) error {
	if !e.cfg.PublishPoses {
		return nil
	}
	payload, err := pm.Bytes()
	if err != nil {
		e.fail()
		return err
	}
	return e.Publish("poses", payload)
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}
