// Package metrics exposes process counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Perception loop
	FramesRead       atomic.Uint64
	FramesProcessed  atomic.Uint64
	ReadErrors       atomic.Uint64
	DetectErrors     atomic.Uint64
	Detections       atomic.Uint64
	ProcessLatencyMs atomic.Uint64
	Calibrated       atomic.Uint64 // 0 = no frame yet, 1 = frame published

	// Zone and dispatch
	ZoneExits  atomic.Uint64
	ZoneEnters atomic.Uint64

	// Publishing
	PosesPublished atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swarm", Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) register() {
	m.counter("frames_read_total", "Frames read from the camera", &m.FramesRead)
	m.counter("frames_processed_total", "Frames run through the detector", &m.FramesProcessed)
	m.counter("read_errors_total", "Camera read errors", &m.ReadErrors)
	m.counter("detect_errors_total", "Detector errors", &m.DetectErrors)
	m.counter("detections_total", "Detections produced", &m.Detections)
	m.counter("process_latency_ms", "Latency of the last processed frame in milliseconds", &m.ProcessLatencyMs)
	m.counter("calibrated", "World frame published (0 or 1)", &m.Calibrated)
	m.counter("zone_exits_total", "Zone exit edges observed", &m.ZoneExits)
	m.counter("zone_enters_total", "Zone enter edges observed", &m.ZoneEnters)
	m.counter("poses_published_total", "Pose messages published", &m.PosesPublished)
}

// GaugeFunc registers a gauge computed by fn on every scrape. Components
// that keep their own counters (queue, fleet, hubs) are exposed this way.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swarm", Name: name, Help: help},
		fn,
	))
}

// ActuatorGauge registers a gauge labelled with the actuator id.
func (m *Metrics) ActuatorGauge(name, help, id string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "swarm",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"actuator": id},
		},
		fn,
	))
}

// UpdateProcessLatency records how long the last frame took.
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
