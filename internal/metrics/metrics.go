// Package metrics exports controller state in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/status"
)

// Metrics holds the controller collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	level       prometheus.Gauge
	distance    prometheus.Gauge
	current     prometheus.Gauge
	power       prometheus.Gauge
	peakPower   prometheus.Gauge
	energy      prometheus.Gauge
	pumpRunning prometheus.Gauge
	autoMode    prometheus.Gauge
	sensorUp    *prometheus.GaugeVec
	mqttUp      prometheus.Gauge
	transitions *prometheus.CounterVec

	mqttBuffered prometheus.Gauge
	mqttDropped  prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	lastCounts  logic.EventCounts
	lastDropped int
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_level_percent",
			Help: "Tank fill level (0 empty, 100 full); -1 when no reading.",
		}),
		distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_distance_cm",
			Help: "Distance from the ranger to the water surface; -1 when no reading.",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "load_current_amps",
			Help: "RMS load current from the current transformer.",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "power_watts",
			Help: "Apparent power of the last energy meter update.",
		}),
		peakPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "power_peak_watts",
			Help: "Highest apparent power since start.",
		}),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "energy_kwh",
			Help: "Energy consumed since start.",
		}),
		pumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pump_running",
			Help: "1 when the pump relay is on.",
		}),
		autoMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pump_auto_mode",
			Help: "1 when automatic level control is enabled.",
		}),
		sensorUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensor_connected",
			Help: "1 when the sensor answered its presence probe.",
		}, []string{"sensor"}),
		mqttUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "1 when the broker connection is up.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pump_events_total",
			Help: "Pump state machine events by kind.",
		}, []string{"event"}),
		mqttBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_buffered_messages",
			Help: "Messages waiting for the broker connection.",
		}),
		mqttDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_dropped_messages_total",
			Help: "Messages evicted from a full offline buffer.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.level,
		m.distance,
		m.current,
		m.power,
		m.peakPower,
		m.energy,
		m.pumpRunning,
		m.autoMode,
		m.sensorUp,
		m.mqttUp,
		m.transitions,
		m.mqttBuffered,
		m.mqttDropped,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	for _, ev := range []string{"pump_on", "pump_off", "safety_stop", "override_rejected"} {
		m.transitions.WithLabelValues(ev)
	}
	m.level.Set(-1)
	m.distance.Set(-1)
	return m
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe copies a status snapshot into the gauges. Counters advance by the
// difference from the previous snapshot. Called from the control loop only.
func (m *Metrics) Observe(s status.Snapshot) {
	if m == nil {
		return
	}
	m.level.Set(float64(s.Readings.Level))
	m.distance.Set(float64(s.Readings.Distance))
	m.current.Set(float64(s.Readings.Current))
	m.power.Set(float64(s.Readings.Power))
	m.peakPower.Set(float64(s.Readings.PeakPower))
	m.energy.Set(float64(s.Readings.Energy))
	m.pumpRunning.Set(boolGauge(s.Pump == logic.StateOn))
	m.autoMode.Set(boolGauge(s.AutoMode))
	m.sensorUp.WithLabelValues("current").Set(boolGauge(s.Sensors.Current))
	m.sensorUp.WithLabelValues("power").Set(boolGauge(s.Sensors.Power))
	m.sensorUp.WithLabelValues("level").Set(boolGauge(s.Sensors.Level))
	m.mqttUp.Set(boolGauge(s.MQTTConnected))

	add := func(ev string, now, prev int) {
		if d := now - prev; d > 0 {
			m.transitions.WithLabelValues(ev).Add(float64(d))
		}
	}
	add("pump_on", s.Counts.PumpOn, m.lastCounts.PumpOn)
	add("pump_off", s.Counts.PumpOff, m.lastCounts.PumpOff)
	add("safety_stop", s.Counts.SafetyStops, m.lastCounts.SafetyStops)
	add("override_rejected", s.Counts.OverrideRejected, m.lastCounts.OverrideRejected)
	m.lastCounts = s.Counts
}

// ObserveMQTT records the offline buffer depth and the total dropped count.
func (m *Metrics) ObserveMQTT(buffered, dropped int) {
	if m == nil {
		return
	}
	m.mqttBuffered.Set(float64(buffered))
	if d := dropped - m.lastDropped; d > 0 {
		m.mqttDropped.Add(float64(d))
	}
	m.lastDropped = dropped
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
