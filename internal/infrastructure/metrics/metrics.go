package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "terrarium"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the Prometheus collectors for one process.
//
// Each Metrics owns its registry, so tests can create as many as they like
// without colliding on the default registerer.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	exchanges       *prometheus.CounterVec
	exchangeTiming  *prometheus.SummaryVec
	cycles          *prometheus.CounterVec
	cycleTiming     prometheus.Summary
	sinkWrites      *prometheus.CounterVec
	intents         *prometheus.CounterVec
	commands        *prometheus.CounterVec
	sensor          *prometheus.GaugeVec
	lastReading     prometheus.Gauge
	actuatorOn      *prometheus.GaugeVec
	brightness      prometheus.Gauge
	wsClients       prometheus.GaugeFunc
	wsClientCounter func() float64
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "exchanges_total",
				Help:      "Serial exchanges by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		exchangeTiming: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  Namespace,
				Subsystem:  "link",
				Name:       "exchange_duration_seconds",
				Help:       "Serial exchange duration including settle delay.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"command"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "poller",
				Name:      "cycles_total",
				Help:      "Poll cycles by result.",
			},
			[]string{"result"},
		),
		cycleTiming: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Namespace:  Namespace,
				Subsystem:  "poller",
				Name:       "cycle_duration_seconds",
				Help:       "Time from sending READ to the end of auto control.",
				Objectives: map[float64]float64{0.5: 0.05, 0.99: 0.001},
			},
		),
		sinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "poller",
				Name:      "sink_writes_total",
				Help:      "Reading sink writes by result.",
			},
			[]string{"result"},
		),
		intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "auto",
				Name:      "intents_total",
				Help:      "Auto-control intents executed, by action and result.",
			},
			[]string{"action", "result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "actuator",
				Name:      "commands_total",
				Help:      "Actuator commands by actuator and result.",
			},
			[]string{"actuator", "result"},
		),
		sensor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sensor",
				Name:      "value",
				Help:      "Latest sensor measurement.",
			},
			[]string{"measurement"},
		),
		lastReading: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "sensor",
				Name:      "last_reading_timestamp_seconds",
				Help:      "Unix time of the latest valid reading.",
			},
		),
		actuatorOn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "actuator",
				Name:      "on",
				Help:      "1 when the actuator is on.",
			},
			[]string{"actuator"},
		),
		brightness: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "matrix",
				Name:      "brightness",
				Help:      "Matrix brightness level (0-255).",
			},
		),
	}

	m.wsClients = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		},
		func() float64 {
			if m.wsClientCounter == nil {
				return 0
			}
			return m.wsClientCounter()
		},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.exchanges,
		m.exchangeTiming,
		m.cycles,
		m.cycleTiming,
		m.sinkWrites,
		m.intents,
		m.commands,
		m.sensor,
		m.lastReading,
		m.actuatorOn,
		m.brightness,
		m.wsClients,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CountWebSocketClients sets the function that reports connected WebSocket
// clients. It must be called before the first scrape.
func (m *Metrics) CountWebSocketClients(fn func() int) {
	m.wsClientCounter = func() float64 { return float64(fn()) }
}

// ObserveExchange records one serial exchange.
func (m *Metrics) ObserveExchange(command, outcome string, elapsed time.Duration) {
	command = strings.ToLower(command)
	m.exchanges.WithLabelValues(command, outcome).Inc()
	m.exchangeTiming.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveCycle records one poll cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleTiming.Observe(elapsed.Seconds())
}

// ObserveSink records one reading sink write.
func (m *Metrics) ObserveSink(err error) {
	m.sinkWrites.WithLabelValues(result(err)).Inc()
}

// ObserveIntent records one executed auto-control intent.
func (m *Metrics) ObserveIntent(action string, err error) {
	m.intents.WithLabelValues(action, result(err)).Inc()
}

// ObserveCommand records one actuator command.
func (m *Metrics) ObserveCommand(actuator string, err error) {
	m.commands.WithLabelValues(actuator, result(err)).Inc()
}

// ObserveReading updates the sensor gauges from a reading's fields.
// Measurements missing from the reading keep their previous value.
func (m *Metrics) ObserveReading(fields map[string]any, at time.Time) {
	for name, v := range fields {
		switch n := v.(type) {
		case int:
			m.sensor.WithLabelValues(name).Set(float64(n))
		case float64:
			m.sensor.WithLabelValues(name).Set(n)
		}
	}
	m.lastReading.Set(float64(at.Unix()))
}

// SetActuator updates the on/off gauge for an actuator.
func (m *Metrics) SetActuator(actuator string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	m.actuatorOn.WithLabelValues(actuator).Set(v)
}

// SetBrightness updates the matrix brightness gauge.
func (m *Metrics) SetBrightness(level uint8) {
	m.brightness.Set(float64(level))
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
