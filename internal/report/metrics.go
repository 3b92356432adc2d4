package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncwarden"

// Metrics are boring counters only. Every value can be explained by the
// transition journal and the logs.
type Metrics struct {
	registry *prometheus.Registry

	starts      *prometheus.CounterVec
	stops       *prometheus.CounterVec
	exits       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	detections  prometheus.Counter
	dropped     prometheus.Counter
	running     prometheus.Gauge
}

// NewMetrics creates the supervisor metrics on a private registry, together
// with the Go runtime, process and build info collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_starts_total",
				Help:      "Daemon processes spawned by the supervisor",
			},
			[]string{"ownership"},
		),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_stops_total",
				Help:      "Stop requests carried out, by ownership of the stopped process",
			},
			[]string{"ownership"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_exits_total",
				Help:      "Unrequested exits observed, by what observed them (monitor, poll)",
			},
			[]string{"source"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Rendered running/stopped transitions, by what woke the consumer",
			},
			[]string{"source", "running"},
		),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Already-running daemon instances attached to",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "State change events dropped because the channel was full",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daemon_running",
			Help:      "1 while the supervised daemon is running",
		}),
	}

	m.registry.MustRegister(
		m.starts,
		m.stops,
		m.exits,
		m.transitions,
		m.detections,
		m.dropped,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector(namespace),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Started(ownership string) { m.starts.WithLabelValues(ownership).Inc() }

func (m *Metrics) Stopped(ownership string) { m.stops.WithLabelValues(ownership).Inc() }

func (m *Metrics) Exited(source string) { m.exits.WithLabelValues(source).Inc() }

func (m *Metrics) Detected() { m.detections.Inc() }

func (m *Metrics) EventDropped() { m.dropped.Inc() }

func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// Transition counts one rendered status change.
func (m *Metrics) Transition(source string, running bool) {
	label := "false"
	if running {
		label = "true"
	}
	m.transitions.WithLabelValues(source, label).Inc()
}
