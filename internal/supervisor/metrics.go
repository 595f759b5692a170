package supervisor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	running *prometheus.GaugeVec
	starts  *prometheus.CounterVec
	stops   *prometheus.CounterVec
}

// NewMetrics registers the supervisor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kilomarket",
			Subsystem: "a2a",
			Name:      "instance_running",
			Help:      "1 when the agent server on this port is running.",
		}, []string{"port", "agent"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kilomarket",
			Subsystem: "a2a",
			Name:      "start_total",
			Help:      "Start attempts by result.",
		}, []string{"port", "result"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kilomarket",
			Subsystem: "a2a",
			Name:      "stop_total",
			Help:      "Stop attempts by result.",
		}, []string{"port", "result"}),
	}
	reg.MustRegister(m.running, m.starts, m.stops)
	return m
}

func (m *Metrics) setRunning(port int, agent string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.running.WithLabelValues(strconv.Itoa(port), agent).Set(v)
}

func (m *Metrics) start(port int, result string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(strconv.Itoa(port), result).Inc()
}

func (m *Metrics) stop(port int, result string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(strconv.Itoa(port), result).Inc()
}
