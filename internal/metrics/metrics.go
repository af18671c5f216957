// Package metrics holds the Prometheus collectors of the control server and
// the orchestrator. Each constructor registers on the Registerer it is given so
// tests can use a private registry; a nil receiver is a no-op.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

// Control tracks connections on the robot-side server.
type Control struct {
	active prometheus.Gauge
	conns  *prometheus.CounterVec
}

func NewControl(reg prometheus.Registerer) *Control {
	c := &Control{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpa_active_connections",
			Help: "Control connections currently open.",
		}),
		conns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpa_connections_total",
			Help: "Control connections by how they ended.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.active, c.conns)
	return c
}

func (c *Control) Opened() {
	if c == nil {
		return
	}
	c.active.Inc()
}

func (c *Control) Closed(result string) {
	if c == nil {
		return
	}
	c.active.Dec()
	c.conns.WithLabelValues(result).Inc()
}

// Rejected counts connections refused by the connection limit. They never
// became active.
func (c *Control) Rejected() {
	if c == nil {
		return
	}
	c.conns.WithLabelValues("limit").Inc()
}

// Orchestrator tracks a measurement run.
type Orchestrator struct {
	attempts        *prometheus.CounterVec
	points          *prometheus.CounterVec
	persistFailures prometheus.Counter
	commands        *prometheus.HistogramVec
	dust            *prometheus.GaugeVec
}

func NewOrchestrator(reg prometheus.Registerer) *Orchestrator {
	o := &Orchestrator{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dust_measurement_attempts_total",
			Help: "Measurement attempts by outcome.",
		}, []string{"outcome"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dust_points_total",
			Help: "Visited points by final status.",
		}, []string{"status"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dust_persist_failures_total",
			Help: "Measurements that could not be stored.",
		}),
		commands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpa_command_duration_seconds",
			Help:    "Command channel round trips.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"result"}),
		dust: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dust_level_last",
			Help: "Last dust level read at each point.",
		}, []string{"point"}),
	}
	reg.MustRegister(o.attempts, o.points, o.persistFailures, o.commands, o.dust)
	return o
}

func (o *Orchestrator) Attempt(outcome string) {
	if o == nil {
		return
	}
	o.attempts.WithLabelValues(outcome).Inc()
}

func (o *Orchestrator) Point(status string) {
	if o == nil {
		return
	}
	o.points.WithLabelValues(status).Inc()
}

func (o *Orchestrator) PersistFailed() {
	if o == nil {
		return
	}
	o.persistFailures.Inc()
}

func (o *Orchestrator) DustLevel(point string, v float64) {
	if o == nil {
		return
	}
	o.dust.WithLabelValues(point).Set(v)
}

// ObserveCommand matches rpa.Observer.
func (o *Orchestrator) ObserveCommand(_ string, elapsed time.Duration, err error) {
	if o == nil {
		return
	}
	o.commands.WithLabelValues(commandResult(err)).Observe(elapsed.Seconds())
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rpa.ErrChannelUnavailable):
		return "unavailable"
	case errors.Is(err, rpa.ErrHandshakeRejected):
		return "rejected"
	case errors.Is(err, rpa.ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, rpa.ErrNoResponse):
		return "no_response"
	default:
		return "error"
	}
}
