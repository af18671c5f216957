package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

func TestControlMetrics(t *testing.T) {
	c := NewControl(prometheus.NewRegistry())

	c.Opened()
	c.Opened()
	c.Closed("completed")
	c.Rejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conns.WithLabelValues("limit")))
}

func TestOrchestratorMetrics(t *testing.T) {
	o := NewOrchestrator(prometheus.NewRegistry())

	o.Attempt("below_threshold")
	o.Attempt("below_threshold")
	o.Point("succeeded")
	o.PersistFailed()
	o.DustLevel("A1", 42)
	o.ObserveCommand("goHome", 10*time.Millisecond, nil)
	o.ObserveCommand("goHome", time.Second, &rpa.Error{Kind: rpa.KindNoResponse})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.attempts.WithLabelValues("below_threshold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.points.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.persistFailures))
	assert.Equal(t, 42.0, testutil.ToFloat64(o.dust.WithLabelValues("A1")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.commands))
}

func TestNilCollectorsAreNoOps(t *testing.T) {
	var c *Control
	var o *Orchestrator
	assert.NotPanics(t, func() {
		c.Opened()
		c.Closed("x")
		c.Rejected()
		o.Attempt("x")
		o.Point("x")
		o.PersistFailed()
		o.DustLevel("p", 1)
		o.ObserveCommand("c", 0, nil)
	})
}
