package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

func jsonServer(t *testing.T, hits *atomic.Int32, fail *atomic.Bool, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if fail != nil && fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dashboard(t *testing.T, g *Gateway) DashboardData {
	t.Helper()
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/data", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out DashboardData
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestDashboardCombinesUpstreams(t *testing.T) {
	run := jsonServer(t, nil, nil, map[string]any{
		"run_id": "r1", "completed": true,
		"points": []map[string]any{{"point": "A1", "status": "succeeded"}},
	})
	data := jsonServer(t, nil, nil, []model.MeasurementRecord{
		{Point: "A2", DustLevel: 61},
		{Point: "A1", DustLevel: 45},
		{Point: "A3", DustLevel: 50},
	})
	ctl := jsonServer(t, nil, nil, []map[string]any{{"id": 1, "state": "SERVING", "commands": 4}})

	g := NewGateway(Config{OrchestratorURL: run.URL, PersistenceURL: data.URL, ControlURL: ctl.URL})
	out := dashboard(t, g)

	require.NotNil(t, out.Run)
	assert.Equal(t, "r1", out.Run.RunID)
	assert.True(t, out.Run.Completed)
	require.Len(t, out.Latest, 3)
	assert.Equal(t, []string{"A1", "A2", "A3"}, []string{out.Latest[0].Point, out.Latest[1].Point, out.Latest[2].Point})
	require.Len(t, out.Connections, 1)
	assert.Equal(t, "SERVING", out.Connections[0].StateName)
	assert.Empty(t, out.Degraded)

	assert.Equal(t, Stats{Points: 3, Mean: 52, Min: 45, Max: 61, OverThreshold: 1}, out.Stats)
}

func TestDashboardServesLastGoodCopyWhileUpstreamFails(t *testing.T) {
	var fail atomic.Bool
	data := jsonServer(t, nil, &fail, []model.MeasurementRecord{{Point: "A1", DustLevel: 30}})
	g := NewGateway(Config{PersistenceURL: data.URL})

	first := dashboard(t, g)
	require.Len(t, first.Latest, 1)

	fail.Store(true)
	second := dashboard(t, g)
	assert.Equal(t, []string{"persistence"}, second.Degraded)
	require.Len(t, second.Latest, 1)
	assert.Equal(t, 30.0, second.Latest[0].DustLevel)
}

func TestUnconfiguredUpstreamsAreNotDegraded(t *testing.T) {
	out := dashboard(t, NewGateway(Config{}))
	assert.Nil(t, out.Run)
	assert.Empty(t, out.Latest)
	assert.Empty(t, out.Connections)
	assert.Empty(t, out.Degraded)
}

func TestBreakerStopsCallingFailingUpstream(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	ctl := jsonServer(t, &hits, &fail, nil)

	g := NewGateway(Config{ControlURL: ctl.URL, BreakerFailures: 2, BreakerOpenFor: time.Minute})
	for i := 0; i < 5; i++ {
		out := dashboard(t, g)
		assert.Equal(t, []string{"control"}, out.Degraded)
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, gobreaker.StateOpen, g.conns.State())

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/breakers", nil))
	var states map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&states))
	assert.Equal(t, "open", states["control"])
	assert.Equal(t, "closed", states["persistence"])
}

func TestComputeStatsEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, computeStats(nil, 50))
}
