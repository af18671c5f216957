package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/orchestrator"
)

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		run     orchestrator.Report
		latest  []model.MeasurementRecord
		conns   []control.ConnectionInfo
		errRun  error
		errData error
		errConn error
	)
	wg.Add(3)
	go func() { defer wg.Done(); errRun = g.run.GetJSON(ctx, &run) }()
	go func() { defer wg.Done(); errData = g.data.GetJSON(ctx, &latest) }()
	go func() { defer wg.Done(); errConn = g.conns.GetJSON(ctx, &conns) }()
	wg.Wait()

	data := DashboardData{Latest: []model.MeasurementRecord{}, Connections: []control.ConnectionInfo{}}

	g.mu.Lock()
	if degraded(&data, g.run, errRun) {
		data.Run = g.lastRun
	} else if errRun == nil {
		g.lastRun = &run
		data.Run = &run
	}
	if degraded(&data, g.data, errData) {
		if g.lastLatest != nil {
			data.Latest = g.lastLatest
		}
	} else if errData == nil && latest != nil {
		g.lastLatest = latest
		data.Latest = latest
	}
	if degraded(&data, g.conns, errConn) {
		if g.lastConns != nil {
			data.Connections = g.lastConns
		}
	} else if errConn == nil && conns != nil {
		g.lastConns = conns
		data.Connections = conns
	}
	g.mu.Unlock()

	sort.Slice(data.Latest, func(i, j int) bool { return data.Latest[i].Point < data.Latest[j].Point })
	data.Stats = computeStats(data.Latest, g.cfg.DustThreshold)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)

	log.Printf("gateway: GET /dashboard/data [%dms] cb[orch]=%v cb[pers]=%v cb[ctl]=%v points=%d degraded=%v",
		time.Since(start).Milliseconds(), g.run.State(), g.data.State(), g.conns.State(),
		len(data.Latest), data.Degraded)
}

// degraded records a failed upstream. An unconfigured upstream is not a
// failure.
func degraded(data *DashboardData, u *Upstream, err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return false
	}
	data.Degraded = append(data.Degraded, u.Name())
	return true
}

func (g *Gateway) HandleBreakers(w http.ResponseWriter, _ *http.Request) {
	out := map[string]string{}
	for _, u := range []*Upstream{g.run, g.data, g.conns} {
		out[u.Name()] = u.State().String()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
