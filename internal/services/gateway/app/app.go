// Package app is the dashboard gateway: it fans out to the orchestrator, the
// persistence service and the control server, and serves one combined view.
package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/orchestrator"
)

type Config struct {
	OrchestratorURL string
	PersistenceURL  string
	ControlURL      string
	HTTPTimeout     time.Duration
	DustThreshold   float64

	BreakerFailures int
	BreakerOpenFor  time.Duration
}

type Gateway struct {
	cfg   Config
	run   *Upstream
	data  *Upstream
	conns *Upstream

	// last good payload per upstream, served while it is failing
	mu         sync.Mutex
	lastRun    *orchestrator.Report
	lastLatest []model.MeasurementRecord
	lastConns  []control.ConnectionInfo
}

func NewGateway(cfg Config) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	if cfg.DustThreshold <= 0 {
		cfg.DustThreshold = 50
	}
	return &Gateway{
		cfg:   cfg,
		run:   NewUpstream("orchestrator", cfg.OrchestratorURL, "/run", cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor),
		data:  NewUpstream("persistence", cfg.PersistenceURL, "/data/latest", cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor),
		conns: NewUpstream("control", cfg.ControlURL, "/connections", cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor),
	}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/dashboard/data", g.HandleDashboard)
	mux.HandleFunc("/dashboard/breakers", g.HandleBreakers)
	return mux
}
