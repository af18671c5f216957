package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

// MeasurementLister reads stored records, newest first.
type MeasurementLister interface {
	List(ctx context.Context, point string, limit int) ([]model.MeasurementRecord, error)
}

// NewHTTPMux exposes the run status, stored measurements and metrics.
func NewHTTPMux(o *Orchestrator, store MeasurementLister, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		last := o.LastReport()
		ready := o.Ready() && (last.Finished.IsZero() || last.Err == "")
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]bool{"ready": ready})
	})

	mux.HandleFunc("/run", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, o.LastReport())
	})

	// GET /measurements?point=A1&limit=50
	mux.HandleFunc("/measurements", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no measurement store"})
			return
		}
		q := r.URL.Query()
		limit := 100
		if v := strings.TrimSpace(q.Get("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		recs, err := store.List(ctx, strings.TrimSpace(q.Get("point")), limit)
		if err != nil {
			w.Header().Set("X-Error", "query-error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
