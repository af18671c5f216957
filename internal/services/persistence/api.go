package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

// LatestQuerier reads the newest reading per point from a durable store.
type LatestQuerier interface {
	QueryLatest(ctx context.Context, minutes int) ([]model.MeasurementRecord, error)
}

// Health reports dependency state for /healthz and /readyz.
type Health struct {
	MQTTConnected func() bool
	Influx        *InfluxSink
	MinErrorAge   time.Duration
}

func (h Health) mqttOK() bool { return h.MQTTConnected != nil && h.MQTTConnected() }

func (h Health) influxOK() bool {
	return h.Influx != nil && h.Influx.LastErrorAge() > h.MinErrorAge
}

func NewHTTPMux(svc *Service, store LatestQuerier, health Health) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		type status struct {
			Status          string  `json:"status"`
			MQTTConnected   bool    `json:"mqtt_connected"`
			InfluxOK        bool    `json:"influx_ok"`
			LastWriteErrorS float64 `json:"last_write_error_age_sec"`
		}
		st := status{
			MQTTConnected:   health.mqttOK(),
			InfluxOK:        health.influxOK(),
			LastWriteErrorS: health.Influx.LastErrorAge().Seconds(),
		}
		switch {
		case st.MQTTConnected && st.InfluxOK:
			st.Status = "ok"
		case st.MQTTConnected || st.InfluxOK:
			st.Status = "degraded"
		default:
			st.Status = "down"
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ready := health.mqttOK() && health.influxOK()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]bool{"ready": ready})
	})

	// GET /data/latest?source=auto|influx|cache&minutes=1440
	mux.HandleFunc("/data/latest", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		source := strings.ToLower(q.Get("source"))
		if source == "" {
			source = "auto"
		}
		minutes := 60 * 24
		if s := q.Get("minutes"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				minutes = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var (
			list []model.MeasurementRecord
			used string
		)
		if store != nil && (source == "influx" || source == "auto") {
			if l, err := store.QueryLatest(ctx, minutes); err == nil && len(l) > 0 {
				list, used = l, "influx"
			}
		}
		if used == "" {
			list, used = svc.LatestCache(), "cache"
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Point < list[j].Point })

		w.Header().Set("X-Data-Source", used)
		writeJSON(w, http.StatusOK, list)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
