package app

import (
	"math"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/internal/services/orchestrator"
)

type Stats struct {
	Points        int     `json:"points"`
	Mean          float64 `json:"mean"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	OverThreshold int     `json:"over_threshold"`
}

type DashboardData struct {
	Run         *orchestrator.Report      `json:"run,omitempty"`
	Latest      []model.MeasurementRecord `json:"latest"`
	Connections []control.ConnectionInfo  `json:"connections"`
	Stats       Stats                     `json:"stats"`
	// Degraded names the upstreams that failed this time; their section is
	// the last good copy, or empty.
	Degraded []string `json:"degraded,omitempty"`
}

func computeStats(latest []model.MeasurementRecord, threshold float64) Stats {
	st := Stats{Points: len(latest)}
	if len(latest) == 0 {
		return st
	}
	var sum float64
	st.Min = math.MaxFloat64
	for _, r := range latest {
		v := r.DustLevel
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		if v > threshold {
			st.OverThreshold++
		}
	}
	st.Mean = math.Round(sum/float64(len(latest))*10) / 10
	return st
}
