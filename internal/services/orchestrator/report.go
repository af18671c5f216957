package orchestrator

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/model"
)

// PointResult is the outcome of one visited point.
type PointResult struct {
	Point    string                     `json:"point"`
	Status   model.PointStatus          `json:"status"`
	Attempts []model.MeasurementAttempt `json:"attempts"`
	Err      string                     `json:"error,omitempty"`
	Started  time.Time                  `json:"started"`
	Finished time.Time                  `json:"finished"`
}

// Report describes one run, in point order.
type Report struct {
	RunID     string        `json:"run_id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished,omitempty"`
	Completed bool          `json:"completed"`
	Err       string        `json:"error,omitempty"`
	Points    []PointResult `json:"points"`
}

// Count returns how many points ended with st.
func (r Report) Count(st model.PointStatus) int {
	n := 0
	for _, p := range r.Points {
		if p.Status == st {
			n++
		}
	}
	return n
}

// Records is the number of readings written to the sink.
func (r Report) Records() int {
	n := 0
	for _, p := range r.Points {
		for _, a := range p.Attempts {
			if a.Persisted {
				n++
			}
		}
	}
	return n
}

func (r Report) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped, %d aborted, %d records",
		r.Count(model.PointSucceeded), r.Count(model.PointFailed),
		r.Count(model.PointSkipped), r.Count(model.PointAborted), r.Records())
}

func (r Report) clone() Report {
	out := r
	out.Points = make([]PointResult, len(r.Points))
	for i, p := range r.Points {
		p.Attempts = append([]model.MeasurementAttempt(nil), p.Attempts...)
		out.Points[i] = p
	}
	return out
}
