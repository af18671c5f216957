package messages

import "time"

// RunSummaryEvent counts point outcomes seen so far for one run.
type RunSummaryEvent struct {
	RunID     string         `json:"run_id"`
	Points    int            `json:"points"`
	ByStatus  map[string]int `json:"by_status"`
	Attempts  int            `json:"attempts"`
	Timestamp time.Time      `json:"timestamp"`
}
