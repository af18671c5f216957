package messages

import "time"

// PointResultEvent closes a point: one per visited point and run.
type PointResultEvent struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Point     string    `json:"point"`
	Status    string    `json:"status"` // succeeded | failed | skipped | aborted
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}
