package entities

import "time"

// Outcome classifies a single measurement attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted" // value <= threshold
	OutcomeExceeded Outcome = "exceeded"
	OutcomeNoData   Outcome = "no_data"
)

// MeasurementAttempt is one start/settle/read cycle at a point.
type MeasurementAttempt struct {
	Point     string    `json:"point"`
	Attempt   int       `json:"attempt"` // 1..MaxRetries
	DustLevel float64   `json:"dust_level"`
	Outcome   Outcome   `json:"outcome"`
	Persisted bool      `json:"persisted"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// HasValue reports whether the attempt produced a reading worth persisting.
func (a MeasurementAttempt) HasValue() bool { return a.Outcome != OutcomeNoData }

// MeasurementRecord is a persisted reading; the sink assigns Timestamp.
type MeasurementRecord struct {
	ID        int64     `json:"id,omitempty"`
	Point     string    `json:"point"`
	DustLevel float64   `json:"dust_level"`
	Timestamp time.Time `json:"timestamp"`
}
