package messages

import "time"

// MeasurementAttemptEvent is published by the orchestrator after every attempt.
// EventID is the de-duplication key for QoS1 redelivery.
type MeasurementAttemptEvent struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Point     string    `json:"point"`
	Attempt   int       `json:"attempt"`
	DustLevel float64   `json:"dust_level"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}
