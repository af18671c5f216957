package entities

// PointStatus is the final state of a visited point.
type PointStatus string

const (
	PointSucceeded PointStatus = "succeeded"
	PointFailed    PointStatus = "failed"  // retries exhausted
	PointSkipped   PointStatus = "skipped" // gateway unreachable
	PointAborted   PointStatus = "aborted" // move failed or run cancelled
)

// PointSequence is the ordered list of points visited in one run.
type PointSequence []string
