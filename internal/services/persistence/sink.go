package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrWriteFailed wraps every sink write failure.
var ErrWriteFailed = errors.New("persistence failure")

// Sink is the durable append-only store of measurements. The sink assigns
// the timestamp.
type Sink interface {
	Append(ctx context.Context, point string, dustLevel float64) error
}

// Multi writes to a primary sink and mirrors to secondaries. Only a primary
// failure is returned; mirror failures are logged.
type Multi struct {
	primary Sink
	mirrors []Sink
}

func NewMulti(primary Sink, mirrors ...Sink) *Multi {
	return &Multi{primary: primary, mirrors: mirrors}
}

func (m *Multi) Append(ctx context.Context, point string, dustLevel float64) error {
	err := m.primary.Append(ctx, point, dustLevel)
	for _, s := range m.mirrors {
		if merr := s.Append(ctx, point, dustLevel); merr != nil {
			log.Printf("persistence: mirror write point=%s failed: %v", point, merr)
		}
	}
	return err
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrWriteFailed, op, err)
}
