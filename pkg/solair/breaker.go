package solair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Gateway is the contract the orchestrator measures through.
type Gateway interface {
	Probe(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ReadLatest(ctx context.Context) ([]uint16, error)
}

var _ Gateway = (*Client)(nil)

// Breaker fails fast once the instrument has been unreachable for a number of
// consecutive calls, so a dead counter does not cost a connect timeout per
// point. Context cancellation never counts as a failure.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Gateway, name string, fails int, openFor time.Duration) *Breaker {
	if fails <= 0 {
		fails = 3
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(fails)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("solair: breaker %s %s -> %s", name, from, to)
			},
		}),
	}
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Probe(ctx context.Context) error {
	return b.run(func() error { return b.next.Probe(ctx) })
}

func (b *Breaker) Start(ctx context.Context) error {
	return b.run(func() error { return b.next.Start(ctx) })
}

// Stop is best effort and bypasses the breaker so a trip during a measurement
// still lets the instrument be stopped.
func (b *Breaker) Stop(ctx context.Context) error { return b.next.Stop(ctx) }

func (b *Breaker) ReadLatest(ctx context.Context) ([]uint16, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ReadLatest(ctx)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return res.([]uint16), nil
}

func (b *Breaker) run(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, fn() })
	return b.wrap(err)
}

func (b *Breaker) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}
