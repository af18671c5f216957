package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

var ErrNotConfigured = errors.New("upstream not configured")

// Upstream is a JSON GET endpoint behind its own circuit breaker.
type Upstream struct {
	name    string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewUpstream(name, base, path string, timeout time.Duration, fails int, openFor time.Duration) *Upstream {
	if fails < 1 {
		fails = 3
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	url := ""
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		url = base + "/" + strings.TrimLeft(path, "/")
	}
	return &Upstream{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(fails)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("gateway: breaker %s %s -> %s", name, from, to)
			},
		}),
	}
}

func (u *Upstream) Name() string { return u.name }

func (u *Upstream) State() gobreaker.State { return u.breaker.State() }

// GetJSON fetches the endpoint and decodes it into out. While the breaker is
// open no request is made.
func (u *Upstream) GetJSON(ctx context.Context, out any) error {
	if u.url == "" {
		return ErrNotConfigured
	}
	_, err := u.breaker.Execute(func() (any, error) {
		return nil, u.get(ctx, out)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	return nil
}

func (u *Upstream) get(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
