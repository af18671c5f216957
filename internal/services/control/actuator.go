package control

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Actuator executes one robot command and returns the text written back to
// the caller. Bulk commands may return multi-line text.
type Actuator interface {
	Execute(ctx context.Context, command string) (string, error)
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(ctx context.Context, command string) (string, error)

func (f ActuatorFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// EchoActuator acknowledges every command without touching hardware.
type EchoActuator struct{}

func (EchoActuator) Execute(_ context.Context, command string) (string, error) {
	return "Command received: " + command, nil
}

// Registry dispatches commands by verb, falling back to another actuator for
// verbs nobody registered (point ids, UI labels).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Actuator
	fallback Actuator
}

func NewRegistry(fallback Actuator) *Registry {
	if fallback == nil {
		fallback = EchoActuator{}
	}
	return &Registry{handlers: make(map[string]Actuator), fallback: fallback}
}

// Register binds verb to handler, replacing any previous binding.
func (r *Registry) Register(verb string, handler Actuator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[verb] = handler
}

func (r *Registry) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for v := range r.handlers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Execute(ctx context.Context, command string) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[command]
	r.mu.RUnlock()
	if !ok {
		h = r.fallback
	}
	return h.Execute(ctx, command)
}

// ConnectionDump renders the server's connection table, one node per line, in
// the same shape the Android service uses for its UI hierarchy.
func ConnectionDump(s *Server) Actuator {
	return ActuatorFunc(func(_ context.Context, _ string) (string, error) {
		conns := s.Connections()
		var b strings.Builder
		fmt.Fprintf(&b, "Node: ControlServer, Text: %s, Children: %d\n", s.Addr(), len(conns))
		for _, c := range conns {
			fmt.Fprintf(&b, "  Node: Connection, Text: %s, State: %s, LastActivity: %s\n",
				c.RemoteAddr, c.State, c.LastActivity.UTC().Format("2006-01-02T15:04:05.000Z"))
		}
		return b.String(), nil
	})
}
