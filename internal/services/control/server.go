package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/internal/metrics"
)

type Config struct {
	BindAddress      string
	Port             int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration // 0 waits for commands forever
	WriteTimeout     time.Duration
	MaxLineBytes     int
	MaxConnections   int // 0 means unlimited
}

// Server is the robot-side endpoint of the command channel. Each accepted
// connection is served by its own goroutine; a fault in one connection never
// reaches the accept loop or the others.
type Server struct {
	cfg      Config
	actuator Actuator
	metrics  *metrics.Control

	mu       sync.Mutex
	listener net.Listener
	sessions map[uint64]*session
	nextID   uint64

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg Config, actuator Actuator) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if actuator == nil {
		actuator = EchoActuator{}
	}
	return &Server{
		cfg:      cfg,
		actuator: actuator,
		sessions: make(map[uint64]*session),
		closed:   make(chan struct{}),
	}
}

// SetMetrics attaches collectors; call before Serve.
func (s *Server) SetMetrics(m *metrics.Control) { s.metrics = m }

// SetActuator swaps the dispatch target; call before Serve.
func (s *Server) SetActuator(a Actuator) { s.actuator = a }

// Listen binds the control port. A bind failure is fatal for the caller.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	log.Printf("control: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ListenAndServe binds and runs the accept loop until ctx ends or Close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop on a listener bound by Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("control: Serve called before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// transient accept errors (EMFILE and friends) back off and retry
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			log.Printf("control: accept error: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		sess, err := s.track(conn)
		if errors.Is(err, errServerClosed) {
			_ = conn.Close()
			return nil
		}
		if err != nil {
			log.Printf("control: rejected %s (%v)", conn.RemoteAddr(), err)
			s.metrics.Rejected()
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			s.serveSession(ctx, sess)
		}()
	}
}

// Close stops accepting, closes every live connection and waits for their
// workers. Safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.listener != nil {
			err = s.listener.Close()
		}
		live := make([]*session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			live = append(live, sess)
		}
		s.mu.Unlock()
		for _, sess := range live {
			sess.close()
		}
		s.wg.Wait()
		log.Printf("control: server closed")
	})
	return err
}

// Connections returns a snapshot of the live connections, oldest first.
func (s *Server) Connections() []ConnectionInfo {
	s.mu.Lock()
	out := make([]ConnectionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var errServerClosed = errors.New("server closed")

// track registers conn and its worker. The closed check and wg.Add happen
// under s.mu so a connection accepted during Close is either in Close's
// snapshot or refused.
func (s *Server) track(conn net.Conn) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return nil, errServerClosed
	default:
	}
	if s.cfg.MaxConnections > 0 && len(s.sessions) >= s.cfg.MaxConnections {
		return nil, fmt.Errorf("connection limit %d reached", s.cfg.MaxConnections)
	}
	s.nextID++
	sess := newSession(s.nextID, conn)
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.Opened()
	return sess, nil
}

func (s *Server) forget(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}
