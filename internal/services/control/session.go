package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

// State of one control connection.
type State int

const (
	StateAwaitHandshake State = iota
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitHandshake:
		return "AWAIT_HANDSHAKE"
	case StateServing:
		return "SERVING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID           uint64    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	Commands     int       `json:"commands"`
	Opened       time.Time `json:"opened"`
	LastActivity time.Time `json:"last_activity"`
}

type session struct {
	id     uint64
	conn   net.Conn
	remote string
	opened time.Time

	mu           sync.Mutex
	state        State
	commands     int
	lastActivity time.Time

	closeOnce sync.Once
}

func newSession(id uint64, conn net.Conn) *session {
	now := time.Now()
	return &session{
		id:           id,
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		opened:       now,
		lastActivity: now,
	}
}

func (c *session) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *session) touch(command bool) {
	c.mu.Lock()
	c.lastActivity = time.Now()
	if command {
		c.commands++
	}
	c.mu.Unlock()
}

func (c *session) info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:           c.id,
		RemoteAddr:   c.remote,
		State:        c.state,
		StateName:    c.state.String(),
		Commands:     c.commands,
		Opened:       c.opened,
		LastActivity: c.lastActivity,
	}
}

func (c *session) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		_ = c.conn.Close()
	})
}

// serveSession drives one connection through AWAIT_HANDSHAKE, SERVING and
// CLOSED. It always leaves the connection closed.
func (s *Server) serveSession(ctx context.Context, sess *session) {
	result := "completed"
	defer func() {
		if r := recover(); r != nil {
			log.Printf("control: panic serving %s: %v", sess.remote, r)
			result = "panic"
		}
		sess.close()
		s.forget(sess)
		s.metrics.Closed(result)
		log.Printf("control: connection %s closed (%s)", sess.remote, result)
	}()

	log.Printf("control: accepted connection from %s", sess.remote)

	sc := bufio.NewScanner(sess.conn)
	sc.Buffer(make([]byte, 0, 1024), s.cfg.MaxLineBytes)

	_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if !sc.Scan() {
		log.Printf("control: %s went away before handshake: %v", sess.remote, scanErr(sc.Err()))
		result = "no_handshake"
		return
	}
	if hs := strings.TrimSpace(sc.Text()); hs != rpa.Handshake {
		// nothing is written back on a bad handshake
		log.Printf("control: invalid handshake %q from %s", truncate(hs, 64), sess.remote)
		result = "rejected"
		return
	}
	if err := s.writeLine(sess, rpa.HandshakeAck); err != nil {
		log.Printf("control: ack to %s failed: %v", sess.remote, err)
		result = "write_error"
		return
	}
	sess.setState(StateServing)
	sess.touch(false)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		} else {
			_ = sess.conn.SetReadDeadline(time.Time{})
		}
		if !sc.Scan() {
			if err := scanErr(sc.Err()); err != nil {
				log.Printf("control: read from %s: %v", sess.remote, err)
				result = "read_error"
			}
			return
		}
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		sess.touch(true)
		if rpa.IsDone(cmd) {
			log.Printf("control: %s ended the session", sess.remote)
			return
		}

		log.Printf("control: executing %q from %s", truncate(cmd, 128), sess.remote)
		out, err := s.actuator.Execute(ctx, cmd)
		if err != nil {
			log.Printf("control: command %q failed: %v", truncate(cmd, 128), err)
			out = fmt.Sprintf("Command failed: %s: %v", cmd, err)
		}
		if rpa.IsBulk(cmd) {
			// bulk replies are always framed, failures included
			err = s.writeBulk(sess, out)
		} else {
			err = s.writeLine(sess, singleLine(out))
		}
		if err != nil {
			log.Printf("control: write to %s: %v", sess.remote, err)
			result = "write_error"
			return
		}
	}
}

func (s *Server) writeLine(sess *session, line string) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := io.WriteString(sess.conn, line+"\n")
	return err
}

func (s *Server) writeBulk(sess *session, payload string) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	w := bufio.NewWriterSize(sess.conn, rpa.BulkFrameBytes)
	for _, f := range rpa.Frame(payload) {
		if _, err := w.WriteString(f); err != nil {
			return err
		}
	}
	return w.Flush()
}

// scanErr drops the errors that just mean the peer or the server hung up.
func scanErr(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// singleLine keeps a non-bulk reply on exactly one line.
func singleLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
