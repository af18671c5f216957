package rpa

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Session keeps one handshaken connection open for several commands. The
// server serves commands on a session until it reads "done".
type Session struct {
	c    *Client
	conn net.Conn
	r    *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// Open dials and handshakes a long-lived session.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	conn, r, err := c.open(ctx, Handshake)
	if err != nil {
		return nil, err
	}
	return &Session{c: c, conn: conn, r: r}, nil
}

// Send issues one command on the session. "done" is not allowed here; use
// Close to end the session.
func (s *Session) Send(ctx context.Context, command string) (Response, error) {
	command = strings.TrimSpace(command)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || IsDone(command) {
		return Response{Command: command}, &Error{Kind: KindChannelUnavailable, Command: command, Addr: s.c.cfg.Addr, Err: net.ErrClosed}
	}

	start := time.Now()
	resp, err := s.c.exchange(ctx, s.conn, s.r, command)
	if s.c.observer != nil {
		s.c.observer(command, time.Since(start), err)
	}
	return resp, err
}

// Close sends "done" and closes the connection. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = io.WriteString(s.conn, DoneCommand+"\n")
	return s.conn.Close()
}
