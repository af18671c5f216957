package rpa

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

type ClientConfig struct {
	Addr            string
	DialTimeout     time.Duration
	ReadTimeout     time.Duration // handshake ack and single responses
	BulkReadTimeout time.Duration // idle time allowed between bulk frames
}

// Response is the payload returned for one command.
type Response struct {
	Command string
	Text    string
	Bulk    bool
	Chunks  int
}

// Empty reports whether the endpoint returned nothing usable.
func (r Response) Empty() bool { return strings.TrimSpace(r.Text) == "" }

// Observer is notified after every round trip.
type Observer func(command string, elapsed time.Duration, err error)

// Client sends commands over a fresh connection per call. It never pools or
// reuses connections, so a stale socket cannot leak between commands.
type Client struct {
	cfg      ClientConfig
	dialer   net.Dialer
	observer Observer
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.BulkReadTimeout <= 0 {
		cfg.BulkReadTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, dialer: net.Dialer{Timeout: cfg.DialTimeout}}
}

// SetObserver installs a round-trip hook (metrics).
func (c *Client) SetObserver(o Observer) { c.observer = o }

func (c *Client) Addr() string { return c.cfg.Addr }

// SendCommand performs handshake, command and response on a new connection.
// Failures are returned as *Error carrying the taxonomy kind.
func (c *Client) SendCommand(ctx context.Context, command string) (Response, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, command)
	if c.observer != nil {
		c.observer(command, time.Since(start), err)
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, command string) (Response, error) {
	command = strings.TrimSpace(command)
	conn, r, err := c.open(ctx, command)
	if err != nil {
		return Response{Command: command, Bulk: IsBulk(command)}, err
	}
	defer conn.Close()
	return c.exchange(ctx, conn, r, command)
}

// open dials and completes the handshake. command only labels errors.
func (c *Client) open(ctx context.Context, command string) (net.Conn, *bufio.Reader, error) {
	fail := func(k Kind, err error) (net.Conn, *bufio.Reader, error) {
		return nil, nil, &Error{Kind: k, Command: command, Addr: c.cfg.Addr, Err: err}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fail(KindChannelUnavailable, err)
	}
	// unblock pending reads when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	r := bufio.NewReaderSize(conn, MaxResponseBytes)

	_ = conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := io.WriteString(conn, Handshake+"\n"); err != nil {
		conn.Close()
		return fail(KindChannelUnavailable, ctxErr(ctx, err))
	}
	ack, err := readLine(r)
	var kind Kind
	switch {
	case ctx.Err() != nil:
		kind, err = KindChannelUnavailable, ctx.Err()
	case ack == "" && isTimeout(err):
		kind = KindHandshakeTimeout
	case ack == "" && errors.Is(err, io.EOF):
		// the server closes silently on a bad handshake
		kind = KindHandshakeRejected
	case ack == "" && err != nil:
		kind = KindChannelUnavailable
	case strings.TrimSpace(ack) != HandshakeAck:
		kind, err = KindHandshakeRejected, errors.New("unexpected ack "+quote(ack))
	default:
		return conn, r, nil
	}
	conn.Close()
	return fail(kind, err)
}

// exchange sends one command on an open session and reads its response.
func (c *Client) exchange(ctx context.Context, conn net.Conn, r *bufio.Reader, command string) (Response, error) {
	resp := Response{Command: command, Bulk: IsBulk(command)}
	fail := func(k Kind, err error) (Response, error) {
		return resp, &Error{Kind: k, Command: command, Addr: c.cfg.Addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return fail(KindChannelUnavailable, ctxErr(ctx, err))
	}

	if resp.Bulk {
		text, chunks, err := readBulk(conn, r, c.cfg.BulkReadTimeout)
		if ctx.Err() != nil {
			return fail(KindChannelUnavailable, ctx.Err())
		}
		if err != nil {
			return fail(KindChannelUnavailable, err)
		}
		resp.Text, resp.Chunks = text, chunks
		return resp, nil
	}

	line, err := readLine(r)
	switch {
	case ctx.Err() != nil:
		return fail(KindChannelUnavailable, ctx.Err())
	case err != nil && !errors.Is(err, io.EOF) && !isTimeout(err):
		return fail(KindChannelUnavailable, err)
	}
	resp.Text, resp.Chunks = line, 1
	if resp.Empty() {
		return fail(KindNoResponse, err)
	}
	return resp, nil
}

// readBulk collects frames until the EndMarker line, remote close or an idle
// timeout, whichever comes first.
func readBulk(conn net.Conn, r *bufio.Reader, idle time.Duration) (string, int, error) {
	var b strings.Builder
	chunks := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		line, err := r.ReadString('\n')
		if line != "" {
			if strings.TrimRight(line, "\r\n") == EndMarker {
				break
			}
			b.WriteString(line)
			chunks++
		}
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) {
				break
			}
			return "", chunks, err
		}
	}
	return strings.TrimSuffix(b.String(), "\n"), chunks, nil
}

// readLine reads one line, bounded by the reader's buffer size. The tail of
// an overlong line is discarded so the next read starts on a fresh response.
func readLine(r *bufio.Reader) (string, error) {
	b, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		line := string(b)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		return line, nil
	}
	if err != nil && len(b) == 0 {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), err
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return `"` + s + `"`
}
