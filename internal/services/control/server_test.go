package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/dust_patrol/internal/metrics"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

func startServer(t *testing.T, cfg Config, act Actuator) *Server {
	t.Helper()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0
	srv := NewServer(cfg, act)
	require.NoError(t, srv.Listen())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return srv
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := io.WriteString(conn, line+"\n")
	require.NoError(t, err)
}

func handshake(t *testing.T, conn net.Conn, r *bufio.Reader) {
	t.Helper()
	send(t, conn, rpa.Handshake)
	ack, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, rpa.HandshakeAck+"\n", ack)
}

func TestBadHandshakeClosesSilently(t *testing.T) {
	srv := startServer(t, Config{}, nil)
	conn, r := dial(t, srv)

	send(t, conn, "hello")
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Empty(t, b)
}

func TestEchoUntilDone(t *testing.T) {
	srv := startServer(t, Config{}, nil)
	conn, r := dial(t, srv)
	handshake(t, conn, r)

	for _, cmd := range []string{"goHome", "Peanut", "measuringSpot"} {
		send(t, conn, cmd)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "Command received: "+cmd+"\n", line)
	}

	send(t, conn, "DONE")
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Empty(t, b)
}

func TestHandshakeAndCommandInOneWrite(t *testing.T) {
	srv := startServer(t, Config{}, nil)
	conn, r := dial(t, srv)

	_, err := io.WriteString(conn, rpa.Handshake+"\nping\n")
	require.NoError(t, err)

	ack, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, rpa.HandshakeAck+"\n", ack)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Command received: ping\n", line)
}

func TestActuatorFailureKeepsSession(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("explode", ActuatorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("arm jammed")
	}))
	reg.Register("multi", ActuatorFunc(func(context.Context, string) (string, error) {
		return "one\ntwo\n", nil
	}))
	srv := startServer(t, Config{}, reg)
	conn, r := dial(t, srv)
	handshake(t, conn, r)

	send(t, conn, "explode")
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Command failed: explode: arm jammed\n", line)

	send(t, conn, "multi")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "one two\n", line)
}

func TestPanicIsolatedToConnection(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("boom", ActuatorFunc(func(context.Context, string) (string, error) {
		panic("bad actuator")
	}))
	srv := startServer(t, Config{}, reg)

	conn, r := dial(t, srv)
	handshake(t, conn, r)
	send(t, conn, "boom")
	b, _ := io.ReadAll(r)
	assert.Empty(t, b)

	other, r2 := dial(t, srv)
	handshake(t, other, r2)
	send(t, other, "ping")
	line, err := r2.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Command received: ping\n", line)
}

func TestConcurrentConnections(t *testing.T) {
	srv := startServer(t, Config{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := rpa.NewClient(rpa.ClientConfig{Addr: srv.Addr(), ReadTimeout: 2 * time.Second})
			resp, err := client.SendCommand(context.Background(), "measuringSpot")
			if assert.NoError(t, err) {
				assert.Equal(t, "Command received: measuringSpot", resp.Text)
			}
		}()
	}
	wg.Wait()
}

func TestBulkThroughClient(t *testing.T) {
	reg := NewRegistry(nil)
	srv := startServer(t, Config{}, reg)
	reg.Register(rpa.FullUICommand, ConnectionDump(srv))

	client := rpa.NewClient(rpa.ClientConfig{Addr: srv.Addr(), BulkReadTimeout: 2 * time.Second})
	resp, err := client.SendCommand(context.Background(), rpa.FullUICommand)
	require.NoError(t, err)
	assert.True(t, resp.Bulk)
	assert.True(t, strings.HasPrefix(resp.Text, "Node: ControlServer, Text: "+srv.Addr()+", Children: 1"))
	assert.Equal(t, 2, resp.Chunks)
	assert.NotContains(t, resp.Text, rpa.EndMarker)
}

func TestBulkFailureIsFramed(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(rpa.FullUICommand, ActuatorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("ui unavailable")
	}))
	srv := startServer(t, Config{}, reg)

	client := rpa.NewClient(rpa.ClientConfig{Addr: srv.Addr(), BulkReadTimeout: 2 * time.Second})
	start := time.Now()
	resp, err := client.SendCommand(context.Background(), rpa.FullUICommand)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "client must see [END] instead of idling out")
	assert.True(t, resp.Bulk)
	assert.Equal(t, "Command failed: getFullUI: ui unavailable", resp.Text)
}

func TestConnectionsSnapshot(t *testing.T) {
	srv := startServer(t, Config{}, nil)
	conn, r := dial(t, srv)
	handshake(t, conn, r)
	send(t, conn, "ping")
	_, err := r.ReadString('\n')
	require.NoError(t, err)

	conns := srv.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, StateServing, conns[0].State)
	assert.Equal(t, 1, conns[0].Commands)
	assert.Equal(t, conn.LocalAddr().String(), conns[0].RemoteAddr)
}

func TestHandshakeTimeout(t *testing.T) {
	srv := startServer(t, Config{HandshakeTimeout: 100 * time.Millisecond}, nil)
	_, r := dial(t, srv)
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Empty(t, b)
}

func TestIdleTimeout(t *testing.T) {
	srv := startServer(t, Config{IdleTimeout: 100 * time.Millisecond}, nil)
	conn, r := dial(t, srv)
	handshake(t, conn, r)
	b, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Empty(t, b)
}

func TestConnectionLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewControl(reg)
	srv := NewServer(Config{BindAddress: "127.0.0.1", MaxConnections: 1}, nil)
	srv.SetMetrics(m)
	require.NoError(t, srv.Listen())
	go srv.Serve(context.Background())
	t.Cleanup(func() { srv.Close() })

	first, r := dial(t, srv)
	handshake(t, first, r)

	_, r2 := dial(t, srv)
	b, err := io.ReadAll(r2)
	assert.NoError(t, err)
	assert.Empty(t, b)

	count, err := testutil.GatherAndCount(reg, "rpa_connections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := NewServer(Config{BindAddress: "127.0.0.1"}, nil)
	require.NoError(t, srv.Listen())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	conn, r := dial(t, srv)
	handshake(t, conn, r)

	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
	assert.NoError(t, <-done)

	// the live connection was closed with the server
	b, _ := io.ReadAll(r)
	assert.Empty(t, b)
}

func TestServeStopsWithContext(t *testing.T) {
	srv := NewServer(Config{BindAddress: "127.0.0.1"}, nil)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestListenFailsOnBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{BindAddress: "127.0.0.1", Port: port}, nil)
	assert.Error(t, srv.Listen())
}

func TestTrackRefusedOnceClosing(t *testing.T) {
	srv := NewServer(Config{BindAddress: "127.0.0.1"}, nil)
	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Close())

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	sess, err := srv.track(c1)
	assert.ErrorIs(t, err, errServerClosed)
	assert.Nil(t, sess)
	assert.Empty(t, srv.Connections())
}
