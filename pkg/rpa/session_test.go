package rpa

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionServesSeveralCommandsThenDone(t *testing.T) {
	lines := make(chan string, 8)
	addr := scriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		if !acceptHandshake(t, conn, r) {
			return
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			lines <- cmd
			if IsDone(cmd) {
				return
			}
			if IsBulk(cmd) {
				for _, f := range Frame("root\nchild") {
					conn.Write([]byte(f))
				}
				continue
			}
			conn.Write([]byte("Command received: " + cmd + "\n"))
		}
	})

	s, err := testClient(addr).Open(context.Background())
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), "goHome")
	require.NoError(t, err)
	assert.Equal(t, "Command received: goHome", resp.Text)

	resp, err = s.Send(context.Background(), FullUICommand)
	require.NoError(t, err)
	assert.Equal(t, "root\nchild", resp.Text)
	assert.Equal(t, 2, resp.Chunks)

	resp, err = s.Send(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "Command received: A1", resp.Text)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, "goHome", <-lines)
	assert.Equal(t, FullUICommand, <-lines)
	assert.Equal(t, "A1", <-lines)
	assert.Equal(t, DoneCommand, <-lines)

	_, err = s.Send(context.Background(), "goHome")
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestSessionRejectsDoneThroughSend(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		if acceptHandshake(t, conn, r) {
			r.ReadString('\n')
		}
	})
	s, err := testClient(addr).Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Send(context.Background(), "DONE")
	assert.Equal(t, KindChannelUnavailable, KindOf(err))
}

func TestOpenHandshakeRejected(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		r.ReadString('\n')
	})
	_, err := testClient(addr).Open(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeRejected)
}

func TestSessionOverlongReplyDoesNotLeakIntoNext(t *testing.T) {
	addr := scriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		if !acceptHandshake(t, conn, r) {
			return
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			if IsDone(cmd) {
				return
			}
			conn.Write([]byte("Command received: " + cmd + "\n"))
		}
	})

	s, err := testClient(addr).Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Send(context.Background(), strings.Repeat("x", 5000))
	require.NoError(t, err)
	assert.Len(t, resp.Text, MaxResponseBytes)

	resp, err = s.Send(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "Command received: ping", resp.Text)
}
