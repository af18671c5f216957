package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"

	"github.com/LeonardoBeccarini/dust_patrol/internal/services/control"
	"github.com/LeonardoBeccarini/dust_patrol/pkg/rpa"
)

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func controlServer(t *testing.T, act control.Actuator) *control.Server {
	t.Helper()
	srv := control.NewServer(control.Config{BindAddress: "127.0.0.1", Port: 0}, act)
	require.NoError(t, srv.Listen())
	go srv.Serve(context.Background())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestSendPrintsResponse(t *testing.T) {
	srv := controlServer(t, nil)

	stdout, _, err := executeCLI(t, "", "send", "--addr", srv.Addr(), "measuringSpot")
	require.NoError(t, err)
	assert.Equal(t, "Command received: measuringSpot\n", stdout)
}

func TestSendJoinsArgsAndPrintsJSON(t *testing.T) {
	srv := controlServer(t, nil)

	stdout, _, err := executeCLI(t, "", "send", "--addr", srv.Addr(), "--json", "open", "settings")
	require.NoError(t, err)

	var resp rpa.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "open settings", resp.Command)
	assert.Equal(t, "Command received: open settings", resp.Text)
	assert.False(t, resp.Bulk)
}

func TestSendRejectsDone(t *testing.T) {
	_, _, err := executeCLI(t, "", "send", "--addr", closedAddr(t), "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpactl shell")
}

func TestSendChannelUnavailable(t *testing.T) {
	_, _, err := executeCLI(t, "", "send", "--addr", closedAddr(t), "goHome")
	assert.ErrorIs(t, err, rpa.ErrChannelUnavailable)
}

func TestUIPrintsBulkPayload(t *testing.T) {
	reg := control.NewRegistry(nil)
	reg.Register(rpa.FullUICommand, control.ActuatorFunc(func(context.Context, string) (string, error) {
		return "Node: Root\n  Node: Button, Text: Back", nil
	}))
	srv := controlServer(t, reg)

	stdout, _, err := executeCLI(t, "", "ui", "--addr", srv.Addr())
	require.NoError(t, err)
	assert.Equal(t, "Node: Root\n  Node: Button, Text: Back\n", stdout)
}

func TestShellSessionEndsWithDone(t *testing.T) {
	srv := controlServer(t, nil)

	stdout, _, err := executeCLI(t, "goHome\n\nA1\ndone\nnever-sent\n", "shell", "--addr", srv.Addr())
	require.NoError(t, err)
	assert.Contains(t, stdout, "Command received: goHome")
	assert.Contains(t, stdout, "Command received: A1")
	assert.NotContains(t, stdout, "never-sent")

	require.Eventually(t, func() bool { return len(srv.Connections()) == 0 },
		2*time.Second, 10*time.Millisecond, "server closes the session after done")
}

func TestShellEndOfInputClosesSession(t *testing.T) {
	srv := controlServer(t, nil)

	stdout, _, err := executeCLI(t, "ping\n", "shell", "--addr", srv.Addr())
	require.NoError(t, err)
	assert.Contains(t, stdout, "Command received: ping")
	require.Eventually(t, func() bool { return len(srv.Connections()) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestProbeGatewayReadsLatest(t *testing.T) {
	mb := mbserver.NewServer()
	mb.HoldingRegisters[0] = 37
	addr := closedAddr(t)
	require.NoError(t, mb.ListenTCP(addr))
	t.Cleanup(mb.Close)

	stdout, _, err := executeCLI(t, "", "probe-gateway", "--gateway", addr, "--read")
	require.NoError(t, err)
	assert.Contains(t, stdout, "gateway "+addr+" reachable")
	assert.Contains(t, stdout, "latest dust level: 37")
}

func TestProbeGatewayUnreachable(t *testing.T) {
	_, _, err := executeCLI(t, "", "probe-gateway", "--gateway", closedAddr(t))
	require.Error(t, err)
}
