package console

import (
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeAndCallRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "syspartctl.sock")

	srv, err := Serve(sock, func(req Request) Response {
		if req.Command == "help" {
			return OK("cgroup help", "cgroup show groups")
		}
		return Errorf("unknown command %q", req.Command)
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	defer srv.Close()

	resp, err := Call(sock, Request{Command: "help"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"cgroup help", "cgroup show groups"}, resp.Lines)

	resp, err = Call(sock, Request{Command: "bogus"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "bogus")
}

func TestBridgeRoundTripsThroughPendingChannel(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "syspartctl.sock")
	bridge := NewBridge()

	srv, err := Serve(sock, bridge.Handler(), hclog.NewNullLogger())
	require.NoError(t, err)
	defer srv.Close()

	done := make(chan Response, 1)
	go func() {
		resp, err := Call(sock, Request{Command: "reclassify", Args: []string{"all"}})
		require.NoError(t, err)
		done <- resp
	}()

	pending := <-bridge.Pending()
	assert.Equal(t, "reclassify", pending.Req.Command)
	pending.Reply(OK("reclassified 3 processes"))

	resp := <-done
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"reclassified 3 processes"}, resp.Lines)
}
