package asynctcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServerBeginAcceptEnd exercises the ListeningServer's full lifecycle:
// bind/listen on an ephemeral port, accept a connection, fire the accept
// callback, then End tears the listening socket down.
func TestServerBeginAcceptEnd(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	srv := newServerWithEngine(eng, 0, WithNoDelay(true))
	require.True(t, srv.Begin())
	require.True(t, srv.Listening())
	require.NotZero(t, srv.Port())

	accepted := make(chan *Client, 1)
	srv.OnAccept(func(_ *Server, conn *Client) { accepted <- conn })

	c := newClientWithEngine(eng)
	require.True(t, c.Connect([4]byte{127, 0, 0, 1}, srv.Port()))

	select {
	case conn := <-accepted:
		assert.Equal(t, StateEstablished, conn.State())
		assert.NotEqual(t, -1, conn.FD())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the accept callback")
	}

	srv.End()
	assert.False(t, srv.Listening())
}

// TestServerBeginFailureIsClean covers the "abandon, do not throw" contract
// of spec.md section 4.8: binding a port already in use returns false and
// leaves the server not listening.
func TestServerBeginFailureIsClean(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	first := newServerWithEngine(eng, 0)
	require.True(t, first.Begin())
	defer first.End()

	second := newServerWithEngine(eng, first.Port())
	assert.False(t, second.Begin())
	assert.False(t, second.Listening())
}
