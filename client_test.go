package asynctcp

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/asynctcp-go/asynctcp/errcode"
	"github.com/asynctcp-go/asynctcp/internal/clock"
)

// TestEchoLoop covers scenario S1: connect, write, get echoed back.
func TestEchoLoop(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	srv := newServerWithEngine(eng, 0)
	require.True(t, srv.Begin())
	defer srv.End()

	srv.OnAccept(func(_ *Server, conn *Client) {
		conn.OnData(func(conn *Client, data []byte) {
			conn.Write(append([]byte(nil), data...), Copy)
		})
	})

	connected := make(chan struct{}, 1)
	acked := make(chan int, 1)
	received := make(chan []byte, 1)

	c := newClientWithEngine(eng)
	c.OnConnect(func(*Client) { connected <- struct{}{} })
	c.OnAck(func(_ *Client, length int, _ time.Duration) { acked <- length })
	c.OnData(func(_ *Client, data []byte) { received <- append([]byte(nil), data...) })

	require.True(t, c.Connect([4]byte{127, 0, 0, 1}, srv.Port()))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_connect")
	}

	c.Write([]byte("ping"), Copy)

	select {
	case n := <-acked:
		assert.Equal(t, 4, n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_ack")
	}

	select {
	case data := <-received:
		assert.Equal(t, []byte("ping"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_data")
	}
}

// TestPeerClose covers scenario S6: peer sends a few bytes then closes.
// The client must see exactly one on_data, then on_disconnect, never
// on_error (testable property 7).
func TestPeerClose(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	srv := newServerWithEngine(eng, 0)
	require.True(t, srv.Begin())
	defer srv.End()

	srv.OnAccept(func(_ *Server, conn *Client) {
		conn.Write([]byte("hi!"), Copy)
		conn.Close()
	})

	connected := make(chan struct{}, 1)
	received := make(chan []byte, 1)
	disconnected := make(chan struct{}, 1)
	errored := make(chan errcode.Code, 1)

	c := newClientWithEngine(eng)
	c.OnConnect(func(*Client) { connected <- struct{}{} })
	c.OnData(func(_ *Client, data []byte) { received <- append([]byte(nil), data...) })
	c.OnDisconnect(func(*Client) { disconnected <- struct{}{} })
	c.OnError(func(_ *Client, code errcode.Code) { errored <- code })

	require.True(t, c.Connect([4]byte{127, 0, 0, 1}, srv.Port()))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_connect")
	}

	select {
	case data := <-received:
		assert.Equal(t, []byte("hi!"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_data")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_disconnect")
	}

	select {
	case code := <-errored:
		t.Fatalf("unexpected on_error(%v); peer close must not be an error", code)
	default:
	}

	assert.True(t, c.Freeable())
}

type failingResolver struct{}

func (failingResolver) Resolve(_ string, done func(ip [4]byte, ok bool)) (ip [4]byte, ok bool, immediate bool) {
	go done([4]byte{}, false)
	return [4]byte{}, false, false
}

// TestDNSFailure covers scenario S2: on_error(DNSFailed) fires before
// on_disconnect, and the connection ends CLOSED.
func TestDNSFailure(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithResolver(failingResolver{}))

	var mu sync.Mutex
	var events []string
	var gotCode errcode.Code
	done := make(chan struct{}, 1)

	c.OnError(func(_ *Client, code errcode.Code) {
		mu.Lock()
		events = append(events, "error")
		gotCode = code
		mu.Unlock()
	})
	c.OnDisconnect(func(*Client) {
		mu.Lock()
		events = append(events, "disconnect")
		mu.Unlock()
		done <- struct{}{}
	})

	require.True(t, c.ConnectHost("no.such.host.invalid", 80))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_disconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"error", "disconnect"}, events)
	assert.Equal(t, errcode.DNSFailed, gotCode)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, -1, c.fd)
}

// TestAckTimeoutIdempotent covers scenario S4 and testable property 5: an
// unacknowledged head buffer fires on_timeout at most once until a new
// enqueue resets the latch.
func TestAckTimeoutIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithAckTimeout(50*time.Millisecond))
	c.fd = int(r.Fd())
	c.state = StateEstablished

	timedOut := make(chan time.Duration, 2)
	c.OnTimeout(func(_ *Client, delay time.Duration) { timedOut <- delay })

	c.wq.push(newQueuedBuffer([]byte("ping"), true))
	c.wq.head().queuedAtMS = clock.NowMillis() - 100

	c.HandlePoll()
	select {
	case delay := <-timedOut:
		assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
	default:
		t.Fatal("expected on_timeout to fire for the stalled head buffer")
	}

	c.HandlePoll()
	select {
	case <-timedOut:
		t.Fatal("on_timeout fired twice for the same stalled buffer")
	default:
	}

	c.Add([]byte("more"), Copy)
	c.HandlePoll()
	select {
	case <-timedOut:
	default:
		t.Fatal("expected on_timeout to refire after a new enqueue reset the latch")
	}
}

// TestRxTimeout covers scenario S5: no bytes received for rx_timeout
// seconds tears the connection down without firing on_error.
func TestRxTimeout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithRxTimeout(2*time.Second))
	c.fd = int(r.Fd())
	c.state = StateEstablished
	c.rxLastPacketMS = clock.NowMillis() - 2500

	disconnected := make(chan struct{}, 1)
	errored := make(chan errcode.Code, 1)
	c.OnDisconnect(func(*Client) { disconnected <- struct{}{} })
	c.OnError(func(_ *Client, code errcode.Code) { errored <- code })

	c.HandlePoll()

	select {
	case <-disconnected:
	default:
		t.Fatal("expected on_disconnect after the rx timeout elapsed")
	}
	select {
	case code := <-errored:
		t.Fatalf("unexpected on_error(%v) for an rx timeout", code)
	default:
	}
	assert.Equal(t, -1, c.fd)
	assert.Equal(t, StateClosed, c.state)
}

// TestDescriptorStateCoherence covers testable property 2:
// descriptor == -1 iff conn_state == CLOSED, across connect and close.
func TestDescriptorStateCoherence(t *testing.T) {
	eng := newEngine(defaultEng.log, nil) // never started, so no background races
	eng.startOnce.Do(func() {})           // keeps Connect's ensureRunning from starting it
	c := &Client{
		eng:                 eng,
		log:                 defaultEng.log,
		resolver:            DefaultResolver{},
		fd:                  -1,
		state:               StateClosed,
		writeSpaceRemaining: initialWriteWindow,
	}

	assert.Equal(t, -1, c.fd)
	assert.Equal(t, StateClosed, c.State())

	require.True(t, c.Connect([4]byte{127, 0, 0, 1}, 1))
	assert.NotEqual(t, -1, c.fd)
	assert.Equal(t, StateConnecting, c.State())

	c.Close()
	assert.Equal(t, -1, c.fd)
	assert.Equal(t, StateClosed, c.State())
}

// TestSpaceAccounting covers testable property 4: write_space_remaining
// equals the initial window minus the sum of pending (unflushed) bytes.
func TestSpaceAccounting(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithSendBufferHint(16))
	c.state = StateEstablished

	assert.Equal(t, 16, c.Space())

	n := c.Add([]byte("0123456789"), Copy)
	assert.Equal(t, 10, n)
	assert.Equal(t, 6, c.Space())

	n2 := c.Add([]byte("abcdefgh"), Copy)
	assert.Equal(t, 6, n2, "add must clamp to the remaining window")
	assert.Equal(t, 0, c.Space())
}

// TestCopyVsZeroCopyOwnership covers testable property 8.
func TestCopyVsZeroCopyOwnership(t *testing.T) {
	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithSendBufferHint(64))
	c.state = StateEstablished

	original := []byte("hello")
	c.Add(original, Copy)
	require.Len(t, c.wq.buffers, 1)
	assert.True(t, c.wq.buffers[0].owned)
	original[0] = 'X'
	assert.Equal(t, byte('h'), c.wq.buffers[0].data[0], "COPY must snapshot the caller's bytes")

	zeroCopySrc := []byte("world")
	c.Add(zeroCopySrc, 0)
	require.Len(t, c.wq.buffers, 2)
	assert.False(t, c.wq.buffers[1].owned)
	zeroCopySrc[0] = 'X'
	assert.Equal(t, byte('X'), c.wq.buffers[1].data[0], "without COPY the engine must keep the caller's own slice")
}

// TestFlushHeadFreesOwnedBuffer exercises the other half of testable
// property 8: once an owned buffer fully drains, on_ack fires exactly
// once and the queue no longer references it.
func TestFlushHeadFreesOwnedBuffer(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithSendBufferHint(64))
	c.fd = fds[0]
	c.state = StateEstablished

	acked := make(chan int, 1)
	c.OnAck(func(_ *Client, length int, _ time.Duration) { acked <- length })

	c.Add([]byte("ping"), Copy)
	activity := c.flushHead(c.fd)
	assert.True(t, activity)

	select {
	case n := <-acked:
		assert.Equal(t, 4, n)
	default:
		t.Fatal("expected on_ack to fire once the head buffer fully drained")
	}
	assert.True(t, c.wq.empty())
}

// TestPartialWriteAcrossTicks covers scenario S3: a single large buffer
// that a slow reader forces across several writable ticks. on_ack must
// fire exactly once, only after the final byte is written; space() must
// return to the full window afterward; and the owned copy must be freed
// exactly once.
func TestPartialWriteAcrossTicks(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	// Shrink both ends' kernel buffers so a large payload cannot drain in
	// one write(2) call, forcing flushHead to hit EAGAIN mid-buffer.
	require.NoError(t, unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	require.NoError(t, unix.SetsockoptInt(fds[1], unix.SOL_SOCKET, unix.SO_RCVBUF, 4096))

	const payloadLen = 256 * 1024
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}

	eng := newEngine(defaultEng.log, nil)
	c := newClientWithEngine(eng, WithSendBufferHint(payloadLen))
	c.fd = fds[0]
	c.state = StateEstablished

	var ackCount int
	var ackLength int
	c.OnAck(func(_ *Client, length int, _ time.Duration) {
		ackCount++
		ackLength = length
	})

	n := c.Add(payload, Copy)
	require.Equal(t, payloadLen, n)
	require.Len(t, c.wq.buffers, 1)
	head := c.wq.buffers[0]
	assert.True(t, head.owned)
	assert.Equal(t, 0, c.Space(), "the whole window is reserved by the queued buffer")

	ticks := 0
	drainBuf := make([]byte, 4096)
	for !c.wq.empty() {
		ticks++
		require.Less(t, ticks, 10000, "flushHead never converged")

		c.flushHead(c.fd)
		if !c.wq.empty() {
			assert.Equal(t, 0, ackCount, "on_ack must not fire before the final byte is written")

			// Act as the slow reader: drain a little from the peer so the
			// socket's send buffer has room again on the next tick.
			for {
				rn, rerr := unix.Read(fds[1], drainBuf)
				if rerr != nil || rn <= 0 {
					break
				}
			}
		}
	}

	assert.Greater(t, ticks, 1, "a 256KiB payload over a 4KiB socket buffer must take more than one tick")
	assert.Equal(t, 1, ackCount, "on_ack must fire exactly once for the whole buffer")
	assert.Equal(t, payloadLen, ackLength)
	assert.Equal(t, payloadLen, c.Space(), "space() must return to the full window once the buffer is fully acked")
	assert.Nil(t, head.data, "the owned copy must be freed once acked")
}
