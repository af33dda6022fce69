// Copyright (c) 2026 The AsyncTCP-Go Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asynctcp

import (
	"sync"
	"time"

	"github.com/asynctcp-go/asynctcp/errcode"
	"github.com/asynctcp-go/asynctcp/internal/asynclog"
	"github.com/asynctcp-go/asynctcp/internal/clock"
	"github.com/asynctcp-go/asynctcp/internal/registry"
	"github.com/asynctcp-go/asynctcp/internal/selectset"
	"github.com/asynctcp-go/asynctcp/internal/tcpsock"
)

// ConnState is a ClientConnection's place in the state machine described
// by spec.md section 3. The full enum is kept even though this engine
// only ever transitions through the observed subset
// {StateClosed, StateConnecting, StateEstablished}; StateSynReceived is
// declared for documentation parity with the original, String reports any
// value above StateEstablished as TEARING_DOWN, and neither is ever
// assigned.
type ConnState int32

const (
	StateClosed      ConnState = 0
	StateConnecting  ConnState = 2
	StateSynReceived ConnState = 3 // reserved, never assigned
	StateEstablished ConnState = 4
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return "TEARING_DOWN"
	}
}

const (
	// initialWriteWindow is the platform send-buffer constant spec.md
	// section 3 calls out; 5840 bytes matches the original's default.
	initialWriteWindow = 5840
	// maxPayload bounds the single shared static read buffer, per
	// spec.md section 4.4.
	maxPayload = 1360
)

// ConnectHandler, DisconnectHandler, AckHandler, ErrorHandler,
// DataHandler, TimeoutHandler and PollHandler are the callback slots of
// spec.md section 3. Unlike the original's std::function<void(void*,...)>
// signature, there is no opaque user-data argument: a Go closure already
// captures whatever context it needs, so the argument would be redundant.
type (
	ConnectHandler    func(c *Client)
	DisconnectHandler func(c *Client)
	AckHandler        func(c *Client, length int, delay time.Duration)
	ErrorHandler      func(c *Client, code errcode.Code)
	DataHandler       func(c *Client, data []byte)
	TimeoutHandler    func(c *Client, delay time.Duration)
	PollHandler       func(c *Client)
)

type clientCallbacks struct {
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	onAck        AckHandler
	onError      ErrorHandler
	onData       DataHandler
	onTimeout    TimeoutHandler
	onPoll       PollHandler
}

// Client is a single managed TCP connection: the outbound-connect /
// inbound-accept state machine, its write queue, and its callback slots.
// The zero value is not usable; construct with NewClient or via a
// Server's accept path.
type Client struct {
	eng      *Engine
	log      asynclog.Logger
	resolver Resolver

	// registry-mutex-guarded fields (spec.md section 5).
	fd             int
	state          ConnState
	selected       bool
	dnsReady       bool
	lastActivityMS uint32
	rxLastPacketMS uint32
	rxTimeoutS     uint32
	connectIP      [4]byte
	connectPort    int
	connectHost    string
	remote         tcpsock.Addr
	local          tcpsock.Addr
	noDelay        bool
	registered     bool

	// write-mutex-guarded fields (spec.md section 3/5).
	wmu                 sync.Mutex
	wq                  writeQueue
	writeSpaceRemaining int
	ackTimeoutMS        uint32
	ackTimeoutSignaled  bool

	// callback slots, guarded by their own mutex so setters (user
	// goroutines) never race with the dispatcher reading them.
	cbmu sync.Mutex
	cb   clientCallbacks
}

// NewClient constructs an unconnected Client and registers it with the
// package's single background service loop, starting that loop on first
// use if it is not already running.
func NewClient(opts ...Option) *Client {
	return newClientWithEngine(defaultEngine(), opts...)
}

func newClientWithEngine(eng *Engine, opts ...Option) *Client {
	cfg := loadOptions(opts...)
	c := &Client{
		eng:                 eng,
		log:                 cfg.logger,
		resolver:            cfg.resolver,
		fd:                  -1,
		state:               StateClosed,
		rxTimeoutS:          cfg.rxTimeoutSeconds,
		ackTimeoutMS:        cfg.ackTimeoutMillis,
		noDelay:             cfg.noDelay,
		writeSpaceRemaining: cfg.sendBuffer,
		registered:          true,
	}
	if cfg.watchdog != nil {
		eng.SetWatchdog(cfg.watchdog)
	}
	eng.reg.Register(c)
	eng.ensureRunning()
	return c
}

// newAcceptedClient wraps an already-accepted, already-established file
// descriptor, per spec.md's ListeningServer accept path.
func newAcceptedClient(eng *Engine, fd int, peer, local tcpsock.Addr, cfg *config) *Client {
	now := clock.NowMillis()
	c := &Client{
		eng:                 eng,
		log:                 cfg.logger,
		resolver:            cfg.resolver,
		fd:                  fd,
		state:               StateEstablished,
		rxTimeoutS:          cfg.rxTimeoutSeconds,
		ackTimeoutMS:        cfg.ackTimeoutMillis,
		noDelay:             cfg.noDelay,
		writeSpaceRemaining: cfg.sendBuffer,
		remote:              peer,
		local:               local,
		lastActivityMS:      now,
		rxLastPacketMS:      now,
		registered:          true,
	}
	if cfg.noDelay {
		_ = tcpsock.SetNoDelay(fd, true)
	}
	eng.reg.Register(c)
	eng.ensureRunning()
	return c
}

// ---- registry.Socket ----

func (c *Client) FD() int                        { return c.fd }
func (c *Client) Selected() bool                  { return c.selected }
func (c *Client) SetSelected(v bool)              { c.selected = v }
func (c *Client) LastActivityMillis() uint32      { return c.lastActivityMS }
func (c *Client) Touch(now uint32)                { c.lastActivityMS = now }
func (c *Client) DNSReady() bool                  { return c.dnsReady }
func (c *Client) ClearDNSReady()                  { c.dnsReady = false }

var _ registry.Socket = (*Client)(nil)

// ---- callback setters ----

func (c *Client) OnConnect(h ConnectHandler) *Client {
	c.cbmu.Lock()
	c.cb.onConnect = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnDisconnect(h DisconnectHandler) *Client {
	c.cbmu.Lock()
	c.cb.onDisconnect = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnAck(h AckHandler) *Client {
	c.cbmu.Lock()
	c.cb.onAck = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnError(h ErrorHandler) *Client {
	c.cbmu.Lock()
	c.cb.onError = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnData(h DataHandler) *Client {
	c.cbmu.Lock()
	c.cb.onData = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnTimeout(h TimeoutHandler) *Client {
	c.cbmu.Lock()
	c.cb.onTimeout = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) OnPoll(h PollHandler) *Client {
	c.cbmu.Lock()
	c.cb.onPoll = h
	c.cbmu.Unlock()
	return c
}

func (c *Client) callbacks() clientCallbacks {
	c.cbmu.Lock()
	defer c.cbmu.Unlock()
	return c.cb
}

func (c *Client) clearCallbacks() {
	c.cbmu.Lock()
	c.cb = clientCallbacks{}
	c.cbmu.Unlock()
}

// ---- connect ----

// Connect begins a non-blocking connect to ip:port, transitioning to
// StateConnecting. It returns false if the setup syscalls fail
// synchronously (spec.md section 7's "setup failures"). A Client may be
// reused for a second Connect/ConnectHost after a prior connection has
// fully torn down (spec.md section 5); Connect re-registers it with the
// service loop if teardown removed it.
func (c *Client) Connect(ip [4]byte, port int) bool {
	fd, err := tcpsock.NewNonblockingSocket()
	if err != nil {
		c.log.Errorf("client: socket: %v", err)
		return false
	}
	if c.noDelay {
		_ = tcpsock.SetNoDelay(fd, true)
	}
	if err := tcpsock.Connect(fd, ip, port); err != nil {
		c.log.Errorf("client: connect: %v", err)
		_ = tcpsock.Close(fd)
		return false
	}

	c.eng.reg.Lock()
	c.fd = fd
	c.state = StateConnecting
	c.lastActivityMS = clock.NowMillis()
	if !c.registered {
		c.eng.reg.Register(c)
		c.registered = true
	}
	c.eng.reg.Unlock()
	c.eng.ensureRunning()
	return true
}

// ConnectHost resolves host, then connects. When resolution is deferred
// and then fails, it fires OnError(DNSFailed) followed by OnDisconnect on
// the service loop, per spec.md section 4.9. When the resolver answers
// immediately with a failure, ConnectHost returns false and fires no
// callback.
func (c *Client) ConnectHost(host string, port int) bool {
	c.eng.reg.Lock()
	if !c.registered {
		c.eng.reg.Register(c)
		c.registered = true
	}
	c.eng.reg.Unlock()
	c.eng.ensureRunning()

	ip, ok, immediate := c.resolver.Resolve(host, func(ip [4]byte, ok bool) {
		c.eng.reg.Lock()
		if ok {
			c.connectIP = ip
		} else {
			c.connectIP = [4]byte{}
		}
		c.dnsReady = true
		c.eng.reg.Unlock()
	})
	if immediate {
		if !ok {
			return false
		}
		return c.Connect(ip, port)
	}
	c.eng.reg.Lock()
	c.connectPort = port
	c.connectHost = host
	c.eng.reg.Unlock()
	return true
}

// HandleDelayedConnect implements registry.Socket; fired by the service
// loop once the DNS bridge has resolved (or failed to resolve) a pending
// ConnectHost call, per spec.md section 4.9.
func (c *Client) HandleDelayedConnect() {
	c.eng.reg.Lock()
	ip := c.connectIP
	port := c.connectPort
	host := c.connectHost
	failed := ip == [4]byte{}
	c.connectIP = [4]byte{}
	c.connectPort = 0
	c.connectHost = ""
	c.eng.reg.Unlock()

	if failed {
		asynclog.DNSFailure(c.log, host)
		cb := c.callbacks()
		if cb.onError != nil {
			cb.onError(c, errcode.DNSFailed)
		}
		if cb.onDisconnect != nil {
			cb.onDisconnect(c)
		}
		c.clearCallbacks()
		c.eng.reg.Unregister(c)
		c.eng.reg.Lock()
		c.registered = false
		c.eng.reg.Unlock()
		return
	}
	c.Connect(ip, port)
}

// ---- HandleWritable / HandleReadable / HandlePoll (spec.md sections 4.3-4.5) ----

// HandleWritable implements registry.Socket. It reports activity
// (bookkeeping progress) so the service loop knows not to take the long
// idle sleep.
func (c *Client) HandleWritable() bool {
	c.eng.reg.Lock()
	state := c.state
	fd := c.fd
	c.eng.reg.Unlock()

	switch state {
	case StateConnecting, StateSynReceived:
		errno, err := tcpsock.SOError(fd)
		if err != nil {
			c.raiseError(errno)
			return true
		}
		if errno != 0 {
			c.raiseError(errno)
			return true
		}
		now := clock.NowMillis()
		c.eng.reg.Lock()
		c.state = StateEstablished
		c.rxLastPacketMS = now
		remote, _ := tcpsock.PeerName(fd)
		local, _ := tcpsock.SockName(fd)
		c.remote = remote
		c.local = local
		c.eng.reg.Unlock()
		c.wmu.Lock()
		c.ackTimeoutSignaled = false
		c.wmu.Unlock()

		asynclog.ConnEvent(c.log, "connected", remote.String())
		cb := c.callbacks()
		if cb.onConnect != nil {
			cb.onConnect(c)
		}
		return true
	case StateEstablished:
		return c.flushHead(fd)
	default:
		return false
	}
}

// flushHead implements spec.md section 4.3's flush-head algorithm,
// retiring at most one buffer per writable tick (spec.md section 9's
// preserved-behavior note).
func (c *Client) flushHead(fd int) (activity bool) {
	c.wmu.Lock()
	head := c.wq.head()
	if head == nil {
		c.wmu.Unlock()
		return false
	}

	for head.writeErr == nil && head.written < head.length {
		n, err := tcpsock.Write(fd, head.data[head.written:head.length])
		if err != nil {
			head.writeErr = err
			break
		}
		if n == 0 {
			break // EAGAIN/EWOULDBLOCK
		}
		head.written += n
		c.writeSpaceRemaining += n
		activity = true
		if head.done() {
			head.writtenAtMS = clock.NowMillis()
			break
		}
	}

	if head.writeErr != nil {
		errno := tcpsock.Errno(head.writeErr)
		c.wmu.Unlock()
		c.raiseError(errno)
		return true
	}

	if head.done() {
		delayMS := head.writtenAtMS - head.queuedAtMS
		length := head.length
		if head.owned {
			head.data = nil
		}
		c.wq.popHead()
		c.wmu.Unlock()

		cb := c.callbacks()
		if cb.onAck != nil {
			cb.onAck(c, length, time.Duration(delayMS)*time.Millisecond)
		}
		return true
	}

	c.wmu.Unlock()
	return activity
}

// HandleReadable implements registry.Socket, per spec.md section 4.4.
func (c *Client) HandleReadable() {
	c.eng.reg.Lock()
	fd := c.fd
	c.rxLastPacketMS = clock.NowMillis()
	c.eng.reg.Unlock()

	buf := c.eng.readBuf
	n, ok, err := tcpsock.Read(fd, buf)
	if err != nil {
		c.raiseError(tcpsock.Errno(err))
		return
	}
	if !ok {
		return // EAGAIN/EWOULDBLOCK: reattempted on the next readiness tick
	}
	if n == 0 {
		c.raiseClose()
		return
	}
	cb := c.callbacks()
	if cb.onData != nil {
		cb.onData(c, buf[:n])
	}
}

// HandlePoll implements registry.Socket, per spec.md section 4.5. Guards
// the original's head-buffer-before-size-check bug (spec.md section 9):
// the queue-length check runs before the head is dereferenced.
func (c *Client) HandlePoll() {
	c.eng.reg.Lock()
	closed := c.fd == -1
	c.eng.reg.Unlock()
	if closed {
		return
	}

	now := clock.NowMillis()

	c.wmu.Lock()
	if !c.wq.empty() && c.ackTimeoutMS > 0 && !c.ackTimeoutSignaled {
		head := c.wq.head()
		sentDelay := now - head.queuedAtMS
		if sentDelay >= c.ackTimeoutMS {
			c.ackTimeoutSignaled = true
			c.wmu.Unlock()
			delay := time.Duration(sentDelay) * time.Millisecond
			asynclog.AckTimeout(c.log, c.RemoteAddr().String(), delay)
			cb := c.callbacks()
			if cb.onTimeout != nil {
				cb.onTimeout(c, delay)
			}
			return
		}
	}
	c.wmu.Unlock()

	c.eng.reg.Lock()
	rxTimeoutS := c.rxTimeoutS
	rxLast := c.rxLastPacketMS
	c.eng.reg.Unlock()

	if rxTimeoutS > 0 && now-rxLast >= rxTimeoutS*1000 {
		asynclog.RxTimeout(c.log, c.RemoteAddr().String(), time.Duration(rxTimeoutS)*time.Second)
		c.raiseClose()
		return
	}

	cb := c.callbacks()
	if cb.onPoll != nil {
		cb.onPoll(c)
	}
}

// ---- enqueue API (spec.md section 4.6) ----

// Space reports how many bytes Add will currently accept.
func (c *Client) Space() int {
	c.eng.reg.Lock()
	established := c.state == StateEstablished
	c.eng.reg.Unlock()
	if !established {
		return 0
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeSpaceRemaining
}

// Add enqueues up to len(data) bytes of data for non-blocking transmission,
// returning the number of bytes actually accepted. See spec.md section
// 4.6 for the exact contract.
func (c *Client) Add(data []byte, flags WriteFlag) int {
	if len(data) == 0 {
		return 0
	}
	c.eng.reg.Lock()
	established := c.state == StateEstablished
	c.eng.reg.Unlock()
	if !established {
		return 0
	}

	c.wmu.Lock()
	willSend := len(data)
	if willSend > c.writeSpaceRemaining {
		willSend = c.writeSpaceRemaining
	}
	if willSend <= 0 {
		c.wmu.Unlock()
		return 0
	}

	var buf []byte
	owned := flags&Copy != 0
	if owned {
		buf = make([]byte, willSend)
		copy(buf, data[:willSend])
	} else {
		buf = data[:willSend]
	}

	c.wq.push(newQueuedBuffer(buf, owned))
	c.writeSpaceRemaining -= willSend
	c.ackTimeoutSignaled = false
	c.wmu.Unlock()
	return willSend
}

// Send opportunistically flushes the head of the write queue if the
// socket is currently writable. Always "succeeds" in the sense that it is
// a hint, never a promise; calling it with an empty queue is a no-op.
func (c *Client) Send() bool {
	c.eng.reg.Lock()
	fd := c.fd
	established := c.state == StateEstablished
	c.eng.reg.Unlock()
	if !established || fd == -1 {
		return true
	}

	if selectset.PollWritable(fd) {
		c.flushHead(fd)
	}
	return true
}

// Write is Add followed by Send, returning the number of bytes Add
// accepted.
func (c *Client) Write(data []byte, flags WriteFlag) int {
	n := c.Add(data, flags)
	c.Send()
	return n
}

// ---- teardown (spec.md section 4.7) ----

func (c *Client) raiseClose() {
	c.teardown(nil)
}

func (c *Client) raiseError(errno int) {
	c.teardown(&errno)
}

func (c *Client) teardown(errnoPtr *int) {
	c.eng.reg.Lock()
	alreadyClosed := c.fd == -1
	var remote tcpsock.Addr
	if !alreadyClosed {
		remote = c.remote
		c.state = StateClosed
		_ = tcpsock.Close(c.fd)
		c.fd = -1
		// Zeroed so RemoteAddr/LocalAddr report the closed value spec.md
		// section 6 requires instead of the last-connected peer, matching
		// the original's live re-query rather than a stale cache.
		c.remote = tcpsock.Addr{}
		c.local = tcpsock.Addr{}
	}
	c.eng.reg.Unlock()
	if alreadyClosed {
		return
	}
	c.eng.reg.Unregister(c)
	c.eng.reg.Lock()
	c.registered = false
	c.eng.reg.Unlock()

	c.wmu.Lock()
	c.wq.drain()
	c.wmu.Unlock()

	asynclog.ConnEvent(c.log, "disconnected", remote.String())
	cb := c.callbacks()
	if errnoPtr != nil && cb.onError != nil {
		cb.onError(c, errcode.Code(*errnoPtr))
	}
	if cb.onDisconnect != nil {
		cb.onDisconnect(c)
	}
	c.clearCallbacks()
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.raiseClose()
}

// Abort sets SO_LINGER{on=1,linger=0} before tearing the connection down,
// returning the ERR_ABRT sentinel.
func (c *Client) Abort() errcode.Code {
	c.eng.reg.Lock()
	fd := c.fd
	c.eng.reg.Unlock()
	if fd != -1 {
		_ = tcpsock.SetLingerZero(fd)
	}
	c.raiseClose()
	return errcode.Abort
}

// ---- accessors ----

// Connected reports whether the connection is established.
func (c *Client) Connected() bool {
	c.eng.reg.Lock()
	defer c.eng.reg.Unlock()
	return c.state == StateEstablished
}

// Freeable reports whether the connection has torn down (closed or past
// established) and may be released by its owner.
func (c *Client) Freeable() bool {
	c.eng.reg.Lock()
	defer c.eng.reg.Unlock()
	return c.state == StateClosed || c.state > StateEstablished
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.eng.reg.Lock()
	defer c.eng.reg.Unlock()
	return c.state
}

// SetNoDelay toggles TCP_NODELAY for the lifetime of the current
// descriptor, if any.
func (c *Client) SetNoDelay(noDelay bool) {
	c.eng.reg.Lock()
	fd := c.fd
	c.noDelay = noDelay
	c.eng.reg.Unlock()
	if fd != -1 {
		_ = tcpsock.SetNoDelay(fd, noDelay)
	}
}

// SetAckTimeout sets the head-buffer ack timeout; zero disables it.
// Milliseconds, matching spec.md section 9's documented asymmetry with
// SetRxTimeout.
func (c *Client) SetAckTimeout(d time.Duration) {
	c.wmu.Lock()
	c.ackTimeoutMS = uint32(d.Milliseconds())
	c.wmu.Unlock()
}

// SetRxTimeout sets the no-data-received timeout; zero disables it.
// Seconds, matching spec.md section 9's documented asymmetry with
// SetAckTimeout.
func (c *Client) SetRxTimeout(d time.Duration) {
	c.eng.reg.Lock()
	c.rxTimeoutS = uint32(d.Seconds())
	c.eng.reg.Unlock()
}

// RemoteAddr, LocalAddr return the peer/self address, the zero Addr if
// not connected.
func (c *Client) RemoteAddr() tcpsock.Addr {
	c.eng.reg.Lock()
	defer c.eng.reg.Unlock()
	return c.remote
}

func (c *Client) LocalAddr() tcpsock.Addr {
	c.eng.reg.Lock()
	defer c.eng.reg.Unlock()
	return c.local
}
