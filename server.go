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

	"github.com/asynctcp-go/asynctcp/internal/asynclog"
	"github.com/asynctcp-go/asynctcp/internal/clock"
	"github.com/asynctcp-go/asynctcp/internal/registry"
	"github.com/asynctcp-go/asynctcp/internal/tcpsock"
)

// AcceptHandler is fired once per accepted connection, per spec.md
// section 4.8.
type AcceptHandler func(s *Server, c *Client)

// Server is the ListeningServer of spec.md section 4.8: it binds and
// listens a socket and, on the service loop's readable hook, accepts
// pending connections and wraps each in an established Client.
type Server struct {
	eng *Engine
	log asynclog.Logger
	cfg *config

	// registry-mutex-guarded fields, matching Client's discipline.
	fd             int
	selected       bool
	lastActivityMS uint32
	port           int
	bindIP         [4]byte
	noDelay        bool

	cbmu     sync.Mutex
	onAccept AcceptHandler
}

// NewServer constructs a ListeningServer bound to 0.0.0.0:port (supplemented
// from original_source's AsyncServer::_accept, which binds IPADDR_ANY when
// no address is given) and registers it with the package's shared service
// loop. Call Begin to actually bind/listen.
func NewServer(port int, opts ...Option) *Server {
	return newServerWithEngine(defaultEngine(), port, opts...)
}

// NewServerOnAddr binds to a specific IPv4 address rather than 0.0.0.0.
func NewServerOnAddr(ip [4]byte, port int, opts ...Option) *Server {
	s := newServerWithEngine(defaultEngine(), port, opts...)
	s.bindIP = ip
	return s
}

func newServerWithEngine(eng *Engine, port int, opts ...Option) *Server {
	cfg := loadOptions(opts...)
	s := &Server{
		eng:     eng,
		log:     cfg.logger,
		cfg:     cfg,
		fd:      -1,
		port:    port,
		noDelay: cfg.noDelay,
	}
	if cfg.watchdog != nil {
		eng.SetWatchdog(cfg.watchdog)
	}
	eng.reg.Register(s)
	eng.ensureRunning()
	return s
}

// OnAccept sets the callback fired for every newly accepted connection.
func (s *Server) OnAccept(h AcceptHandler) *Server {
	s.cbmu.Lock()
	s.onAccept = h
	s.cbmu.Unlock()
	return s
}

func (s *Server) acceptCallback() AcceptHandler {
	s.cbmu.Lock()
	defer s.cbmu.Unlock()
	return s.onAccept
}

// Begin creates a non-blocking socket, binds it and starts listening with
// spec.md's fixed backlog of 5, per spec.md section 4.8. On any syscall
// failure the partial descriptor is closed and Begin returns false; there
// is no panic path, matching the original's "abandon, do not throw"
// contract.
func (s *Server) Begin() bool {
	fd, err := tcpsock.NewNonblockingSocket()
	if err != nil {
		s.log.Errorf("server: socket: %v", err)
		return false
	}
	if err := tcpsock.Bind(fd, s.bindIP, s.port); err != nil {
		s.log.Errorf("server: bind: %v", err)
		_ = tcpsock.Close(fd)
		return false
	}
	if err := tcpsock.Listen(fd); err != nil {
		s.log.Errorf("server: listen: %v", err)
		_ = tcpsock.Close(fd)
		return false
	}
	if s.port == 0 {
		if bound, err := tcpsock.SockName(fd); err == nil {
			s.port = bound.Port
		}
	}

	s.eng.reg.Lock()
	s.fd = fd
	s.lastActivityMS = clock.NowMillis()
	s.eng.reg.Unlock()
	return true
}

// End closes the listening descriptor and removes the server from the
// service loop's registry, per spec.md section 4.8. Idempotent.
func (s *Server) End() {
	s.eng.reg.Lock()
	fd := s.fd
	s.fd = -1
	s.eng.reg.Unlock()
	if fd == -1 {
		return
	}
	_ = tcpsock.Close(fd)
	s.eng.reg.Unregister(s)
}

// Listening reports whether Begin has succeeded and End has not yet run.
func (s *Server) Listening() bool {
	s.eng.reg.Lock()
	defer s.eng.reg.Unlock()
	return s.fd != -1
}

// Status returns an implementation-defined indicator of the server's
// state, per spec.md section 6's "status() returns an implementation-
// defined indicator": 1 while Listening, 0 otherwise, mirroring the
// original's `uint8_t status()` (`original_source/src/AsyncTCP.h:219`).
func (s *Server) Status() uint8 {
	if s.Listening() {
		return 1
	}
	return 0
}

// Port returns the port given at construction, or, when that was 0, the
// ephemeral port Begin bound to.
func (s *Server) Port() int { return s.port }

// SetNoDelay controls whether TCP_NODELAY is applied to every subsequently
// accepted connection, per spec.md section 3's ListeningServer.no_delay.
func (s *Server) SetNoDelay(noDelay bool) {
	s.eng.reg.Lock()
	s.noDelay = noDelay
	s.eng.reg.Unlock()
}

func (s *Server) getNoDelay() bool {
	s.eng.reg.Lock()
	defer s.eng.reg.Unlock()
	return s.noDelay
}

// ---- registry.Socket ----

func (s *Server) FD() int                   { return s.fd }
func (s *Server) Selected() bool            { return s.selected }
func (s *Server) SetSelected(v bool)        { s.selected = v }
func (s *Server) LastActivityMillis() uint32 { return s.lastActivityMS }
func (s *Server) Touch(now uint32)          { s.lastActivityMS = now }
func (s *Server) DNSReady() bool            { return false }
func (s *Server) ClearDNSReady()            {}

var _ registry.Socket = (*Server)(nil)

// HandleWritable implements registry.Socket; a listening socket is never
// selected for writability.
func (s *Server) HandleWritable() bool { return false }

// HandleDelayedConnect implements registry.Socket; a listening socket
// never has a pending DNS-deferred connect.
func (s *Server) HandleDelayedConnect() {}

// HandlePoll implements registry.Socket; the ListeningServer has no
// timeout dimensions of its own.
func (s *Server) HandlePoll() {}

// HandleReadable implements registry.Socket, per spec.md section 4.8: it
// accepts exactly one pending connection and wraps it in an established
// Client, applying the server's no_delay setting to the child before
// firing the accept callback. A listening socket stays level-triggered
// readable while more connections are pending, so any backlog beyond one
// is picked up on the next tick rather than drained here.
func (s *Server) HandleReadable() {
	s.eng.reg.Lock()
	listenFD := s.fd
	s.eng.reg.Unlock()
	if listenFD == -1 {
		return
	}

	nfd, peer, ok, err := tcpsock.Accept(listenFD)
	if err != nil {
		s.log.Errorf("server: accept: %v", err)
		return
	}
	if !ok {
		return
	}
	local, _ := tcpsock.SockName(nfd)
	asynclog.ConnEvent(s.log, "accepted", peer.String())

	childCfg := *s.cfg
	childCfg.noDelay = s.getNoDelay()
	c := newAcceptedClient(s.eng, nfd, peer, local, &childCfg)

	if cb := s.acceptCallback(); cb != nil {
		cb(s, c)
	}
}
