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

// Package tcpsock wraps the small slice of the non-blocking BSD sockets
// API the engine needs: socket/bind/listen/accept/connect/read/write/close
// plus the handful of setsockopt calls the specification names
// (SO_ERROR, SO_LINGER, TCP_NODELAY, SO_SNDBUF) and getpeername/getsockname
// equivalents. IPv4 only, matching the specification's non-goal of IPv6
// support in the observable surface.
package tcpsock

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the accept backlog passed to listen(2), matching the
// specification's fixed value of 5.
const ListenBacklog = 5

// Addr is an IPv4 address/port pair, avoiding net.TCPAddr's IPv6 baggage.
type Addr struct {
	IP   [4]byte
	Port int
}

func (a Addr) String() string {
	return net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]).String()
}

// Uint32 returns the address in host byte order, 0 for the zero value.
func (a Addr) Uint32() uint32 {
	return uint32(a.IP[0])<<24 | uint32(a.IP[1])<<16 | uint32(a.IP[2])<<8 | uint32(a.IP[3])
}

// ParseIPv4 parses a dotted-quad string into a 4-byte IP, ok=false if it is
// not a literal IPv4 address (i.e. it needs DNS resolution).
func ParseIPv4(host string) (ip [4]byte, ok bool) {
	parsed := net.ParseIP(host)
	if parsed == nil {
		return ip, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip, false
	}
	copy(ip[:], v4)
	return ip, true
}

func sockaddr(ip [4]byte, port int) *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: port}
	sa.Addr = ip
	return sa
}

// NewNonblockingSocket creates a non-blocking TCP/IPv4 socket.
func NewNonblockingSocket() (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// Bind binds fd to ip:port. ip's zero value binds to INADDR_ANY.
func Bind(fd int, ip [4]byte, port int) error {
	return os.NewSyscallError("bind", unix.Bind(fd, sockaddr(ip, port)))
}

// Listen starts listening with the specification's fixed backlog.
func Listen(fd int) error {
	return os.NewSyscallError("listen", unix.Listen(fd, ListenBacklog))
}

// Accept accepts one pending connection, non-blocking. ok=false with a nil
// error means EAGAIN/EWOULDBLOCK: no connection is pending.
func Accept(listenFD int) (fd int, peer Addr, ok bool, err error) {
	nfd, sa, aerr := unix.Accept(listenFD)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return -1, Addr{}, false, nil
		}
		return -1, Addr{}, false, os.NewSyscallError("accept", aerr)
	}
	if serr := unix.SetNonblock(nfd, true); serr != nil {
		_ = unix.Close(nfd)
		return -1, Addr{}, false, os.NewSyscallError("fcntl nonblock", serr)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		peer = Addr{IP: in4.Addr, Port: in4.Port}
	}
	return nfd, peer, true, nil
}

// Connect issues a non-blocking connect. err is nil for both "connected
// immediately" and "in progress" (unix.EINPROGRESS); callers select for
// writability and inspect SOError to learn the outcome.
func Connect(fd int, ip [4]byte, port int) error {
	err := unix.Connect(fd, sockaddr(ip, port))
	if err == nil || err == unix.EINPROGRESS {
		return nil
	}
	return os.NewSyscallError("connect", err)
}

// Read performs one non-blocking read. ok=false with a nil error means
// EAGAIN/EWOULDBLOCK: no data was available and the caller must not treat
// it as end-of-stream. ok=true with n==0 is a genuine EOF (the peer closed
// its write side); ok=true with n>0 is a normal read.
func Read(fd int, buf []byte) (n int, ok bool, err error) {
	n, err = unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, os.NewSyscallError("read", err)
	}
	return n, true, nil
}

// Write performs one non-blocking write. n may be less than len(buf).
// A nil n==0 err==nil result means EAGAIN/EWOULDBLOCK.
func Write(fd int, buf []byte) (n int, err error) {
	n, err = unix.Write(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

// Close closes fd, returning close(2)'s error unchanged.
func Close(fd int) error {
	return unix.Close(fd)
}

// SOError returns and clears the pending SO_ERROR on fd (0 means none).
func SOError(fd int) (int, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt(SO_ERROR)", err)
	}
	return errno, nil
}

// SetNoDelay toggles TCP_NODELAY.
func SetNoDelay(fd int, noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return os.NewSyscallError("setsockopt(TCP_NODELAY)", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt(SO_SNDBUF)", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size))
}

// SetLingerZero sets SO_LINGER{on=1, linger=0} for abort().
func SetLingerZero(fd int) error {
	l := unix.Linger{Onoff: 1, Linger: 0}
	return os.NewSyscallError("setsockopt(SO_LINGER)", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l))
}

// PeerName is getpeername(2), returning the zero Addr if fd is closed or
// not connected.
func PeerName(fd int) (Addr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Addr{}, os.NewSyscallError("getpeername", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return Addr{IP: in4.Addr, Port: in4.Port}, nil
	}
	return Addr{}, nil
}

// SockName is getsockname(2), returning the zero Addr if fd is closed.
func SockName(fd int) (Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Addr{}, os.NewSyscallError("getsockname", err)
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return Addr{IP: in4.Addr, Port: in4.Port}, nil
	}
	return Addr{}, nil
}

// Errno unwraps the errno an *os.SyscallError carries, 0 if err does not
// wrap one. Used to surface the OS error code to on-error callbacks the
// way the specification's errno-valued error codes require.
func Errno(err error) int {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		if errno, ok := sysErr.Err.(unix.Errno); ok {
			return int(errno)
		}
	}
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return 0
}
