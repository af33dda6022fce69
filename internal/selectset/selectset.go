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

// Package selectset builds the read/write fd_set arguments for the
// select(2) syscall the service loop polls with every tick.
package selectset

import (
	"golang.org/x/sys/unix"
)

// Set wraps unix.FdSet with the bit-twiddling helpers Go's syscall
// binding does not provide out of the box.
type Set struct {
	fds   unix.FdSet
	maxFD int
}

// Zero clears the set.
func (s *Set) Zero() {
	s.fds = unix.FdSet{}
	s.maxFD = -1
}

// Add sets fd's bit and tracks the running maximum.
func (s *Set) Add(fd int) {
	if fd < 0 {
		return
	}
	idx := fd / 64
	bit := uint(fd) % 64
	s.fds.Bits[idx] |= 1 << bit
	if fd > s.maxFD {
		s.maxFD = fd
	}
}

// IsSet reports whether fd's bit is set.
func (s *Set) IsSet(fd int) bool {
	if fd < 0 {
		return false
	}
	idx := fd / 64
	bit := uint(fd) % 64
	return s.fds.Bits[idx]&(1<<bit) != 0
}

// MaxFD returns the highest fd added, or -1 if none.
func (s *Set) MaxFD() int { return s.maxFD }

// Raw returns the underlying unix.FdSet for passing to unix.Select.
func (s *Set) Raw() *unix.FdSet { return &s.fds }

// Select polls readFDs/writeFDs with a zero timeout, matching the
// specification's non-blocking probe. maxFD is the larger of the two
// sets' maxima.
func Select(maxFD int, readFDs, writeFDs *Set) (n int, err error) {
	if maxFD < 0 {
		return 0, nil
	}
	tv := unix.Timeval{Sec: 0, Usec: 0}
	return unix.Select(maxFD+1, readFDs.Raw(), writeFDs.Raw(), nil, &tv)
}

// PollWritable probes a single descriptor for writability with a
// zero-timeout select, matching spec.md section 4.6's "opportunistic
// probe" used by (*Client).Send.
func PollWritable(fd int) bool {
	if fd < 0 {
		return false
	}
	var w Set
	w.Zero()
	w.Add(fd)
	tv := unix.Timeval{Sec: 0, Usec: 0}
	n, err := unix.Select(fd+1, nil, w.Raw(), nil, &tv)
	return err == nil && n > 0
}
