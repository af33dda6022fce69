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

// Package registry implements the process-wide set of managed sockets the
// service loop multiplexes, guarded by a single recursive mutex as
// required by the specification (registered on socket construction,
// removed on teardown, traversed in insertion order every tick).
package registry

import (
	"github.com/asynctcp-go/asynctcp/internal/rmutex"
)

// Socket is the capability set every managed socket exposes to the
// service loop: readability, writability, idle-poll and delayed-connect
// hooks, plus the bookkeeping fields the loop reads directly.
type Socket interface {
	// FD returns the current file descriptor, or -1 once closed.
	FD() int
	// Selected reports whether this tick's select(2) snapshot included
	// this socket; SetSelected latches/clears that flag.
	Selected() bool
	SetSelected(bool)
	// LastActivityMillis/Touch back the idle-poll cadence.
	LastActivityMillis() uint32
	Touch(nowMillis uint32)
	// DNSReady/ClearDNSReady back the DNS bridge.
	DNSReady() bool
	ClearDNSReady()

	// HandleReadable runs when select(2) reports the descriptor readable.
	HandleReadable()
	// HandleWritable runs when select(2) reports the descriptor writable;
	// the bool result is the "activity" signal the loop uses to decide
	// whether to take the long idle sleep.
	HandleWritable() (activity bool)
	// HandlePoll runs on the 125ms idle-poll cadence.
	HandlePoll()
	// HandleDelayedConnect runs once per DNS completion drained this tick.
	HandleDelayedConnect()
}

// Registry is the process-wide ordered collection of live managed
// sockets. The zero value is not usable; use New.
type Registry struct {
	mu      rmutex.RecursiveMutex
	sockets []Socket
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Lock acquires the registry mutex. Recursive: the same goroutine may
// call Lock again (e.g. a dispatched hook tearing a connection down)
// without deadlocking, provided every Lock is paired with an Unlock.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases one level of recursion.
func (r *Registry) Unlock() { r.mu.Unlock() }

// HeldByCaller reports whether the calling goroutine already holds the
// registry mutex.
func (r *Registry) HeldByCaller() bool { return r.mu.HeldByCaller() }

// Register appends s to the registry, reusing a tombstoned slot left by an
// earlier Unregister if one is available. Safe to call whether or not the
// caller already holds the lock.
func (r *Registry) Register(s Socket) {
	r.Lock()
	defer r.Unlock()
	for i, cur := range r.sockets {
		if cur == nil {
			r.sockets[i] = s
			return
		}
	}
	r.sockets = append(r.sockets, s)
}

// Unregister removes s from the registry, if present. It tombstones the
// slot (nils it out) rather than shifting the slice, because Unregister is
// commonly called from inside a hook Visit is dispatching: shifting
// elements out from under a range loop that cached the pre-removal length
// would skip or duplicate later entries.
func (r *Registry) Unregister(s Socket) {
	r.Lock()
	defer r.Unlock()
	for i, cur := range r.sockets {
		if cur == s {
			r.sockets[i] = nil
			return
		}
	}
}

// Visit calls fn for every registered, non-tombstoned socket in insertion
// order. The caller must already hold the registry lock, matching the
// specification's "caller holds the mutex" contract for traversal.
// Stops early if fn returns false.
func (r *Registry) Visit(fn func(Socket) bool) {
	for _, s := range r.sockets {
		if s == nil {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

// Len reports the number of live (non-tombstoned) registered sockets.
// Caller should hold the lock for a consistent read, though a stale count
// is harmless.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.sockets {
		if s != nil {
			n++
		}
	}
	return n
}
