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

// Package rmutex implements a recursive mutex keyed by goroutine identity.
//
// The specification requires the registry mutex to be recursive: hooks
// dispatched by the service loop while the mutex is held may themselves
// invoke close/error teardown paths that acquire the same mutex, and a
// user callback invoked from inside a hook may call the public Close()
// method on its own connection. None of the corpus's event-loop designs
// need this — they are single-goroutine-per-loop with non-reentrant
// callback chains — so there is no third-party building block for it.
// sync.Mutex is not reentrant, so this is built directly on runtime/sync.
package rmutex

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// RecursiveMutex may be locked more than once by the same goroutine; the
// underlying lock is released only once the outermost Unlock runs.
type RecursiveMutex struct {
	mu        sync.Mutex
	owner     int64
	recursion int32
}

// Lock acquires the mutex, or increments the recursion count if the
// calling goroutine already holds it.
func (m *RecursiveMutex) Lock() {
	gid := goroutineID()
	if atomic.LoadInt64(&m.owner) == gid {
		m.recursion++
		return
	}
	m.mu.Lock()
	atomic.StoreInt64(&m.owner, gid)
	m.recursion = 1
}

// Unlock decrements the recursion count, releasing the underlying lock
// only when it reaches zero. Panics if called by a goroutine that does
// not hold the lock.
func (m *RecursiveMutex) Unlock() {
	gid := goroutineID()
	if atomic.LoadInt64(&m.owner) != gid {
		panic("rmutex: Unlock called by a goroutine that does not hold the lock")
	}
	m.recursion--
	if m.recursion > 0 {
		return
	}
	atomic.StoreInt64(&m.owner, 0)
	m.mu.Unlock()
}

// HeldByCaller reports whether the calling goroutine currently holds the
// lock.
func (m *RecursiveMutex) HeldByCaller() bool {
	return atomic.LoadInt64(&m.owner) == goroutineID()
}

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
