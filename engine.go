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
	"sync/atomic"
	"time"

	"github.com/asynctcp-go/asynctcp/internal/asynclog"
	"github.com/asynctcp-go/asynctcp/internal/clock"
	"github.com/asynctcp-go/asynctcp/internal/registry"
	"github.com/asynctcp-go/asynctcp/internal/selectset"
	"github.com/asynctcp-go/asynctcp/internal/watchdog"
)

const idlePollIntervalMillis uint32 = 125

// Engine owns one registry and the single background worker that
// multiplexes every socket registered with it. Client and Server both
// register themselves with an Engine at construction and start it lazily
// on first use; the default, process-wide Engine returned by
// defaultEngine is what NewClient/NewServer use unless a test wires up an
// isolated one.
type Engine struct {
	reg *registry.Registry
	log asynclog.Logger
	wdt atomic.Value // watchdog.Feeder

	// readBuf is the single MAX_PAYLOAD-byte receive buffer spec.md
	// section 5 specifies as shared across every client: reads happen
	// sequentially on this Engine's one dispatcher goroutine, so handing
	// every HandleReadable call the same backing array is safe as long as
	// the on-data callback consumes or copies before returning.
	readBuf []byte

	startOnce sync.Once

	tickMu   sync.Mutex
	tickCond *sync.Cond
	ticks    uint64
}

func newEngine(log asynclog.Logger, wdt watchdog.Feeder) *Engine {
	e := &Engine{reg: registry.New(), log: log, readBuf: make([]byte, maxPayload)}
	e.wdt.Store(watchdogFeederOrNoop(wdt))
	e.tickCond = sync.NewCond(&e.tickMu)
	return e
}

func (e *Engine) watchdog() watchdog.Feeder {
	return e.wdt.Load().(watchdog.Feeder)
}

// SetWatchdog installs the task-watchdog feeder the shared service loop
// wraps around every dispatched hook, per spec.md's "task-watchdog"
// external collaborator. Passing nil disables watchdog feeding.
func (e *Engine) SetWatchdog(f watchdog.Feeder) {
	e.wdt.Store(watchdogFeederOrNoop(f))
}

var defaultEng = newEngine(asynclog.GetDefaultLogger(), watchdog.Noop{})

func defaultEngine() *Engine { return defaultEng }

// SetWatchdog installs the task-watchdog feeder on the package's shared
// service loop. See (*Engine).SetWatchdog.
func SetWatchdog(f watchdog.Feeder) {
	defaultEng.SetWatchdog(f)
}

// ensureRunning starts the background worker the first time any socket is
// registered against this Engine. The worker never returns; its lifetime
// is process-wide, matching the specification.
func (e *Engine) ensureRunning() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

func (e *Engine) run() {
	for {
		e.tick()
		e.tickMu.Lock()
		e.ticks++
		e.tickCond.Broadcast()
		e.tickMu.Unlock()
	}
}

// WaitForTick blocks until the engine has completed at least one more
// tick than it had when WaitForTick was called, or the timeout elapses.
// Exists for tests that need to observe a specific tick's effects without
// racing the background worker; it is not part of the specified API.
func (e *Engine) WaitForTick(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	target := e.ticks + 1
	for e.ticks < target {
		if time.Now().After(deadline) {
			return false
		}
		e.tickMu.Unlock()
		time.Sleep(time.Millisecond)
		e.tickMu.Lock()
	}
	return true
}

// tick runs one iteration of the service loop, matching spec.md section
// 4.1 step for step.
func (e *Engine) tick() {
	var readSet, writeSet selectset.Set
	readSet.Zero()
	writeSet.Zero()

	e.reg.Lock() // step 1: snapshot under the registry mutex
	e.reg.Visit(func(s registry.Socket) bool {
		fd := s.FD()
		if fd == -1 {
			return true
		}
		s.SetSelected(true)
		readSet.Add(fd)
		writeSet.Add(fd)
		return true
	})
	maxFD := readSet.MaxFD()
	if writeSet.MaxFD() > maxFD {
		maxFD = writeSet.MaxFD()
	}

	t1 := time.Now()
	_, _ = selectset.Select(maxFD, &readSet, &writeSet) // step 2: non-blocking probe

	activity := false
	wdt := e.watchdog()

	// step 3: writable-ready first, then readable-ready, registry order
	e.reg.Visit(func(s registry.Socket) bool {
		fd := s.FD()
		if fd != -1 && writeSet.IsSet(fd) {
			wdt.Feed()
			if s.HandleWritable() {
				activity = true
			}
			wdt.Clear()
		}
		return true
	})
	e.reg.Visit(func(s registry.Socket) bool {
		fd := s.FD()
		if fd != -1 && readSet.IsSet(fd) {
			wdt.Feed()
			s.HandleReadable()
			activity = true
			wdt.Clear()
		}
		return true
	})

	// step 4: drain DNS completions
	e.reg.Visit(func(s registry.Socket) bool {
		if s.DNSReady() {
			s.ClearDNSReady()
			wdt.Feed()
			s.HandleDelayedConnect()
			wdt.Clear()
		}
		return true
	})

	e.reg.Unlock() // step 5
	t2 := time.Now()

	// step 6: cooperative yield / 125ms idle-poll cadence
	elapsed := t2.Sub(t1)
	if !activity && elapsed < time.Duration(idlePollIntervalMillis)*time.Millisecond {
		time.Sleep(time.Duration(idlePollIntervalMillis)*time.Millisecond - elapsed)
	} else {
		time.Sleep(time.Millisecond)
	}

	// step 7: idle poll
	now := clock.NowMillis()
	e.reg.Lock()
	var toPoll []registry.Socket
	e.reg.Visit(func(s registry.Socket) bool {
		s.SetSelected(false)
		if now-s.LastActivityMillis() >= idlePollIntervalMillis {
			s.Touch(now)
			toPoll = append(toPoll, s)
		}
		return true
	})
	for _, s := range toPoll {
		wdt.Feed()
		s.HandlePoll()
		wdt.Clear()
	}
	e.reg.Unlock() // step 8
}
