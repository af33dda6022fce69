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

// Package watchdog models the optional task-watchdog facility the
// specification requires be "fed" around each dispatched callback. On the
// target platform this is a hardware/RTOS watchdog timer; there is no
// portable Go/OS equivalent, so this package exposes only the interface
// the service loop feeds, plus a no-op default and a counting
// implementation useful in tests.
package watchdog

// Feeder is fed immediately before and cleared immediately after every
// hook or user callback the service loop dispatches, matching the
// specification's "wrap with WDT feed/clear if enabled" requirement.
type Feeder interface {
	Feed()
	Clear()
}

// Noop is the default Feeder: watchdog feeding is a build-time toggle in
// the original and defaults to disabled here.
type Noop struct{}

func (Noop) Feed()  {}
func (Noop) Clear() {}

// Counting is a Feeder that counts feed/clear calls, useful for asserting
// that every dispatched hook was wrapped exactly once.
type Counting struct {
	Feeds  int
	Clears int
}

func (c *Counting) Feed()  { c.Feeds++ }
func (c *Counting) Clear() { c.Clears++ }
