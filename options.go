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
	"time"

	"github.com/asynctcp-go/asynctcp/internal/asynclog"
	"github.com/asynctcp-go/asynctcp/internal/watchdog"
)

// config collects the functional options applied to a Client or Server at
// construction, mirroring gnet's Options pattern.
type config struct {
	logger           asynclog.Logger
	resolver         Resolver
	ackTimeoutMillis uint32
	rxTimeoutSeconds uint32
	noDelay          bool
	sendBuffer       int
	watchdog         watchdog.Feeder
}

func defaultConfig() *config {
	return &config{
		logger:     asynclog.GetDefaultLogger(),
		resolver:   DefaultResolver{},
		noDelay:    false,
		sendBuffer: initialWriteWindow,
	}
}

// Option configures a Client or Server constructed by NewClient/NewServer.
type Option func(*config)

// WithLogger overrides the package default logger for one connection.
func WithLogger(l asynclog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResolver overrides the DNS bridge's resolver, e.g. for tests.
func WithResolver(r Resolver) Option {
	return func(c *config) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithAckTimeout sets the initial ack timeout; zero disables it. Rounded
// down to whole milliseconds, matching the specification's millisecond
// granularity for this timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(c *config) {
		c.ackTimeoutMillis = uint32(d.Milliseconds())
	}
}

// WithRxTimeout sets the initial rx timeout; zero disables it. Truncated
// to whole seconds, matching the specification's asymmetric
// seconds-granularity for this timeout (deliberately different from
// WithAckTimeout's milliseconds).
func WithRxTimeout(d time.Duration) Option {
	return func(c *config) {
		c.rxTimeoutSeconds = uint32(d.Seconds())
	}
}

// WithNoDelay sets the initial TCP_NODELAY state.
func WithNoDelay(noDelay bool) Option {
	return func(c *config) {
		c.noDelay = noDelay
	}
}

// WithSendBufferHint overrides the simulated initial send window used by
// space()/add() accounting (spec.md's "platform send-buffer constant").
func WithSendBufferHint(bytes int) Option {
	return func(c *config) {
		if bytes > 0 {
			c.sendBuffer = bytes
		}
	}
}

// WithWatchdog installs the task-watchdog feeder the service loop wraps
// around every dispatched hook, per spec.md's "task-watchdog" external
// collaborator. Every Client/Server constructed against the same service
// loop shares its one watchdog, matching the original's single hardware
// WDT, so this is equivalent to calling Engine.SetWatchdog on the
// object's engine, just reachable from NewClient/NewServer's functional
// options instead of requiring a separate call. Nil is ignored: the
// engine keeps whatever feeder it already has (use Engine.SetWatchdog(nil)
// to disable feeding).
func WithWatchdog(f watchdog.Feeder) Option {
	return func(c *config) {
		c.watchdog = f
	}
}

func loadOptions(opts ...Option) *config {
	c := defaultConfig()
	for _, o := range opts {
		o(c)
	}
	return c
}

// watchdogFeederOrNoop substitutes a no-op Feeder for a nil one, used by
// Engine.SetWatchdog and newEngine so the service loop never needs a nil
// check on its hot path.
func watchdogFeederOrNoop(f watchdog.Feeder) watchdog.Feeder {
	if f == nil {
		return watchdog.Noop{}
	}
	return f
}
