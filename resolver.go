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
	"context"
	"net"

	"github.com/asynctcp-go/asynctcp/internal/tcpsock"
)

// Resolver is the asynchronous name-resolution collaborator described in
// spec.md section 4.9: it may answer immediately (host was already a
// literal address) or answer later from another goroutine via done.
type Resolver interface {
	// Resolve looks up host. If the answer is known without blocking, it
	// returns immediate=true along with the result. Otherwise it returns
	// immediate=false and calls done exactly once, later, typically from
	// a goroutine other than the caller's.
	Resolve(host string, done func(ip [4]byte, ok bool)) (ip [4]byte, ok bool, immediate bool)
}

// DefaultResolver resolves literal IPv4 addresses immediately and
// everything else via net.DefaultResolver on a spawned goroutine, playing
// the role of the "foreign network thread" in spec.md's concurrency model.
type DefaultResolver struct{}

// Resolve implements Resolver.
func (DefaultResolver) Resolve(host string, done func(ip [4]byte, ok bool)) (ip [4]byte, ok bool, immediate bool) {
	if literal, isLiteral := tcpsock.ParseIPv4(host); isLiteral {
		return literal, true, true
	}
	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		if err != nil {
			done([4]byte{}, false)
			return
		}
		for _, a := range addrs {
			if v4 := a.IP.To4(); v4 != nil {
				var out [4]byte
				copy(out[:], v4)
				done(out, true)
				return
			}
		}
		done([4]byte{}, false)
	}()
	return [4]byte{}, false, false
}
