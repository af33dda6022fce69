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

import "github.com/asynctcp-go/asynctcp/internal/clock"

// WriteFlag controls how (*Client).Add/(*Client).Write treats the caller's
// buffer, matching spec.md section 6.
type WriteFlag uint8

const (
	// Copy makes the engine allocate and own a copy of the caller's
	// bytes; without it, the engine keeps the caller's slice and the
	// caller must not mutate it until the corresponding OnAck fires.
	Copy WriteFlag = 1 << iota
	// More is a hint that more data is coming immediately; honoring it
	// (suppressing PSH) is optional and this engine does not act on it,
	// matching spec.md's "reserved hint... optional to honour".
	More
)

// queuedBuffer is one outbound buffer awaiting transmission, matching
// spec.md's QueuedBuffer.
type queuedBuffer struct {
	data          []byte
	length        int
	written       int
	queuedAtMS    uint32
	writtenAtMS   uint32
	writeErr      error
	owned         bool
}

func newQueuedBuffer(data []byte, owned bool) *queuedBuffer {
	return &queuedBuffer{
		data:       data,
		length:     len(data),
		owned:      owned,
		queuedAtMS: clock.NowMillis(),
	}
}

func (b *queuedBuffer) done() bool {
	return b.written == b.length
}

// writeQueue is the per-client ordered sequence of outbound buffers,
// guarded by the client's write mutex (never the registry mutex).
type writeQueue struct {
	buffers []*queuedBuffer
}

func (q *writeQueue) empty() bool { return len(q.buffers) == 0 }

func (q *writeQueue) head() *queuedBuffer {
	if len(q.buffers) == 0 {
		return nil
	}
	return q.buffers[0]
}

func (q *writeQueue) push(b *queuedBuffer) {
	q.buffers = append(q.buffers, b)
}

func (q *writeQueue) popHead() {
	if len(q.buffers) == 0 {
		return
	}
	q.buffers = q.buffers[1:]
}

// drain frees every owned buffer's data and empties the queue. Used by
// teardown.
func (q *writeQueue) drain() {
	q.buffers = nil
}
