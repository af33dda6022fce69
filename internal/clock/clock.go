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

// Package clock provides the monotonic millisecond clock the service loop
// and its timeout logic are specified against. It is a thin shim over
// time.Now so tests can measure elapsed time without depending on wall
// clock adjustments, matching the external "monotonic millisecond clock"
// collaborator in the specification's out-of-scope list.
package clock

import "time"

var start = time.Now()

// NowMillis returns the number of milliseconds elapsed since the clock
// was first used. It is monotonic within a process until the uint32 wraps
// (after about 49.7 days); callers compare readings by unsigned
// subtraction, which stays correct across one wrap.
func NowMillis() uint32 {
	return uint32(time.Since(start).Milliseconds())
}
