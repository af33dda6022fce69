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

// Package errcode defines the small integer error codes surfaced to
// on-error callbacks by the async TCP engine, plus a lookup table mapping
// them to human-readable strings, mirroring the original library's
// errorToString utility.
package errcode

import "fmt"

// Code is the type of error surfaced to an on-error callback. Positive
// values are POSIX errno values reported by the sockets layer; negative
// values are synthetic codes defined by this engine.
type Code int32

const (
	// OK indicates no error; never actually delivered to on-error.
	OK Code = 0
	// DNSFailed is the synthetic code fired when host resolution fails.
	DNSFailed Code = -55
	// Abort is returned by (*Client).Abort(), never delivered to on-error.
	Abort Code = -1
)

var names = map[Code]string{
	OK:        "OK",
	Abort:     "ERR_ABRT",
	DNSFailed: "ERR_DNS_FAILED",
}

// ToString renders code the way the original errorToString() would: a
// short mnemonic for the codes this engine defines, "errno N" for any other
// positive code, and "ERR_UNKNOWN(N)" for any other negative code.
func ToString(code Code) string {
	if s, ok := names[code]; ok {
		return s
	}
	if code > 0 {
		return fmt.Sprintf("errno %d", int32(code))
	}
	return fmt.Sprintf("ERR_UNKNOWN(%d)", int32(code))
}

func (c Code) String() string { return ToString(c) }
