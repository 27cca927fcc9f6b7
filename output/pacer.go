// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package output

import "github.com/cloudwego/tcpcore/stream"

// Pacer bounds how many bytes the send-list drain may emit for one stream
// in a tick, grounded on original_source/mtcp/src/pacing.c's rate limiter.
// Not mentioned in spec.md and not excluded by it either; the default,
// NoopPacer, imposes no limit beyond the existing cwnd/peer-window budget.
type Pacer interface {
	// Allow returns the number of bytes s may send this tick, capped at
	// want. A return of 0 defers the stream without consuming a TX slot.
	Allow(s *stream.Stream, want int) int
}

// NoopPacer allows the full requested amount every time.
type NoopPacer struct{}

func (NoopPacer) Allow(_ *stream.Stream, want int) int { return want }
