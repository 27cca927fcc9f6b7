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

package input

// Wraparound-safe 32-bit sequence-number comparisons (RFC 793 §3.3), the
// same arithmetic ringbuf and cc use internally; duplicated here rather than
// exported from either since this package has no other reason to import
// them as a dependency.
func seqLT(a, b uint32) bool  { return int32(a-b) < 0 }
func seqGT(a, b uint32) bool  { return int32(a-b) > 0 }
func seqLEQ(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGEQ(a, b uint32) bool { return int32(a-b) >= 0 }

// segmentAcceptable implements RFC 793's receive-acceptability test: true if
// [seq, seq+seglen) overlaps [rcvNxt, rcvNxt+rcvWnd). A zero-length segment
// against a zero receive window is acceptable only if seq == rcvNxt.
func segmentAcceptable(rcvNxt, rcvWnd, seq, seglen uint32) bool {
	if seglen == 0 {
		if rcvWnd == 0 {
			return seq == rcvNxt
		}
		return seqGEQ(seq, rcvNxt) && seqLT(seq, rcvNxt+rcvWnd)
	}
	if rcvWnd == 0 {
		return false
	}
	end := seq + seglen
	return (seqGEQ(seq, rcvNxt) && seqLT(seq, rcvNxt+rcvWnd)) ||
		(seqGT(end, rcvNxt) && seqLEQ(end, rcvNxt+rcvWnd))
}
