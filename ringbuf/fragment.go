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

// Package ringbuf implements the per-stream receive and send ring buffers
// (spec §3 "ring buffers", §4.2 reassembly). RecvRing keeps out-of-order
// segments in a sorted, merge-on-insert fragment list so MergedLen always
// reflects the contiguous run starting at HeadSeq; SendRing is the simpler
// linear unacked/unsent buffer on the write side.
package ringbuf

import "math"

// fragment is one contiguously-received run of bytes not yet merged into
// the head of the stream. Fragments are kept in ascending-seq order.
type fragment struct {
	seq  uint32
	len  uint32
	next *fragment
}

func (f *fragment) end() uint32 { return f.seq + f.len }

const halfSpan = math.MaxUint32 / 2

// seqMin/seqMax compare two 32-bit sequence numbers under wraparound,
// exactly as GetMinSeq/GetMaxSeq do: whichever is "behind" by at most half
// the sequence space is the smaller one.
func seqMin(a, b uint32) uint32 {
	if a == b {
		return a
	}
	if a < b {
		if b-a <= halfSpan {
			return a
		}
		return b
	}
	if a-b <= halfSpan {
		return b
	}
	return a
}

func seqMax(a, b uint32) uint32 {
	if a == b {
		return a
	}
	if a < b {
		if b-a <= halfSpan {
			return b
		}
		return a
	}
	if a-b <= halfSpan {
		return a
	}
	return b
}

// canMerge reports whether fragments a and b overlap or touch (form one
// contiguous run once merged).
func canMerge(a, b *fragment) bool {
	aEnd := a.seq + a.len + 1
	bEnd := b.seq + b.len + 1
	if seqMin(aEnd, b.seq) == aEnd {
		return false
	}
	if seqMin(bEnd, a.seq) == bEnd {
		return false
	}
	return true
}

// mergeInto merges a's range into b in place.
func mergeInto(a, b *fragment) {
	minSeq := seqMin(a.seq, b.seq)
	maxSeq := seqMax(a.seq+a.len, b.seq+b.len)
	b.seq = minSeq
	b.len = maxSeq - minSeq
}
