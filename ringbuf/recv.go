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

package ringbuf

import (
	"errors"

	"github.com/cloudwego/tcpcore/wire"
)

// ErrRingFull is returned by Put when the segment would run past the end of
// the fixed-size backing buffer (the engine must shrink its advertised
// window before this can happen in practice).
var ErrRingFull = errors.New("ringbuf: segment exceeds buffer capacity")

// RecvRing reassembles inbound TCP payload. Data arrives out of order; Put
// slots each segment in by absolute sequence number and folds it into the
// existing fragment list, merging overlapping/adjacent runs exactly as
// mtcp's RBPut does. MergedLen never includes a gap: it is the length of the
// single contiguous run beginning at HeadSeq.
type RecvRing struct {
	data []byte

	headOffset uint32
	tailOffset uint32
	lastLen    uint32

	headSeq   uint32
	initSeq   uint32
	mergedLen uint32
	cumLen    uint64

	frags *fragment
}

// NewRecvRing allocates a fixed-size receive ring seeded with the stream's
// initial sequence number (the ISN carried by the SYN/SYN-ACK).
func NewRecvRing(size int, initSeq uint32) *RecvRing {
	return &RecvRing{
		data:    make([]byte, size),
		headSeq: initSeq,
		initSeq: initSeq,
	}
}

// Cap returns the fixed backing buffer size.
func (r *RecvRing) Cap() int { return len(r.data) }

// HeadSeq is the sequence number of the next byte the application has not
// yet consumed.
func (r *RecvRing) HeadSeq() uint32 { return r.headSeq }

// MergedLen is the number of contiguous, in-order bytes available to read
// starting at HeadSeq.
func (r *RecvRing) MergedLen() uint32 { return r.mergedLen }

// CumLen is the cumulative number of bytes ever merged into the contiguous
// run, used for throughput accounting.
func (r *RecvRing) CumLen() uint64 { return r.cumLen }

// FreeSpace reports how many more bytes starting at headSeq can be
// accepted, i.e. the value ProcessACK/the output path advertises as the
// receive window.
func (r *RecvRing) FreeSpace() uint32 {
	return uint32(len(r.data)) - r.lastLen
}

// Put copies a segment of len(data) bytes starting at absolute sequence
// cur_seq into the ring, updating the fragment list and MergedLen. It
// returns the number of bytes accepted: 0 if the segment is entirely
// behind headSeq (a pure duplicate, silently dropped per spec §4.1),
// ErrRingFull if it would run past the buffer's fixed capacity.
func (r *RecvRing) Put(data []byte, curSeq uint32) (int, error) {
	n := len(data)
	if n == 0 {
		return 0, nil
	}
	if seqMin(r.headSeq, curSeq) != r.headSeq {
		return 0, nil // already consumed, duplicate retransmission
	}

	putX := curSeq - r.headSeq
	endOff := putX + uint32(n)
	if uint32(len(r.data)) < endOff {
		return 0, ErrRingFull
	}

	if uint32(len(r.data)) <= r.headOffset+endOff {
		copy(r.data, r.data[r.headOffset:r.headOffset+r.lastLen])
		r.tailOffset -= r.headOffset
		r.headOffset = 0
	}
	copy(r.data[r.headOffset+putX:], data)
	if r.tailOffset < r.headOffset+endOff {
		r.tailOffset = r.headOffset + endOff
	}
	r.lastLen = r.tailOffset - r.headOffset

	newFrag := &fragment{seq: curSeq, len: uint32(n)}
	r.insertFragment(newFrag)

	if r.frags != nil && r.headSeq == r.frags.seq {
		r.cumLen += uint64(r.frags.len - r.mergedLen)
		r.mergedLen = r.frags.len
	}
	return n, nil
}

// insertFragment merges newFrag into the sorted fragment list, absorbing
// every overlapping/adjacent neighbor it touches.
func (r *RecvRing) insertFragment(newFrag *fragment) {
	var prev, pprev *fragment
	merged := false
	cur := newFrag

	iter := r.frags
	for iter != nil {
		next := iter.next
		if canMerge(cur, iter) {
			mergeInto(cur, iter)
			if prev == cur {
				if pprev != nil {
					pprev.next = iter
				} else {
					r.frags = iter
				}
				prev = pprev
			}
			cur = iter
			merged = true
			pprev = prev
			prev = iter
			iter = next
			continue
		}
		if merged || seqMax(newFrag.seq+newFrag.len, iter.seq) == iter.seq {
			break
		}
		pprev = prev
		prev = iter
		iter = next
	}

	if merged {
		return
	}

	switch {
	case r.frags == nil:
		r.frags = cur
	case seqMin(cur.seq, r.frags.seq) == cur.seq:
		cur.next = r.frags
		r.frags = cur
	default:
		p := r.frags
		for p.next != nil && seqMin(cur.seq, p.next.seq) != cur.seq {
			p = p.next
		}
		cur.next = p.next
		p.next = cur
	}
}

// Read copies up to len(p) merged (in-order) bytes starting at HeadSeq into
// p without consuming them. It is the non-destructive half of the socket
// recv/peek path.
func (r *RecvRing) Read(p []byte) int {
	n := len(p)
	if uint32(n) > r.mergedLen {
		n = int(r.mergedLen)
	}
	copy(p[:n], r.data[r.headOffset:r.headOffset+uint32(n)])
	return n
}

// Bytes returns the contiguous, in-order run of MergedLen bytes starting at
// HeadSeq without copying. Put never lets this run wrap the backing array
// (it compacts first, see Put), so the slice is always valid as-is; callers
// must not hold onto it past the next Put/Remove.
func (r *RecvRing) Bytes() []byte {
	return r.data[r.headOffset : r.headOffset+r.mergedLen]
}

// Remove advances HeadSeq by n bytes, shrinking MergedLen and the
// fragment list accordingly. n must not exceed MergedLen. Called from the
// application-facing recv() path (spec: socket recv/read consumes bytes out
// of the ring).
func (r *RecvRing) Remove(n uint32) uint32 {
	if n > r.mergedLen {
		n = r.mergedLen
	}
	if n == 0 {
		return 0
	}

	r.headOffset += n
	r.headSeq += n
	r.mergedLen -= n
	r.lastLen -= n

	switch {
	case r.frags == nil:
	case n == r.frags.len:
		r.frags = r.frags.next
	case n < r.frags.len:
		r.frags.seq += n
		r.frags.len -= n
	default:
		// n spans past the first fragment's end: only possible if the
		// caller asked to remove more than MergedLen, which we already
		// clamped above.
		r.frags.seq += n
		r.frags.len = 0
		r.frags = r.frags.next
	}
	return n
}

// SACKBlocks returns the out-of-order fragment list as SACK ranges the
// output path can advertise, in ascending sequence order, capped at
// wire.MaxSACKBlocks. The in-order run starting at HeadSeq is not included.
func (r *RecvRing) SACKBlocks() []wire.SACKBlock {
	f := r.frags
	if f != nil && f.seq == r.headSeq {
		f = f.next
	}
	var blocks []wire.SACKBlock
	for ; f != nil && len(blocks) < wire.MaxSACKBlocks; f = f.next {
		blocks = append(blocks, wire.SACKBlock{Start: f.seq, End: f.seq + f.len})
	}
	return blocks
}
