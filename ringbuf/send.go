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

import "github.com/bytedance/gopkg/lang/mcache"

// SendRing is the per-stream transmit buffer: a flat byte run the
// application appends to (Write) and the output path drains from the head
// as ACKs arrive (Ack). Unlike RecvRing there is no out-of-order problem on
// this side, so a growable linear buffer in mcache's idiom (cf.
// bufiox.DefaultReader.acquire) is enough.
type SendRing struct {
	buf []byte // buf[head:len(buf)] is unacked+unsent data
	head int

	initSeq uint32
	sndUna  uint32 // seq of buf[head], i.e. the oldest unacked byte
	sndNxt  uint32 // seq of the next byte to be sent
}

// NewSendRing allocates a send ring seeded with the stream's own ISN.
func NewSendRing(initialCap int, initSeq uint32) *SendRing {
	if initialCap <= 0 {
		initialCap = 16 * 1024
	}
	return &SendRing{
		buf:     mcache.Malloc(initialCap)[:0],
		initSeq: initSeq,
		sndUna:  initSeq,
		sndNxt:  initSeq,
	}
}

// Buffered returns the number of bytes queued (sent-but-unacked plus
// not-yet-sent).
func (s *SendRing) Buffered() int { return len(s.buf) - s.head }

// Unsent returns the bytes not yet handed to the output path.
func (s *SendRing) Unsent() []byte {
	offset := s.sndNxt - s.sndUna
	return s.buf[s.head+int(offset):]
}

// Write appends application data to the tail of the buffer, growing it if
// necessary.
func (s *SendRing) Write(data []byte) int {
	need := len(s.buf) + len(data)
	if need > cap(s.buf) {
		grown := mcache.Malloc(need * 2)[:len(s.buf)]
		copy(grown, s.buf)
		mcache.Free(s.buf[:0])
		s.buf = grown
	}
	s.buf = append(s.buf, data...)
	return len(data)
}

// MarkSent advances sndNxt by n bytes, accounting for a segment the output
// path has just handed to the driver.
func (s *SendRing) MarkSent(n uint32) { s.sndNxt += n }

// SndNxt is the sequence number of the next unsent byte.
func (s *SendRing) SndNxt() uint32 { return s.sndNxt }

// SndUna is the sequence number of the oldest unacknowledged byte.
func (s *SendRing) SndUna() uint32 { return s.sndUna }

// Ack advances sndUna to newUna, freeing the newly-acknowledged prefix of
// the buffer. newUna must not be ahead of sndNxt.
func (s *SendRing) Ack(newUna uint32) {
	advance := newUna - s.sndUna
	if advance == 0 {
		return
	}
	s.head += int(advance)
	s.sndUna = newUna
	if s.head == len(s.buf) {
		s.buf = s.buf[:0]
		s.head = 0
	}
}

// Rewind moves sndNxt back to seq, so the output path re-sends from there on
// the next drain. Used by fast retransmit (three duplicate ACKs) and RTO
// expiry, both of which must re-offer already-sent-but-unacked bytes. seq
// must be within [sndUna, sndNxt].
func (s *SendRing) Rewind(seq uint32) {
	if seq-s.sndUna > s.sndNxt-s.sndUna {
		return
	}
	s.sndNxt = seq
}

// RetransmitFrom returns the bytes starting at seq (which must be within
// [sndUna, sndNxt)) through sndNxt, for building a retransmission segment.
func (s *SendRing) RetransmitFrom(seq uint32, maxLen int) []byte {
	off := int(seq - s.sndUna)
	if off < 0 || s.head+off > len(s.buf) {
		return nil
	}
	avail := s.buf[s.head+off:]
	sent := int(s.sndNxt-s.sndUna) - off
	if sent > len(avail) {
		sent = len(avail)
	}
	if sent < 0 {
		sent = 0
	}
	seg := avail[:sent]
	if maxLen > 0 && len(seg) > maxLen {
		seg = seg[:maxLen]
	}
	return seg
}
