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

package stream

import "github.com/cloudwego/tcpcore/ringbuf"

// RecvVars is the receiver-side variable block (tcp_recv_vars): window
// management, fast-retransmit duplicate-ACK tracking, PAWS timestamp state
// and the Jacobson/Karels RTT estimator's accumulators.
type RecvVars struct {
	RcvWnd uint32 // advertised receive window, unscaled
	IRS    uint32 // initial receiving sequence
	SndWl1 uint32 // seq of the segment that last updated the send window
	SndWl2 uint32 // ack of the segment that last updated the send window

	DupAcks    uint8
	LastAckSeq uint32

	TSRecent     uint32 // most recent timestamp echoed back by the peer (PAWS)
	TSLastAckRcvd uint32
	TSLastTSUpd   uint32
	TSTimeWaitExpire uint32

	SRTT    uint32 // smoothed RTT, scaled << 3
	Mdev    uint32
	MdevMax uint32
	RTTVar  uint32
	RTTSeq  uint32 // seq tracked to know when RTTVar may next update

	RecvBuf *ringbuf.RecvRing
	Sack    SackTable
}

// NewRecvVars builds a RecvVars with its ring buffer seeded at irs+1 (the
// first data byte sequence number, per RFC 793).
func NewRecvVars(irs uint32, bufSize int) *RecvVars {
	return &RecvVars{
		IRS:     irs,
		RecvBuf: ringbuf.NewRecvRing(bufSize, irs+1),
	}
}
