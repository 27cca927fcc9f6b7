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

// SendVars is the sender-side variable block (tcp_send_vars): congestion
// and retransmission state, cached next-hop info, and the QueueSlot
// membership bitmask replacing the seven on_X_list booleans.
type SendVars struct {
	IPID uint16

	MSS    uint16 // peer-advertised MSS
	EffMSS uint16 // MSS minus option overhead, what the output path actually segments to

	WScaleMine uint8
	WScalePeer uint8
	HasWScale  bool

	SndUna  uint32
	SndWnd  uint32
	PeerWnd uint32
	ISS     uint32
	FSS     uint32 // final send sequence, set once a FIN has been queued

	NRTX    uint8
	MaxNRTX uint8
	RTO     uint32 // current retransmission timeout, ticks
	TSRto   uint32 // tick at which the RTO fires

	Cwnd     uint32
	Ssthresh uint32

	TSLastAckSent uint32

	IsWack bool // this stream owes the peer a pure window-update ACK
	AckCnt uint8

	Queues QueueSlot

	IsFinSent bool
	IsFinAckd bool

	SendBuf *ringbuf.SendRing
}

// NewSendVars builds a SendVars with its send ring seeded at iss.
func NewSendVars(iss uint32, bufSize int) *SendVars {
	return &SendVars{
		ISS:     iss,
		SndUna:  iss,
		SendBuf: ringbuf.NewSendRing(bufSize, iss),
	}
}
