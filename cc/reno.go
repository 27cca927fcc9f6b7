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

package cc

// Policy is the interface ProcessACK drives congestion control through.
// Reno is the built-in implementation; ExternalPolicy lets an out-of-process
// controller (CCP-style) replace it without input.go knowing the
// difference (spec §9: "external congestion-policy hook").
type Policy interface {
	// OnNewAck is called once per ACK that acknowledges new data, having
	// already removed rmlen bytes from the send buffer. packets is the
	// number of MSS-sized segments rmlen represents (rounded up).
	OnNewAck(rmlen uint32, packets uint32)
	// OnTripleDupAck is called exactly once when the third duplicate ACK
	// for the same ack_seq arrives (fast retransmit trigger).
	OnTripleDupAck()
	// OnDupAckAfterTriple is called for every duplicate ACK after the
	// third (congestion-window inflation during fast recovery).
	OnDupAckAfterTriple()
	// OnRTOExpire is called when the retransmission timer fires for this
	// stream.
	OnRTOExpire()
	// Cwnd and Ssthresh report the current congestion/slow-start window,
	// in bytes.
	Cwnd() uint32
	Ssthresh() uint32
	// SetPeerWindow updates the peer-advertised window, consulted by
	// OnTripleDupAck's ssthresh floor.
	SetPeerWindow(w uint32)
}

// Reno is the classic slow-start/congestion-avoidance/fast-recovery state
// machine (spec §4.2), grounded on tcp_in.c's ProcessACK congestion-control
// block.
type Reno struct {
	mss      uint32
	peerWnd  uint32
	cwnd     uint32
	ssthresh uint32
}

// NewReno builds a Reno controller. initCwnd is the initial congestion
// window in segments (mtcp's TCP_INIT_CWND), mss the stream's maximum
// segment size.
func NewReno(mss uint32, initCwndSegs uint32) *Reno {
	return &Reno{
		mss:      mss,
		cwnd:     mss * initCwndSegs,
		ssthresh: 0x7FFFFFFF, // effectively unbounded until the first loss
	}
}

func (r *Reno) Cwnd() uint32     { return r.cwnd }
func (r *Reno) Ssthresh() uint32 { return r.ssthresh }

// SetPeerWindow updates the peer-advertised window used to cap ssthresh on
// loss, mirroring sndvar->peer_wnd.
func (r *Reno) SetPeerWindow(w uint32) { r.peerWnd = w }

// OnNewAck implements slow start while cwnd < ssthresh, and additive
// increase (congestion avoidance) once past it — the exact arithmetic
// tcp_in.c uses, including its integer-overflow guard on cwnd+mss.
func (r *Reno) OnNewAck(rmlen uint32, packets uint32) {
	if r.cwnd < r.ssthresh {
		if r.cwnd+r.mss > r.cwnd {
			r.cwnd += r.mss * packets
		}
		return
	}
	newCwnd := r.cwnd + packets*r.mss*r.mss/r.cwnd
	if newCwnd > r.cwnd {
		r.cwnd = newCwnd
	}
}

// OnTripleDupAck performs the fast-retransmit cwnd/ssthresh cut: ssthresh
// becomes half of min(cwnd, peer_wnd) floored at 2*mss, and cwnd jumps to
// ssthresh+3*mss to account for the three segments known to have left the
// network.
func (r *Reno) OnTripleDupAck() {
	ss := r.cwnd
	if r.peerWnd < ss {
		ss = r.peerWnd
	}
	ss /= 2
	if ss < 2*r.mss {
		ss = 2 * r.mss
	}
	r.ssthresh = ss
	r.cwnd = r.ssthresh + 3*r.mss
}

// OnDupAckAfterTriple inflates cwnd by one MSS per additional duplicate ACK
// during fast recovery, guarded against overflow.
func (r *Reno) OnDupAckAfterTriple() {
	if r.cwnd+r.mss > r.cwnd {
		r.cwnd += r.mss
	}
}

// OnRTOExpire collapses to slow start from scratch: ssthresh becomes half
// the pre-loss cwnd, floored at 2*mss (spec §4.4), and cwnd drops to one
// segment.
func (r *Reno) OnRTOExpire() {
	ss := r.cwnd / 2
	if ss < 2*r.mss {
		ss = 2 * r.mss
	}
	r.ssthresh = ss
	r.cwnd = r.mss
}
