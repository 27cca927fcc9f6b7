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

import (
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/wire"
)

// processACK implements spec §4.2 end to end: reject stale/malformed acks,
// apply the RFC 793 window-update rule, detect duplicate acks (triggering
// fast retransmit on the third), and on a fresh cumulative ack drain the
// send buffer, sample RTT, drive the congestion-control policy and
// reset/stop the retransmission timer.
func (c *Context) processACK(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) {
	if !f.TCP.Flags.Has(wire.FlagACK) {
		return
	}
	ack := f.TCP.Ack
	sndUna := s.Send.SndUna
	sndNxt := s.Send.SendBuf.SndNxt()

	if seqLT(ack, sndUna) || seqGT(ack, sndNxt) {
		return // stale or malformed, step 1
	}

	seq := f.TCP.Seq
	wnd := uint32(f.TCP.Window)
	if s.Send.HasWScale {
		wnd <<= s.Send.WScalePeer
	}

	policy := c.policyFor(s)
	peerWndChanged := false
	if seqLT(s.Recv.SndWl1, seq) ||
		(s.Recv.SndWl1 == seq && seqLT(s.Recv.SndWl2, ack)) ||
		(s.Recv.SndWl2 == ack && wnd > s.Send.PeerWnd) {
		oldWnd := s.Send.PeerWnd
		s.Send.PeerWnd = wnd
		s.Recv.SndWl1 = seq
		s.Recv.SndWl2 = ack
		peerWndChanged = true
		if oldWnd == 0 && wnd > 0 && s.Send.SendBuf.Buffered() > 0 {
			c.Readiness.Raise(s.ID, readinessOut)
		}
	}
	policy.SetPeerWindow(s.Send.PeerWnd)

	outstanding := sndUna != sndNxt
	isDupAck := ack == sndUna && ack == s.Recv.LastAckSeq && len(f.Payload) == 0 && !peerWndChanged && outstanding
	if isDupAck {
		s.Recv.DupAcks++
		switch {
		case s.Recv.DupAcks == 3:
			policy.OnTripleDupAck()
			s.Send.SendBuf.Rewind(ack)
			s.Send.NRTX++
			c.Output.PushSend(s)
		case s.Recv.DupAcks > 3:
			policy.OnDupAckAfterTriple()
		}
		s.Send.Cwnd, s.Send.Ssthresh = policy.Cwnd(), policy.Ssthresh()
		return
	}

	if seqGT(ack, sndUna) {
		removed := ack - sndUna
		s.Send.SendBuf.Ack(ack)
		s.Send.SndUna = ack
		s.Recv.LastAckSeq = ack
		s.Recv.DupAcks = 0

		if s.Send.IsFinSent && ack == s.Send.FSS+1 {
			s.Send.IsFinAckd = true
		}

		sampleRTT(c, s, opts, now)

		mss := uint32(s.Send.MSS)
		if mss == 0 {
			mss = 1
		}
		packets := (removed + mss - 1) / mss
		if packets == 0 {
			packets = 1
		}
		policy.OnNewAck(removed, packets)

		if s.Send.SendBuf.SndNxt() != s.Send.SndUna {
			resetRTO(c, s, now)
		} else if s.RTOWheelSlot >= 0 {
			c.RTO.Cancel(s.RTOWheelSlot, s)
			s.RTOWheelSlot = -1
		}
	}

	s.Send.Cwnd, s.Send.Ssthresh = policy.Cwnd(), policy.Ssthresh()
}

// sampleRTT feeds the estimator from the timestamp echo when timestamps are
// in use, otherwise from a plain elapsed-ticks measurement gated by Karn's
// algorithm (no retransmit since the last fresh ack).
func sampleRTT(c *Context, s *stream.Stream, opts wire.Options, now uint64) {
	rtt := c.rttFor(s)
	sndNxt := s.Send.SendBuf.SndNxt()
	switch {
	case s.SawTimestamp && opts.HasTimestamp:
		rtt.Sample(int64(now)-int64(opts.TSEcr), s.Send.SndUna, sndNxt)
	case s.Send.NRTX == 0:
		rtt.Sample(int64(now)-int64(s.Send.TSLastAckSent), s.Send.SndUna, sndNxt)
	default:
		return // Karn's algorithm: skip ambiguous retransmitted segments
	}
	s.Send.TSLastAckSent = uint32(now)

	rto := rtt.RTO()
	if rto < c.Params.RTOMin {
		rto = c.Params.RTOMin
	}
	s.Send.RTO = rto
}

// resetRTO (re)schedules the retransmission timer for one RTO from now.
func resetRTO(c *Context, s *stream.Stream, now uint64) {
	if s.RTOWheelSlot >= 0 {
		c.RTO.Cancel(s.RTOWheelSlot, s)
	}
	rto := s.Send.RTO
	if rto == 0 {
		rto = c.Params.RTOMin
	}
	s.Send.TSRto = uint32(now) + rto
	s.RTOWheelSlot = c.RTO.Schedule(s, int(rto))
}
