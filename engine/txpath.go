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

package engine

import (
	"github.com/cloudwego/tcpcore/driver"
	"github.com/cloudwego/tcpcore/output"
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/wire"
)

// controlThresh/ackThresh/sendThresh bound how many streams one tick drains
// off each list (mtcp's WriteTCPControlList/WriteTCPDataList/
// WriteTCPACKList all take a `thresh` the caller derives from how many TX
// descriptors the poll-mode driver has free; here a generous fixed batch
// keeps one engine tick from being monopolized by a single NIC attachment).
const (
	controlThresh = 256
	ackThresh     = 256
	sendThresh    = 256
)

// buildOptions assembles the option block for one outgoing segment. A SYN
// or SYN/ACK carries MSS, window scale and, when cfg.SACKPermit is set,
// SACK-permitted; it never carries a timestamp. Any other segment carries a
// timestamp only once the peer has sent one (SawTimestamp), and SACK blocks
// only once SACK was negotiated: up to wire.MaxSACKBlocks, or one fewer when
// a timestamp is carried, so the block fits the 40-byte option space.
func (e *Engine) buildOptions(s *stream.Stream, now uint64, flags wire.TCPFlags) wire.Options {
	var o wire.Options
	if flags.Has(wire.FlagSYN) {
		o.HasMSS = true
		o.MSS = e.cfg.MSS
		o.HasWScale = true
		o.WScale = s.Send.WScaleMine
		o.HasSACKPerm = e.cfg.SACKPermit
		return o
	}
	if s.SawTimestamp && s.Recv != nil {
		o.HasTimestamp = true
		o.TSVal = uint32(now)
		o.TSEcr = s.Recv.TSRecent
	}
	if s.SACKPermit && s.Recv != nil {
		if blocks := s.Recv.Sack.Blocks(); len(blocks) > 0 {
			if o.HasTimestamp && len(blocks) > wire.MaxSACKBlocks-1 {
				blocks = blocks[:wire.MaxSACKBlocks-1]
			}
			o.SACK = blocks
		}
	}
	return o
}

// advertisedWindow computes the advertised window field for an outgoing segment,
// scaled by our own window-scale factor once it applies (never on a SYN,
// per RFC 1323).
func advertisedWindow(s *stream.Stream, flags wire.TCPFlags) uint16 {
	if s.Recv == nil {
		return 0
	}
	wscale := s.Send.WScaleMine
	if flags.Has(wire.FlagSYN) {
		wscale = 0
	}
	w := s.Recv.RcvWnd >> wscale
	if w > 0xFFFF {
		w = 0xFFFF
	}
	return uint16(w)
}

// buildSegment lays out everything SendTCPPacket computes for one
// zero-or-more-byte segment. Apart from bumping the stream's IP ID it leaves
// the stream untouched: snd_nxt and the RTO timer advance in finishSend, once
// the segment has actually been handed to the driver.
func (e *Engine) buildSegment(s *stream.Stream, now uint64, flags wire.TCPFlags, payload []byte) output.Segment {
	seq := s.SndNxt
	if flags.Has(wire.FlagFIN) {
		seq = s.Send.FSS
	}
	var ack uint32
	if flags.Has(wire.FlagACK) {
		ack = s.RcvNxt
	}

	seg := output.Segment{
		Eps:     output.Endpoints{SrcMAC: e.Input.Eps.SrcMAC, DstMAC: s.PeerMAC},
		SrcIP:   s.SAddr,
		DstIP:   s.DAddr,
		SrcPort: s.SPort,
		DstPort: s.DPort,
		Seq:     seq,
		Ack:     ack,
		Window:  advertisedWindow(s, flags),
		Flags:   flags,
		Options: e.buildOptions(s, now, flags),
		Payload: payload,
		IPID:    s.Send.IPID,
	}
	s.Send.IPID++
	return seg
}

func (e *Engine) send(seg output.Segment) error {
	n := e.Builder.Len(seg)
	buf, err := e.driver.GetWptr(n)
	if err == driver.ErrBackpressure {
		return err
	}
	if err != nil {
		return err
	}
	e.Builder.Build(buf, seg)
	return nil
}

// finishSend runs the bookkeeping SendTCPPacket does once a segment has
// actually been handed to the driver: advance snd_nxt past payload/SYN/FIN,
// refresh the RTO timer if the segment carried anything worth
// retransmitting, and refresh last-active/ack-sent timestamps for ACKs.
func (e *Engine) finishSend(s *stream.Stream, now uint64, flags wire.TCPFlags, payloadLen int) {
	if flags.Has(wire.FlagACK) {
		s.Send.TSLastAckSent = uint32(now)
		s.LastActiveTick = now
	}
	if flags.Has(wire.FlagSYN) || flags.Has(wire.FlagFIN) {
		payloadLen++
	}
	s.SndNxt += uint32(payloadLen)
	if flags.Has(wire.FlagFIN) {
		s.Send.IsFinSent = true
	}
	if payloadLen > 0 {
		s.Send.RTO = e.effectiveRTO(s)
		s.Send.TSRto = uint32(now) + s.Send.RTO
		if s.RTOWheelSlot >= 0 {
			e.Input.RTO.Cancel(s.RTOWheelSlot, s)
		}
		s.RTOWheelSlot = e.Input.RTO.Schedule(s, int(s.Send.RTO))
	}
}

func (e *Engine) effectiveRTO(s *stream.Stream) uint32 {
	if s.Send.RTO == 0 {
		return e.cfg.RTOMinTicks()
	}
	return s.Send.RTO
}

// composeControl decides what segment (if any) state s owes the control
// list this tick, grounded on tcp_out.c's SendControlPacket. The bool
// results mirror its return-code contract: defer means "put back at tail,
// try the next stream" (WriteTCPControlList); destroyAfter means the
// stream must be torn down once the send succeeds (the CLOSED/RST case).
func (e *Engine) composeControl(s *stream.Stream) (flags wire.TCPFlags, ok, defer_ bool, destroyAfter bool) {
	onSendOrAck := s.Send.Queues.Has(stream.SlotSendList) || s.Send.Queues.Has(stream.SlotAckList)

	switch s.State {
	case stream.StateSynSent:
		flags = wire.FlagSYN
	case stream.StateSynRcvd:
		s.SndNxt = s.Send.ISS
		flags = wire.FlagSYN | wire.FlagACK
	case stream.StateEstablished, stream.StateCloseWait, stream.StateFinWait2, stream.StateTimeWait:
		flags = wire.FlagACK
	case stream.StateLastAck, stream.StateFinWait1:
		if onSendOrAck {
			return 0, false, true, false
		}
		flags = wire.FlagFIN | wire.FlagACK
	case stream.StateClosing:
		if s.Send.IsFinSent && s.SndNxt != s.Send.FSS {
			flags = wire.FlagACK
		} else {
			flags = wire.FlagFIN | wire.FlagACK
		}
	case stream.StateClosed:
		if onSendOrAck {
			return 0, false, true, false
		}
		flags = wire.FlagRST
		destroyAfter = true
	default:
		return 0, false, false, false
	}

	return flags, true, false, destroyAfter
}

// writeControlList implements spec §4.9's write_control_list, draining up
// to controlThresh streams in FIFO order and honoring the two distinct
// failure modes WriteTCPControlList distinguishes: a dry TX ring (-2, hard
// backpressure) stops the whole drain and pushes the failed stream and every
// stream after it back onto the tail of the control list, in order; a
// deferred send (-1, e.g. "flush data first") requeues at the tail and
// continues.
func (e *Engine) writeControlList(now uint64) {
	streams := e.Output.DrainControl(controlThresh)
	for i, s := range streams {
		if !s.IsActive() && s.State != stream.StateClosed {
			continue
		}
		flags, ok, defer_, destroyAfter := e.composeControl(s)
		if !ok {
			if defer_ {
				e.Output.PushControl(s)
			}
			continue
		}

		seg := e.buildSegment(s, now, flags, nil)
		if err := e.send(seg); err != nil {
			if err == driver.ErrBackpressure {
				e.Output.PushControl(s)
				for _, rest := range streams[i+1:] {
					e.Output.PushControl(rest)
				}
				return
			}
			continue
		}
		e.finishSend(s, now, flags, 0)
		if destroyAfter {
			e.enqueueDestroy(s)
		}
	}
}

// writeAckList implements write_ack_list (WriteTCPACKList): drain aggregated
// pure-ACKs (AckCnt) and the one-shot window-update ACK (IsWack).
func (e *Engine) writeAckList(now uint64) {
	streams := e.Output.DrainAck(ackThresh)
	for i, s := range streams {
		if !s.IsActive() {
			continue
		}
		backpressured := false
		for s.Send.AckCnt > 0 {
			seg := e.buildSegment(s, now, wire.FlagACK, nil)
			if err := e.send(seg); err != nil {
				backpressured = err == driver.ErrBackpressure
				break
			}
			e.finishSend(s, now, wire.FlagACK, 0)
			s.Send.AckCnt--
		}
		if !backpressured && s.Send.IsWack {
			seg := e.buildSegment(s, now, wire.FlagACK, nil)
			seg.Seq = s.SndNxt - 1
			if err := e.send(seg); err != nil {
				backpressured = err == driver.ErrBackpressure
			} else {
				e.finishSend(s, now, wire.FlagACK, 0)
				s.Send.IsWack = false
			}
		}
		if backpressured {
			e.Output.PushAck(s)
			for _, rest := range streams[i+1:] {
				e.Output.PushAck(rest)
			}
			return
		}
	}
}

// writeDataList implements write_data_list (WriteTCPDataList / mtcp's
// FlushTCPSendingBuffer): segments the stream's unsent bytes up to
// min(cwnd, peer_wnd) and EffMSS per packet until the window or the driver's
// TX ring is exhausted.
func (e *Engine) writeDataList(now uint64) {
	streams := e.Output.DrainSend(sendThresh)
	for i, s := range streams {
		if !s.IsActive() {
			continue
		}
		if s.State == stream.StateEstablished && s.Send.Queues.Has(stream.SlotControlList) {
			e.Output.PushSend(s)
			continue
		}
		switch s.State {
		case stream.StateEstablished, stream.StateCloseWait, stream.StateFinWait1, stream.StateLastAck:
		default:
			continue
		}

		if !e.flushOne(s, now) {
			e.Output.PushSend(s)
			for _, rest := range streams[i+1:] {
				e.Output.PushSend(rest)
			}
			return
		}
	}
}

// flushOne drains s's send ring until the congestion/peer window or the
// unsent data runs out, returning false the first time the driver reports
// backpressure so the caller can stop the whole tick's drain (mirroring
// WriteTCPDataList's "no available write buffer, break").
func (e *Engine) flushOne(s *stream.Stream, now uint64) bool {
	for {
		inFlight := s.SndNxt - s.Send.SndUna
		win := s.Send.Cwnd
		if s.Send.PeerWnd < win {
			win = s.Send.PeerWnd
		}
		if uint32(inFlight) >= win {
			return true
		}
		budget := int(win - inFlight)

		unsent := s.Send.SendBuf.Unsent()
		if len(unsent) == 0 {
			return true
		}

		mss := int(s.Send.EffMSS)
		if mss <= 0 {
			mss = int(e.cfg.MSS)
		}
		n := len(unsent)
		if n > budget {
			n = budget
		}
		if n > mss {
			n = mss
		}
		if n > 0 {
			n = e.Pacer.Allow(s, n)
		}
		if n <= 0 {
			return true
		}
		payload := unsent[:n]

		flags := wire.FlagACK
		if s.State == stream.StateEstablished || s.State == stream.StateCloseWait {
			flags |= wire.FlagPSH
		}
		seg := e.buildSegment(s, now, flags, payload)
		if err := e.send(seg); err != nil {
			return err != driver.ErrBackpressure
		}
		s.Send.SendBuf.MarkSent(uint32(n))
		e.finishSend(s, now, flags, n)
	}
}
