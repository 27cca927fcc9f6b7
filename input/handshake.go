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

// applyPeerOptions copies the negotiated connection parameters out of a
// SYN/SYN-ACK's option block, shared between the passive-open (acceptSyn)
// and active-open (handleSynSent) paths so the negotiation logic lives in
// one place.
func applyPeerOptions(s *stream.Stream, opts wire.Options, now uint64, sackPermitCfg bool) {
	if opts.HasMSS && opts.MSS != 0 && opts.MSS < s.Send.MSS {
		s.Send.MSS = opts.MSS
	}
	s.Send.EffMSS = s.Send.MSS
	s.SawTimestamp = opts.HasTimestamp
	if opts.HasTimestamp {
		s.Recv.TSRecent = opts.TSVal
		s.Recv.TSLastTSUpd = uint32(now)
		s.Send.EffMSS -= wire.OptLenTimestamp
	}
	s.SACKPermit = opts.HasSACKPerm && sackPermitCfg
	if opts.HasWScale {
		s.Send.HasWScale = true
		s.Send.WScalePeer = opts.WScale
	}
}

// handleSynSent implements the SYN_SENT edges: a RST ends the attempt, a
// SYN/ACK acknowledging our ISS completes the handshake into ESTABLISHED, a
// bare SYN (simultaneous open) moves to SYN_RCVD and answers with our own
// SYN/ACK.
func (c *Context) handleSynSent(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) error {
	if f.TCP.Flags.Has(wire.FlagRST) {
		if f.TCP.Flags.Has(wire.FlagACK) && f.TCP.Ack == s.Send.ISS+1 {
			s.HaveReset = true
			s.CloseReason = stream.CloseReasonReset
			c.Readiness.Raise(s.ID, readinessErr)
			c.Forget(s)
			if c.Destroy != nil {
				c.Destroy(s)
			}
		}
		return nil
	}
	if !f.TCP.Flags.Has(wire.FlagSYN) {
		return nil
	}

	s.InitRecv(f.TCP.Seq, c.Params.RecvBufSize)
	copy(s.PeerMAC[:], f.Eth.Src[:])
	applyPeerOptions(s, opts, now, c.Params.SACKPermit)
	s.Recv.RcvWnd = uint32(c.Params.RecvBufSize)
	s.Send.PeerWnd = uint32(f.TCP.Window)

	if f.TCP.Flags.Has(wire.FlagACK) {
		if f.TCP.Ack != s.Send.ISS+1 {
			return c.sendRSTForAck(f)
		}
		s.Send.SndUna = f.TCP.Ack
		s.Send.SendBuf.Ack(f.TCP.Ack)
		if err := s.SetState(stream.StateEstablished); err != nil {
			return err
		}
		c.Output.PushAck(s)
		c.Readiness.Raise(s.ID, readinessOut)
		return nil
	}

	if err := s.SetState(stream.StateSynRcvd); err != nil {
		return err
	}
	c.Output.PushControl(s)
	return nil
}

// handleSynRcvd implements the SYN_RCVD edges: the handshake's final ACK
// moves the stream to ESTABLISHED and hands it to the listener's accept
// queue; a retransmitted SYN just re-sends our SYN/ACK.
func (c *Context) handleSynRcvd(s *stream.Stream, f wire.Frame, now uint64) error {
	if f.TCP.Flags.Has(wire.FlagSYN) && !f.TCP.Flags.Has(wire.FlagACK) {
		c.Output.PushControl(s)
		return nil
	}
	if !f.TCP.Flags.Has(wire.FlagACK) {
		return nil
	}
	if f.TCP.Ack != s.Send.ISS+1 {
		return c.sendRSTForAck(f)
	}

	s.Send.SndUna = f.TCP.Ack
	s.Send.SendBuf.Ack(f.TCP.Ack)
	if err := s.SetState(stream.StateEstablished); err != nil {
		return err
	}

	if lq, ok := c.acceptQueues[s.ID]; ok {
		delete(c.acceptQueues, s.ID)
		if !lq.Offer(s) {
			s.CloseReason = stream.CloseReasonNotAccepted
			c.Forget(s)
			if c.Destroy != nil {
				c.Destroy(s)
			}
			return nil
		}
	}
	c.Readiness.Raise(s.ID, readinessOut)

	if len(f.Payload) > 0 {
		c.processPayload(s, f)
	}
	return nil
}

// handleEstablished processes an ACK, any payload, and a FIN all on the
// same segment, in that order — the order tcp_in.c's ProcessTCPPacket uses.
func (c *Context) handleEstablished(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) error {
	c.processACK(s, f, opts, now)
	if len(f.Payload) > 0 {
		c.processPayload(s, f)
	}
	if f.TCP.Flags.Has(wire.FlagFIN) {
		c.receiveFIN(s, f)
	}
	return nil
}

// receiveFIN advances RcvNxt past a FIN that has arrived in sequence,
// marks the peer half-closed and moves the stream to CLOSE_WAIT. A FIN
// that arrives ahead of RcvNxt (out-of-order) is left for retransmission —
// RecvRing has no mechanism to buffer a FIN's sequence-number slot.
func (c *Context) receiveFIN(s *stream.Stream, f wire.Frame) {
	finSeq := f.TCP.Seq + uint32(len(f.Payload))
	if finSeq != s.RcvNxt {
		return
	}
	s.RcvNxt++
	s.PeerFinSeen = true
	if s.State == stream.StateEstablished {
		s.CloseReason = stream.CloseReasonPassive
		if err := s.SetState(stream.StateCloseWait); err != nil {
			return
		}
	}
	c.Output.PushAck(s)
	c.Readiness.Raise(s.ID, readinessIn|readinessHup)
}

// handleFinWait1 implements the three FIN_WAIT_1 edges: our FIN acked only
// -> FIN_WAIT_2; peer FIN only (simultaneous close) -> CLOSING; both ->
// TIME_WAIT directly.
func (c *Context) handleFinWait1(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) error {
	c.processACK(s, f, opts, now)
	if len(f.Payload) > 0 {
		c.processPayload(s, f)
	}
	if f.TCP.Flags.Has(wire.FlagFIN) {
		finSeq := f.TCP.Seq + uint32(len(f.Payload))
		if finSeq == s.RcvNxt {
			s.RcvNxt++
			s.PeerFinSeen = true
			c.Output.PushAck(s)
			c.Readiness.Raise(s.ID, readinessIn|readinessHup)
		}
	}

	switch {
	case s.Send.IsFinAckd && s.PeerFinSeen:
		c.enterTimeWait(s, now)
	case s.Send.IsFinAckd:
		_ = s.SetState(stream.StateFinWait2)
	case s.PeerFinSeen:
		_ = s.SetState(stream.StateClosing)
	}
	return nil
}

// handleFinWait2 waits for the peer's FIN, then moves straight to
// TIME_WAIT (our own FIN was already acked to get here).
func (c *Context) handleFinWait2(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) error {
	c.processACK(s, f, opts, now)
	if len(f.Payload) > 0 {
		c.processPayload(s, f)
	}
	if f.TCP.Flags.Has(wire.FlagFIN) {
		finSeq := f.TCP.Seq + uint32(len(f.Payload))
		if finSeq == s.RcvNxt {
			s.RcvNxt++
			s.PeerFinSeen = true
			c.Output.PushAck(s)
			c.Readiness.Raise(s.ID, readinessIn|readinessHup)
			c.enterTimeWait(s, now)
		}
	}
	return nil
}

// handleClosing is the simultaneous-close tail: once our own FIN is acked,
// move to TIME_WAIT (the peer's FIN was already seen to get here).
func (c *Context) handleClosing(s *stream.Stream, f wire.Frame, opts wire.Options, now uint64) error {
	c.processACK(s, f, opts, now)
	if s.Send.IsFinAckd {
		c.enterTimeWait(s, now)
	}
	return nil
}

// handleLastAck waits for the ACK of our FIN (sent after the application
// closed a CLOSE_WAIT stream) and destroys the stream once it arrives.
func (c *Context) handleLastAck(s *stream.Stream, f wire.Frame, now uint64) error {
	if !f.TCP.Flags.Has(wire.FlagACK) {
		return nil
	}
	if f.TCP.Ack != s.Send.FSS+1 {
		return nil
	}
	s.Send.IsFinAckd = true
	if err := s.SetState(stream.StateClosed); err != nil {
		return err
	}
	c.Forget(s)
	if c.Destroy != nil {
		c.Destroy(s)
	}
	return nil
}

// handleTimeWait restarts the 2MSL timer on any in-window segment (the
// acceptability check already ran in handleExisting) and re-acks it, since
// the usual cause is the peer retransmitting a FIN whose ACK was lost.
func (c *Context) handleTimeWait(s *stream.Stream, now uint64) error {
	c.enterTimeWait(s, now)
	c.Output.PushAck(s)
	return nil
}

// enterTimeWait moves s to TIME_WAIT (if not already there) and (re)schedules
// its 2MSL expiry. ExpiryFIFO has no remove-by-value operation, so a touch
// simply pushes a fresh entry; check-timewait's consumer re-validates the
// recorded deadline against the stream's current one and ignores any stale
// duplicate it pops (lazy deletion, the same trick used for idle touches).
func (c *Context) enterTimeWait(s *stream.Stream, now uint64) {
	if s.State != stream.StateTimeWait {
		if err := s.SetState(stream.StateTimeWait); err != nil {
			return
		}
	}
	deadline := now + c.Params.TimeWaitTicks
	s.Recv.TSTimeWaitExpire = uint32(deadline)
	if c.Params.TimeWaitTicks == 0 {
		c.Forget(s)
		if c.Destroy != nil {
			c.Destroy(s)
		}
		return
	}
	c.TimeWait.Push(s, deadline)
}
