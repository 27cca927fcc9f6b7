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
	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/output"
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/wire"
)

// ProcessFrame is the engine's one entry point into the input path (spec
// §4.1): validate, find or create the owning stream, then dispatch by
// state. raw is one Ethernet frame as handed back by driver.Driver.RxBatch;
// now is the engine's current tick.
func (c *Context) ProcessFrame(raw []byte, ifIndex int, now uint64) error {
	f, err := wire.ParseFrame(raw, ifIndex)
	if err != nil {
		return err
	}
	tcpEnd := wire.EthHeaderLen + int(f.IP.TotalLen)
	if !wire.VerifyTCPChecksum(f.IP.Src, f.IP.Dst, raw[wire.EthHeaderLen+wire.IPv4HeaderLen:tcpEnd]) {
		return nil
	}

	key := flowtable.Key{
		LocalIP:    f.IP.Dst,
		RemoteIP:   f.IP.Src,
		LocalPort:  f.TCP.DstPort,
		RemotePort: f.TCP.SrcPort,
	}

	s, ok := c.Flows.Lookup(key)
	if !ok {
		return c.handleMiss(f, key, now)
	}
	return c.handleExisting(s, f, now)
}

// handleMiss implements spec §4.1's "no matching flow" branch: accept a new
// passive-open connection if a listener owns the destination, otherwise
// answer with a standalone RST exactly as RFC 793 §3.4 prescribes.
func (c *Context) handleMiss(f wire.Frame, key flowtable.Key, now uint64) error {
	if f.TCP.Flags.Has(wire.FlagSYN) && !f.TCP.Flags.Has(wire.FlagACK) {
		if lq, ok := c.Listeners.Lookup(f.IP.Dst, f.TCP.DstPort); ok {
			return c.acceptSyn(lq, f, key, now)
		}
	}
	if f.TCP.Flags.Has(wire.FlagRST) {
		return nil
	}
	if f.TCP.Flags.Has(wire.FlagACK) {
		return c.sendRSTForAck(f)
	}
	seglen := uint32(len(f.Payload))
	if f.TCP.Flags.Has(wire.FlagSYN) {
		seglen++
	}
	if f.TCP.Flags.Has(wire.FlagFIN) {
		seglen++
	}
	return c.sendRSTACK(f, f.TCP.Seq+seglen)
}

// acceptSyn builds a new SYN_RCVD stream for a passive-open connection and
// schedules its SYN/ACK reply. The stream only joins lq's accept queue once
// the handshake's final ACK arrives (handleSynRcvd).
func (c *Context) acceptSyn(lq AcceptQueue, f wire.Frame, key flowtable.Key, now uint64) error {
	opts := wire.ParseOptions(f.Options)

	id := c.nextStreamID()
	iss := initialSeq(now, id)
	s, err := c.newStream(id, f.IP.Dst, f.IP.Src, f.TCP.DstPort, f.TCP.SrcPort, int(iss), c.Params.SendBufSize)
	if err != nil {
		return nil // pool exhausted: drop the SYN, peer retries or times out
	}
	copy(s.PeerMAC[:], f.Eth.Src[:])
	if err := c.initRecv(s, f.TCP.Seq, c.Params.RecvBufSize); err != nil {
		return nil // recv-vars pool exhausted: drop, same as above
	}

	s.Send.MSS = c.Params.MSS
	s.Send.WScaleMine = c.Params.WScale
	s.Send.MaxNRTX = c.Params.MaxNRTX
	applyPeerOptions(s, opts, now, c.Params.SACKPermit)

	s.Recv.RcvWnd = uint32(c.Params.RecvBufSize)
	s.Send.PeerWnd = uint32(f.TCP.Window) // unscaled: window scaling only applies once ESTABLISHED

	// A freshly-spawned connection stream passes through LISTEN notionally
	// on its way to SYN_RCVD; the listening socket itself (not this Stream)
	// is what actually sat in LISTEN before this SYN arrived.
	if err := s.SetState(stream.StateListen); err != nil {
		return err
	}
	if err := s.SetState(stream.StateSynRcvd); err != nil {
		return err
	}
	c.Flows.Insert(key, s)
	s.OnHashTable = true

	if c.acceptQueues == nil {
		c.acceptQueues = make(map[uint32]AcceptQueue)
	}
	c.acceptQueues[s.ID] = lq

	c.Output.PushControl(s)
	return nil
}

// handleExisting runs steps 4-7 of spec §4.1 for a frame belonging to an
// already-tracked stream.
func (c *Context) handleExisting(s *stream.Stream, f wire.Frame, now uint64) error {
	opts := wire.ParseOptions(f.Options)

	if s.State > stream.StateSynRcvd {
		seglen := uint32(len(f.Payload))
		if f.TCP.Flags.Has(wire.FlagSYN) {
			seglen++
		}
		if f.TCP.Flags.Has(wire.FlagFIN) {
			seglen++
		}
		if !segmentAcceptable(s.RcvNxt, s.Recv.RcvWnd, f.TCP.Seq, seglen) {
			if !f.TCP.Flags.Has(wire.FlagRST) {
				c.Output.PushAck(s)
			}
			return nil
		}
		if s.SawTimestamp && opts.HasTimestamp && seqLT(opts.TSVal, s.Recv.TSRecent) {
			c.Output.PushAck(s) // PAWS: stale timestamp, drop but ack
			return nil
		}
		if opts.HasTimestamp && seqGEQ(opts.TSVal, s.Recv.TSRecent) {
			s.Recv.TSRecent = opts.TSVal
			s.Recv.TSLastTSUpd = uint32(now)
		}
	}

	if f.TCP.Flags.Has(wire.FlagRST) && s.State > stream.StateSynSent {
		return c.handleRST(s)
	}

	s.LastActiveTick = now
	if c.Params.IdleTimeoutTicks > 0 {
		c.Idle.Push(s, now+c.Params.IdleTimeoutTicks)
	}

	switch s.State {
	case stream.StateSynSent:
		return c.handleSynSent(s, f, opts, now)
	case stream.StateSynRcvd:
		return c.handleSynRcvd(s, f, now)
	case stream.StateEstablished:
		return c.handleEstablished(s, f, opts, now)
	case stream.StateFinWait1:
		return c.handleFinWait1(s, f, opts, now)
	case stream.StateFinWait2:
		return c.handleFinWait2(s, f, opts, now)
	case stream.StateClosing:
		return c.handleClosing(s, f, opts, now)
	case stream.StateCloseWait:
		if f.TCP.Flags.Has(wire.FlagACK) {
			c.processACK(s, f, opts, now)
		}
		return nil
	case stream.StateLastAck:
		return c.handleLastAck(s, f, now)
	case stream.StateTimeWait:
		return c.handleTimeWait(s, now)
	}
	return nil
}

// handleRST implements spec §4.1's reset handling: a reset in a
// data-transfer state surfaces as a connection error to the application
// before the stream is torn down; a reset anywhere else (still mid
// handshake, already half-closed in a way that has nothing left to lose)
// tears it down immediately.
func (c *Context) handleRST(s *stream.Stream) error {
	switch s.State {
	case stream.StateEstablished, stream.StateFinWait1, stream.StateFinWait2, stream.StateCloseWait:
		s.HaveReset = true
		s.CloseReason = stream.CloseReasonReset
		c.Readiness.Raise(s.ID, readinessErr|readinessHup)
	}
	c.Forget(s)
	if c.Destroy != nil {
		c.Destroy(s)
	}
	return nil
}

// sendRSTForAck answers an ACK-bearing segment with no matching flow:
// RST with SEQ = the peer's ACK field (RFC 793 §3.4 case 1).
func (c *Context) sendRSTForAck(f wire.Frame) error {
	return c.emitStandalone(f, output.Segment{Seq: f.TCP.Ack, Flags: wire.FlagRST})
}

// sendRSTACK answers a non-ACK-bearing segment with no matching flow:
// RST|ACK with ACK = seq + segment length (RFC 793 §3.4 case 2).
func (c *Context) sendRSTACK(f wire.Frame, ack uint32) error {
	return c.emitStandalone(f, output.Segment{Ack: ack, Flags: wire.FlagRST | wire.FlagACK})
}

// emitStandalone fills in the 4-tuple/link-layer fields a reply with no
// owning stream still needs, and writes it straight to the driver — there
// is no stream to hang this frame off one of the per-engine output lists.
func (c *Context) emitStandalone(f wire.Frame, seg output.Segment) error {
	seg.Eps = output.Endpoints{SrcMAC: c.Eps.SrcMAC, DstMAC: f.Eth.Src}
	seg.SrcIP, seg.DstIP = f.IP.Dst, f.IP.Src
	seg.SrcPort, seg.DstPort = f.TCP.DstPort, f.TCP.SrcPort
	seg.Window = 0

	n := c.Builder.Len(seg)
	buf, err := c.Driver.GetWptr(n)
	if err != nil {
		return nil // backpressure: a dropped standalone control frame is not a protocol error
	}
	c.Builder.Build(buf, seg)
	return nil
}

// initialSeq picks an initial sequence number. Real deployments want an
// unguessable, monotonically-advancing ISN (RFC 6528); this combines the
// engine tick with the stream counter the same loose way mtcp's
// GenerateTCPTimestamp-derived ISN does, without claiming cryptographic
// properties it doesn't have.
func initialSeq(now uint64, counter uint32) uint32 {
	return uint32(now)*64 + counter*0x9E3779B1
}
