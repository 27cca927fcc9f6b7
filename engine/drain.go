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
	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/stream"
)

// drainUserQueues runs the six cross-thread queue drains of spec §4.9 in
// order, with destroy last so nothing composed or torn down by an earlier
// drain this tick reaches segment composition while half-dead (grounded on
// core.c's ProcessUserQueues: connect, send, ack, close, reset, then its
// close_internal/reset_internal follow-up passes, collapsed here into the
// destroy queue since this engine tears a stream down in one step instead
// of waiting out additional tick cycles for its lists to drain).
func (e *Engine) drainUserQueues(now uint64) {
	e.drainConnect(now)
	e.drainSend()
	e.drainAck()
	e.drainClose(now)
	e.drainReset(now)
	e.runDestroys()
}

// drainConnect inserts freshly active-opened streams (socket.Map.Connect)
// into the flow table and schedules their SYN (spec §4.8 `connect`, mirrors
// core.c's "connect handling": AddtoControlList for every dequeued stream).
func (e *Engine) drainConnect(now uint64) {
	for _, s := range e.Sockets.DrainConnect() {
		e.Flows.Insert(flowtable.Key{
			LocalIP:    s.SAddr,
			RemoteIP:   s.DAddr,
			LocalPort:  s.SPort,
			RemotePort: s.DPort,
		}, s)
		s.OnHashTable = true
		e.Output.PushControl(s)
	}
}

func (e *Engine) drainSend() {
	for _, s := range e.Sockets.DrainSend() {
		if s.IsActive() {
			e.Output.PushSend(s)
		}
	}
}

func (e *Engine) drainAck() {
	for _, s := range e.Sockets.DrainAck() {
		if s.IsActive() {
			e.Output.PushAck(s)
		}
	}
}

// drainClose implements the application-initiated close path (spec §4.8
// `close`), grounded on core.c's close-queue handling: fix the final send
// sequence at whatever has been queued so far, then either let the FIN ride
// out once pending data/ack work finishes, or schedule it immediately.
func (e *Engine) drainClose(now uint64) {
	for _, s := range e.Sockets.DrainClose() {
		if s.RTOWheelSlot >= 0 {
			e.Input.RTO.Cancel(s.RTOWheelSlot, s)
			s.RTOWheelSlot = -1
		}
		s.Send.FSS = s.Send.SndUna + uint32(s.Send.SendBuf.Buffered())

		if s.HaveReset {
			if s.IsActive() {
				s.CloseReason = stream.CloseReasonReset
				e.enqueueDestroy(s)
			}
			continue
		}

		switch s.State {
		case stream.StateEstablished:
			_ = s.SetState(stream.StateFinWait1)
		case stream.StateCloseWait:
			_ = s.SetState(stream.StateLastAck)
		case stream.StateClosed:
			continue
		default:
			// SYN_SENT/SYN_RCVD/already-closing: nothing queued yet to
			// flush first, the control-list compose step below still
			// applies once those reach a close-eligible state.
		}
		if s.IsActive() {
			s.CloseReason = stream.CloseReasonActive
			e.Output.PushControl(s)
		}
	}
}

// drainReset implements abort()'s RST path (spec §4.8 `abort`), grounded on
// core.c's reset-queue handling: every still-active stream is marked reset,
// moved to CLOSED and pushed onto the control list. composeControl defers
// the RST while the stream is still on the send or ack list, then sends it,
// and the stream is destroyed once the RST is out. Queued data is not
// flushed first: writeDataList drops a CLOSED stream from the send list
// without sending it.
func (e *Engine) drainReset(now uint64) {
	for _, s := range e.Sockets.DrainReset() {
		if !s.IsActive() {
			continue
		}
		s.HaveReset = true
		s.CloseReason = stream.CloseReasonReset
		e.Output.PushControl(s)
		_ = s.SetState(stream.StateClosed)
	}
}
