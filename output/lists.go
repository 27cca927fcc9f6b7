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

// Package output implements the engine's TX phase (spec §4.3): the
// control/ack/send per-NIC lists, the segment builder, and the driver
// handoff.
package output

import "github.com/cloudwego/tcpcore/stream"

// Lists holds the three per-NIC TAILQ-equivalents. Membership in each is
// tracked on the stream itself via its QueueSlot bitmask (stream.Stream.
// Send.Queues) so a stream is never pushed onto the same list twice; these
// slices are the FIFO order, the bitmask is the "is it already here" check.
type Lists struct {
	control []*stream.Stream
	ack     []*stream.Stream
	send    []*stream.Stream
}

func pushUnique(list []*stream.Stream, s *stream.Stream, slot stream.QueueSlot) []*stream.Stream {
	if s.Send.Queues.Has(slot) {
		return list
	}
	s.Send.Queues |= slot
	return append(list, s)
}

// PushControl enqueues s for a control-class frame (SYN/SYN-ACK/FIN/RST/
// window probe) if it isn't already queued.
func (l *Lists) PushControl(s *stream.Stream) { l.control = pushUnique(l.control, s, stream.SlotControlList) }

// PushAck enqueues s so a pending data ACK gets aggregated into the next
// frame sent for it.
func (l *Lists) PushAck(s *stream.Stream) { l.ack = pushUnique(l.ack, s, stream.SlotAckList) }

// PushSend enqueues s to emit buffered data.
func (l *Lists) PushSend(s *stream.Stream) { l.send = pushUnique(l.send, s, stream.SlotSendList) }

// drain removes up to max entries from the front of list, clearing their
// membership bit, and returns them plus the remainder.
func drain(list []*stream.Stream, slot stream.QueueSlot, max int) ([]*stream.Stream, []*stream.Stream) {
	if max <= 0 || max > len(list) {
		max = len(list)
	}
	taken := list[:max]
	for _, s := range taken {
		s.Send.Queues &^= slot
	}
	rest := append([]*stream.Stream(nil), list[max:]...)
	return taken, rest
}

// DrainControl removes up to max streams from the control list in FIFO
// order for the caller to build control segments for.
func (l *Lists) DrainControl(max int) []*stream.Stream {
	var taken []*stream.Stream
	taken, l.control = drain(l.control, stream.SlotControlList, max)
	return taken
}

// DrainAck removes up to max streams from the ack list.
func (l *Lists) DrainAck(max int) []*stream.Stream {
	var taken []*stream.Stream
	taken, l.ack = drain(l.ack, stream.SlotAckList, max)
	return taken
}

// DrainSend removes up to max streams from the send list.
func (l *Lists) DrainSend(max int) []*stream.Stream {
	var taken []*stream.Stream
	taken, l.send = drain(l.send, stream.SlotSendList, max)
	return taken
}

// Requeue puts a stream back at the tail of the send list, used when no TX
// descriptor was available this tick (spec §4.3 "the stream stays on the
// list for the next tick").
func (l *Lists) Requeue(s *stream.Stream) { l.PushSend(s) }

func (l *Lists) ControlLen() int { return len(l.control) }
func (l *Lists) AckLen() int     { return len(l.ack) }
func (l *Lists) SendLen() int    { return len(l.send) }

func discard(list []*stream.Stream, s *stream.Stream, slot stream.QueueSlot) []*stream.Stream {
	if !s.Send.Queues.Has(slot) {
		return list
	}
	s.Send.Queues &^= slot
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Discard drops s from every list it's currently queued on, without
// emitting anything for it. Used by the engine's destroy step so a stream
// torn down mid-tick never reaches segment composition (spec §4.9:
// destroy drains last among drain_user_queues, strictly before the
// write_control_list/write_ack_list/write_data_list steps).
func (l *Lists) Discard(s *stream.Stream) {
	l.control = discard(l.control, s, stream.SlotControlList)
	l.ack = discard(l.ack, s, stream.SlotAckList)
	l.send = discard(l.send, s, stream.SlotSendList)
}
