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

// Package stream holds the per-flow TCP state: Stream, its send/receive
// variable blocks, the legal RFC 793 state-transition table, and the queue
// membership bitmask that replaces mtcp's seven separate on_X_list booleans
// (spec §3 "Stream", grounded on tcp_stream.h).
package stream

import "fmt"

// State is a TCP connection state (RFC 793 §3.2, plus the CLOSED sentinel).
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateCloseWait
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateClosing:
		return "CLOSING"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// legalTransitions enumerates the RFC 793 state diagram. A transition not
// listed here is a protocol violation the input path must reject or ignore
// rather than apply (spec §4.1 "per-state dispatch").
var legalTransitions = map[State]map[State]bool{
	StateClosed:       {StateListen: true, StateSynSent: true},
	StateListen:       {StateSynRcvd: true, StateSynSent: true, StateClosed: true},
	StateSynSent:      {StateSynRcvd: true, StateEstablished: true, StateClosed: true},
	StateSynRcvd:      {StateEstablished: true, StateFinWait1: true, StateClosed: true},
	StateEstablished:  {StateFinWait1: true, StateCloseWait: true, StateClosed: true},
	StateFinWait1:     {StateFinWait2: true, StateClosing: true, StateTimeWait: true, StateClosed: true},
	StateFinWait2:     {StateTimeWait: true, StateClosed: true},
	StateClosing:      {StateTimeWait: true, StateClosed: true},
	StateCloseWait:    {StateLastAck: true, StateClosed: true},
	StateLastAck:      {StateClosed: true},
	StateTimeWait:     {StateClosed: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal step
// in the state diagram.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// QueueSlot is a bitmask of which output-path/timer lists a Stream is
// currently linked into. mtcp's tcp_send_vars tracks this as seven separate
// uint8 booleans (on_control_list, on_send_list, on_ack_list, on_sendq,
// on_ackq, on_closeq, on_resetq); a bitmask makes "is this stream linked
// into any list" and "clear every membership on destroy" one-liners instead
// of seven separate checks.
type QueueSlot uint16

const (
	SlotControlList QueueSlot = 1 << iota // per-engine control (SYN/FIN/RST) list
	SlotSendList                          // per-engine data-send list
	SlotAckList                           // per-engine pure-ACK list
	SlotSendQ                             // cross-thread: app -> engine, data queued
	SlotAckQ                              // cross-thread: app -> engine, ack-now requested
	SlotCloseQ                            // cross-thread: app -> engine, close requested
	SlotResetQ                            // cross-thread: app -> engine, abort requested
	SlotRTOList                           // engine-local RTO timing wheel
	SlotTimeWaitList                      // engine-local TIME_WAIT FIFO
)

func (q QueueSlot) Has(slot QueueSlot) bool { return q&slot != 0 }
