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

import "fmt"

// CloseReason records why a Stream left ESTABLISHED, surfaced to the socket
// layer's error taxonomy (spec §7).
type CloseReason uint8

const (
	CloseReasonNone CloseReason = iota
	CloseReasonPassive
	CloseReasonActive
	CloseReasonReset
	CloseReasonConnFail   // SYN retry ceiling exhausted (spec §7 CONN_FAIL)
	CloseReasonConnLost   // established RTX ceiling exhausted (spec §7 CONN_LOST)
	CloseReasonTimedOut   // 2MSL/idle timer expiry (spec §7 TIMED_OUT)
	CloseReasonNoMem      // pool/arena exhaustion, no free stream slot (spec §7 NO_MEM)
	CloseReasonNotAccepted // accept queue full or no listener bound (spec §7 NOT_ACCEPTED)
)

// Stream is one TCP connection's complete state: the 4-tuple, current
// state, sequence variables and the send/recv blocks. It carries no
// pointers back to any engine-global structure — everything it needs to be
// moved between the flow table, timer wheels and output lists is captured
// here or in the QueueSlot bitmask.
type Stream struct {
	ID uint32

	SAddr, DAddr uint32
	SPort, DPort uint16
	PeerMAC      [6]byte

	State        State
	CloseReason  CloseReason
	OnHashTable  bool
	HTIdx        int
	IsBoundAddr  bool

	SawTimestamp bool
	SACKPermit   bool
	HaveReset    bool
	ReadClosed   bool // socket shut down with SHUT_RD
	WriteClosed  bool // socket shut down with SHUT_WR
	PeerFinSeen  bool // peer's FIN has been received (simultaneous-close tracking)

	SndNxt uint32
	RcvNxt uint32

	Recv *RecvVars
	Send *SendVars

	LastActiveTick uint64 // last tick an ACK was sent or a timestamp updated, for idle-timeout
	RTOWheelSlot   int    // -1 when not currently in the RTO wheel
}

// New allocates a Stream in StateClosed with the given 4-tuple and a fresh
// Send block; Recv stays nil until InitRecv. The caller drives it through
// SYN/SYN-ACK handling to advance past CLOSED.
func New(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) *Stream {
	return &Stream{
		ID:           id,
		SAddr:        saddr,
		DAddr:        daddr,
		SPort:        sport,
		DPort:        dport,
		State:        StateClosed,
		RTOWheelSlot: -1,
		Send:         NewSendVars(uint32(iss), bufSize),
	}
}

// SetState moves the stream to `to`, returning an error if the transition
// isn't legal per RFC 793. Illegal transitions are a caller bug (the input
// path's per-state dispatch table should never attempt one); this exists so
// that bug fails loudly instead of corrupting stream state silently.
func (s *Stream) SetState(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("stream %d: illegal transition %s -> %s", s.ID, s.State, to)
	}
	s.State = to
	return nil
}

// InitRecv lazily attaches the receive-side block once the peer's ISN
// (irs) is known, i.e. once the SYN or SYN-ACK has been processed.
func (s *Stream) InitRecv(irs uint32, bufSize int) {
	s.Recv = NewRecvVars(irs, bufSize)
	s.RcvNxt = irs + 1
}

// IsActive reports whether the stream still occupies flow-table/timer
// resources (anything other than CLOSED).
func (s *Stream) IsActive() bool { return s.State != StateClosed }
