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

import "github.com/cloudwego/tcpcore/stream"

// maxBackoff caps the exponential RTO backoff shift (mtcp's TCP_MAX_BACKOFF).
const maxBackoff = 7

// CheckRTO drains every stream whose retransmission timer fired this tick
// (spec §4.9 "check_rto", grounded on timer.c's HandleRTO) and either
// backs off and re-queues it for retransmission or destroys it once the
// retry ceiling is exceeded.
func (c *Context) CheckRTO(now uint64) {
	for _, s := range c.RTO.Tick() {
		s.RTOWheelSlot = -1
		c.handleRTO(s, now)
	}
}

func (c *Context) handleRTO(s *stream.Stream, now uint64) {
	if !s.IsActive() {
		return
	}

	if s.Send.NRTX < c.Params.MaxNRTX {
		s.Send.NRTX++
	} else {
		s.CloseReason = stream.CloseReasonConnLost
		c.Forget(s)
		if c.Destroy != nil {
			c.Destroy(s)
		}
		return
	}

	if s.State >= stream.StateEstablished {
		rtt := c.rttFor(s)
		backoff := uint32(s.Send.NRTX)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		rto := ((rtt.SRTT >> 3) + rtt.RTTVar) << backoff
		if rto > 0 {
			s.Send.RTO = rto
		}
	} else if s.State >= stream.StateSynSent && s.Send.NRTX < maxBackoff {
		s.Send.RTO <<= 1
	}

	policy := c.policyFor(s)
	policy.OnRTOExpire()
	s.Send.Cwnd, s.Send.Ssthresh = policy.Cwnd(), policy.Ssthresh()

	if s.State == stream.StateSynSent && uint32(s.Send.NRTX) > uint32(c.Params.MaxSynRetry) {
		s.CloseReason = stream.CloseReasonConnFail
		c.Forget(s)
		if c.Destroy != nil {
			c.Destroy(s)
		}
		return
	}

	s.SndNxt = s.Send.SndUna
	switch s.State {
	case stream.StateEstablished, stream.StateCloseWait:
		c.Output.PushSend(s)
	case stream.StateSynSent, stream.StateSynRcvd, stream.StateFinWait1, stream.StateClosing, stream.StateLastAck:
		c.Output.PushControl(s)
	}

	rto := s.Send.RTO
	if rto == 0 {
		rto = c.Params.RTOMin
	}
	s.Send.TSRto = uint32(now) + rto
	s.RTOWheelSlot = c.RTO.Schedule(s, int(rto))
}
