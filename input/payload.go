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

// processPayload folds a segment's payload into the receive ring, updates
// the contiguous-run watermark and SACK table, and wakes up a blocked
// reader (spec §4.1's payload-handling sub-step of the ESTABLISHED/
// FIN_WAIT/CLOSING edges).
func (c *Context) processPayload(s *stream.Stream, f wire.Frame) {
	if len(f.Payload) == 0 {
		return
	}
	n, err := s.Recv.RecvBuf.Put(f.Payload, f.TCP.Seq)
	if err != nil || n == 0 {
		if !f.TCP.Flags.Has(wire.FlagRST) {
			c.Output.PushAck(s) // out-of-window/ring-full: ack current state, don't accept
		}
		return
	}

	s.RcvNxt = s.Recv.RecvBuf.HeadSeq() + s.Recv.RecvBuf.MergedLen()
	if s.SACKPermit {
		s.Recv.Sack.Update(s.Recv.RecvBuf.SACKBlocks())
	}

	s.Send.AckCnt++
	c.Output.PushAck(s)
	c.Readiness.Raise(s.ID, readinessIn)
}
