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

// enqueueDestroy is input.Context.Destroy: it only marks s for teardown.
// The actual teardown (flow-table removal, timer cancellation, pool
// return) happens in runDestroys, strictly before this tick's
// write_control_list/write_ack_list/write_data_list steps (spec §4.9),
// so a stream torn down mid-tick from any of the input path's call sites
// (RST, passive/active close, RTO ceiling) is handled uniformly instead
// of each call site needing to know about pools and output lists itself.
func (e *Engine) enqueueDestroy(s *stream.Stream) {
	e.destroyQ = append(e.destroyQ, s)
}

// runDestroys drains the destroy queue built up over this tick's input
// processing and drain_user_queues steps, fully retiring each stream
// before segment composition runs.
func (e *Engine) runDestroys() {
	if len(e.destroyQ) == 0 {
		return
	}
	for _, s := range e.destroyQ {
		e.destroyOne(s)
	}
	e.destroyQ = e.destroyQ[:0]
}

func (e *Engine) destroyOne(s *stream.Stream) {
	if s.OnHashTable {
		e.Flows.Remove(flowtable.Key{
			LocalIP:    s.SAddr,
			RemoteIP:   s.DAddr,
			LocalPort:  s.SPort,
			RemotePort: s.DPort,
		})
		s.OnHashTable = false
	}
	if s.RTOWheelSlot >= 0 {
		e.Input.RTO.Cancel(s.RTOWheelSlot, s)
		s.RTOWheelSlot = -1
	}
	e.Input.Forget(s)
	e.Output.Discard(s)
	e.Sockets.DetachStream(s)

	s.State = stream.StateClosed
	if s.Send != nil {
		e.sendPool.Put(s.Send)
		s.Send = nil
	}
	if s.Recv != nil {
		e.recvPool.Put(s.Recv)
		s.Recv = nil
	}
	e.streamPool.Put(s)
}
