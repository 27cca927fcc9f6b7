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
	"time"

	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/stream"
)

// pollSleepMS bounds how long one tick's maybe_sleep blocks waiting for the
// next wakeup signal or RX activity when there is nothing outstanding,
// mirroring mtcp's epoll_wait timeout in its main loop (core.c's
// RunMTCPMainLoop): short enough that RTO/TIME_WAIT/idle deadlines are never
// missed by more than this much.
const pollSleepMS = 10

// Run executes the tick loop until RequestShutdown/ForceShutdown and every
// stream has drained, or ForceShutdown alone if set. The caller is
// responsible for pinning this goroutine to its OS thread first (spec §5:
// "one engine, one pinned OS thread") — Run itself only loops.
func (e *Engine) Run() {
	for {
		if e.forcedExit() {
			return
		}
		if e.shuttingDown() && e.Flows.Count() == 0 {
			return
		}
		e.tick()
	}
}

// tick runs exactly one iteration of spec §4.9's main loop. Step order is
// load-bearing: destroy must finish (inside drainUserQueues) strictly
// before the three write_*_list steps, so a stream torn down this tick
// never reaches segment composition half-dead.
func (e *Engine) tick() {
	now := e.now()

	e.rxBatch(now)
	e.Input.CheckRTO(now)
	e.checkTimeWait(now)
	e.checkIdle(now)
	e.checkWindowProbes(now)
	// flush_epoll: a no-op here. socket.Map.Raise fans a readiness change
	// out to every registered epollset.Set synchronously as the input
	// path observes it (handshake/ack/close paths all call it inline),
	// so there is nothing left to batch up and flush at end of tick.
	e.drainUserQueues(now)

	e.writeControlList(now)
	e.writeAckList(now)
	e.writeDataList(now)

	if err := e.driver.TxFlush(); err != nil {
		e.log.Printf("engine: tx flush: %v", err)
	}

	e.maybeSleep()
}

// now reports the current tick timestamp in milliseconds, the unit every
// RTO/TIME_WAIT/idle field in this package is expressed in.
func (e *Engine) now() uint64 { return uint64(time.Now().UnixMilli()) }

func (e *Engine) rxBatch(now uint64) {
	n, err := e.driver.RxBatch(e.rxBuf)
	if err != nil {
		e.log.Printf("engine: rx batch: %v", err)
		return
	}
	for i := 0; i < n; i++ {
		if err := e.Input.ProcessFrame(e.rxBuf[i], e.ifIndex, now); err != nil {
			e.log.Printf("engine: process frame: %v", err)
		}
	}
}

// checkTimeWait drains expired TIME_WAIT entries, grounded on timer.c's
// RemoveHTEntry-at-2MSL sweep. handleTimeWait re-pushes a fresh deadline
// onto Input.TimeWait every time an in-window segment restarts the 2MSL
// timer, so a popped entry can be stale; the stream's own
// Recv.TSTimeWaitExpire is the live deadline and decides whether this pop
// is the one that actually fires.
func (e *Engine) checkTimeWait(now uint64) {
	for _, s := range e.Input.TimeWait.PopExpired(now) {
		if !s.IsActive() || s.State != stream.StateTimeWait {
			continue
		}
		if uint64(s.Recv.TSTimeWaitExpire) > now {
			continue
		}
		s.CloseReason = stream.CloseReasonTimedOut
		e.Input.Forget(s)
		e.enqueueDestroy(s)
	}
}

// checkIdle drains expired idle-timeout entries (spec §4.9 "check_idle, if
// configured"). Every received frame re-pushes a fresh deadline onto
// Input.Idle (dispatch.go), so the same lazy-revalidation applies: only a
// stream whose LastActiveTick hasn't advanced past this entry's window is
// actually idle.
func (e *Engine) checkIdle(now uint64) {
	if e.Input.Params.IdleTimeoutTicks == 0 {
		return
	}
	for _, s := range e.Input.Idle.PopExpired(now) {
		if !s.IsActive() {
			continue
		}
		if s.LastActiveTick+e.Input.Params.IdleTimeoutTicks > now {
			continue
		}
		s.CloseReason = stream.CloseReasonTimedOut
		e.Input.Forget(s)
		e.enqueueDestroy(s)
	}
}

// checkWindowProbes implements the persist timer (tcp_timer.c's
// AddtoRTOList-adjacent zero-window handling in the original: a stream
// whose peer last advertised a zero window gets a periodic probe so it
// learns when the peer's receive buffer reopens, since a pure ACK carrying
// only a window update would otherwise never be sent without one). This
// engine has no dedicated persist-timer wheel; it scans the whole flow
// table (Flows.Range) every tick rather than adding a second timer
// structure for a probe that only fires while a window stays shut. IsWack reuses write_ack_list's existing "one-shot ACK at
// SndNxt-1" path (txpath.go), which is exactly the classic window-probe
// wire format.
func (e *Engine) checkWindowProbes(now uint64) {
	interval := uint64(e.Input.Params.WindowProbeIntervalTicks)
	if interval == 0 {
		return
	}
	e.Flows.Range(func(_ flowtable.Key, s *stream.Stream) {
		if !s.IsActive() || s.Send == nil || s.Send.PeerWnd != 0 {
			return
		}
		if len(s.Send.SendBuf.Unsent()) == 0 {
			return
		}
		if uint64(s.Send.TSLastAckSent)+interval > now {
			return
		}
		s.Send.IsWack = true
		e.Output.PushAck(s)
	})
}

// maybeSleep blocks until the next wakeup signal (a user-queue push, or
// RequestShutdown/ForceShutdown) or pollSleepMS elapses, whichever first,
// so a tick with nothing outstanding doesn't spin (spec §4.9
// "maybe_sleep").
func (e *Engine) maybeSleep() {
	if e.forcedExit() {
		return
	}
	if e.Output.ControlLen() > 0 || e.Output.AckLen() > 0 || e.Output.SendLen() > 0 {
		return
	}
	if err := e.Wakeup.Sleep(pollSleepMS); err != nil {
		e.log.Printf("engine: sleep: %v", err)
	}
}
