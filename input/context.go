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

// Package input implements the engine's RX phase (spec §4.1 "Input path",
// §4.2 "ProcessACK"): frame validation, flow lookup/creation, the
// per-state dispatch table, and the congestion/RTT bookkeeping that rides
// on an incoming ACK.
package input

import (
	"github.com/cloudwego/tcpcore/cc"
	"github.com/cloudwego/tcpcore/driver"
	"github.com/cloudwego/tcpcore/epollset"
	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/output"
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/timers"
)

// AcceptQueue is the listener-side sink a freshly-established passive-open
// stream is handed to. listener.Listener implements this; input only
// depends on the interface to avoid importing listener (which in turn
// depends on socket).
type AcceptQueue interface {
	// Offer enqueues s, returning false if the backlog is full (the
	// input path then drops the SYN rather than completing the handshake).
	Offer(s *stream.Stream) bool
}

// ListenerLookup resolves a destination (address, port) to the listener
// bound to it, if any.
type ListenerLookup interface {
	Lookup(daddr uint32, dport uint16) (AcceptQueue, bool)
}

// ReadinessSink raises epoll readiness bits for the socket layered over a
// stream. socket.Map implements this; input only needs the one method.
type ReadinessSink interface {
	Raise(streamID uint32, events uint32)
}

// Params are the per-engine tunables the input path needs but doesn't own
// (they come from config.Config).
type Params struct {
	MSS                      uint16
	WScale                   uint8
	RecvBufSize              int
	SendBufSize              int
	RTOMin                   uint32
	InitCwndSegs             uint32
	MaxNRTX                  uint8
	MaxSynRetry              uint8
	WindowProbeIntervalTicks uint32
	TimeWaitTicks            uint64 // 2MSL, spec §4.5; 0 disables TIME_WAIT entirely
	IdleTimeoutTicks         uint64 // 0 disables idle-timeout destruction
	SACKPermit               bool
}

// Context bundles every piece of engine state the input path reads or
// mutates for one NIC attachment. One Context per engine.
type Context struct {
	Flows     *flowtable.Table[*stream.Stream]
	Listeners ListenerLookup
	Readiness ReadinessSink
	Output    *output.Lists
	RTO       *timers.RTOWheel[*stream.Stream]
	TimeWait  *timers.ExpiryFIFO[*stream.Stream]
	Idle      *timers.ExpiryFIFO[*stream.Stream]
	Driver    driver.Driver
	Builder   *output.Builder
	Eps       output.Endpoints
	LocalIP   uint32
	Params    Params

	// NewPolicy and NewRTT build a stream's congestion-control Policy and
	// RTT estimator the first time the input path needs them. Default to
	// cc.Reno / cc.RTTEstimator when nil.
	NewPolicy func(mss uint16) cc.Policy
	NewRTT    func() *cc.RTTEstimator

	// Destroy fully retires a stream: flow-table removal, timer-wheel
	// cancellation, pool return. Owned by the engine, since input has no
	// access to the pools a stream's buffers were allocated from.
	Destroy func(s *stream.Stream)

	// NewStreamID, when set, replaces the Context's own idCounter. The
	// engine sets this to a counter shared with socket.Map's active-open
	// path so a passive-open stream born here never collides with an
	// active-open stream born from a connect() call on the same engine.
	NewStreamID func() uint32

	// NewStream, when set, replaces the bare stream.New call acceptSyn
	// uses to build a passive-open stream. The engine points this at its
	// pool-backed allocator (spec §5 "all per-engine heap allocations are
	// pool-backed"); nil falls back to a plain heap allocation so tests
	// that build a bare Context keep working.
	NewStream func(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) (*stream.Stream, error)

	// InitRecv, when set, replaces Stream.InitRecv's plain heap-allocated
	// RecvVars with a pool-backed one. Same fallback rule as NewStream.
	InitRecv func(s *stream.Stream, irs uint32, bufSize int) error

	// policies/rtts key streams by id since stream.Stream itself stays
	// free of cc-package types (spec DESIGN NOTES: Stream owns its wire
	// state, not its congestion-control strategy object).
	policies map[uint32]cc.Policy
	rtts     map[uint32]*cc.RTTEstimator

	// acceptQueues remembers which listener a SYN_RCVD stream should be
	// handed to once the handshake's final ACK arrives; stream.Stream
	// itself can't hold an AcceptQueue without importing this package.
	acceptQueues map[uint32]AcceptQueue

	idCounter uint32
}

// nextStreamID hands out engine-local stream identifiers. Ids are never
// reused while the engine runs; wraparound at 2^32 streams in one engine's
// lifetime is not a practical concern.
func (c *Context) nextStreamID() uint32 {
	if c.NewStreamID != nil {
		return c.NewStreamID()
	}
	c.idCounter++
	return c.idCounter
}

func (c *Context) newStream(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) (*stream.Stream, error) {
	if c.NewStream != nil {
		return c.NewStream(id, saddr, daddr, sport, dport, iss, bufSize)
	}
	return stream.New(id, saddr, daddr, sport, dport, iss, bufSize), nil
}

func (c *Context) initRecv(s *stream.Stream, irs uint32, bufSize int) error {
	if c.InitRecv != nil {
		return c.InitRecv(s, irs, bufSize)
	}
	s.InitRecv(irs, bufSize)
	return nil
}

func (c *Context) policyFor(s *stream.Stream) cc.Policy {
	if c.policies == nil {
		c.policies = make(map[uint32]cc.Policy)
	}
	p, ok := c.policies[s.ID]
	if !ok {
		if c.NewPolicy != nil {
			p = c.NewPolicy(s.Send.MSS)
		} else {
			p = cc.NewReno(uint32(s.Send.MSS), c.Params.InitCwndSegs)
		}
		c.policies[s.ID] = p
	}
	return p
}

func (c *Context) rttFor(s *stream.Stream) *cc.RTTEstimator {
	if c.rtts == nil {
		c.rtts = make(map[uint32]*cc.RTTEstimator)
	}
	e, ok := c.rtts[s.ID]
	if !ok {
		if c.NewRTT != nil {
			e = c.NewRTT()
		} else {
			e = cc.NewRTTEstimator(c.Params.RTOMin)
		}
		c.rtts[s.ID] = e
	}
	return e
}

// Forget drops the congestion/RTT state kept for a destroyed stream.
func (c *Context) Forget(s *stream.Stream) {
	delete(c.policies, s.ID)
	delete(c.rtts, s.ID)
}

const (
	readinessIn  = uint32(epollset.EPOLLIN)
	readinessOut = uint32(epollset.EPOLLOUT)
	readinessErr = uint32(epollset.EPOLLERR)
	readinessHup = uint32(epollset.EPOLLHUP)
)
