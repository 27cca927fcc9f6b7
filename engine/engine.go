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

// Package engine implements the per-core tick loop (spec §4.9, §5): one
// Engine owns exactly one NIC attachment, one flow table, one socket map
// and one set of object pools. There is no package-level state equivalent
// to mtcp's g_mtcp[core] array; a Stack holds one Engine value per core and
// nothing else reaches into an Engine's internals directly.
package engine

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/tcpcore/addrpool"
	"github.com/cloudwego/tcpcore/cc"
	"github.com/cloudwego/tcpcore/config"
	"github.com/cloudwego/tcpcore/driver"
	"github.com/cloudwego/tcpcore/epollset"
	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/input"
	"github.com/cloudwego/tcpcore/listener"
	"github.com/cloudwego/tcpcore/output"
	"github.com/cloudwego/tcpcore/pool"
	"github.com/cloudwego/tcpcore/ringbuf"
	"github.com/cloudwego/tcpcore/socket"
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/timers"
	"github.com/cloudwego/tcpcore/wire"
)

// Logger is the injectable diagnostic sink every engine accepts at
// construction (SPEC_FULL.md §1 "Logging"); nothing in this package
// hardcodes os.Stdout.
type Logger interface {
	Printf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) { log.Printf(format, args...) }

// flowBins is the default flow-table bucket count, equal to mtcp's
// NUM_BINS (131072); whoever builds an Engine can override it per core via
// Options.FlowBins.
const flowBins = 131072

// rtoSlots sizes the RTO wheel at one slot per millisecond tick, about 65 s
// in all. RTOWheel.Schedule clamps a longer delay to the wheel's last slot,
// so a stream scheduled at the worst-case backoff still lands inside the
// wheel.
const rtoSlots = 1 << 16

// Options configures one Engine's NIC attachment and identity; Config
// carries the cross-core tunables, Options the per-core specifics a Stack
// assigns when it builds N engines.
type Options struct {
	Config *config.Config

	Driver  driver.Driver
	IfIndex int
	LocalIP uint32
	SrcMAC  wire.MAC

	// RSS, when set, filters addrpool.Build so only (ip, port) pairs that
	// hash to this engine's core under the NIC's RSS key are handed out
	// by Connect (spec §4.7). nil keeps every address in range.
	RSS addrpool.RSSFilter

	// FlowBins overrides the flow-table bucket count; 0 uses the package
	// default.
	FlowBins int

	Logger Logger
}

// Engine is one core's complete TCP processing state.
type Engine struct {
	cfg     *config.Config
	driver  driver.Driver
	ifIndex int
	log     Logger

	Flows     *flowtable.Table[*stream.Stream]
	Listeners *listener.Table
	Addr      *addrpool.Pool
	Sockets   *socket.Map
	Input     *input.Context
	Output    *output.Lists
	Builder   *output.Builder
	Pacer     output.Pacer
	Wakeup    *epollset.Wakeup

	streamPool *pool.Pool[stream.Stream]
	sendPool   *pool.Pool[stream.SendVars]
	recvPool   *pool.Pool[stream.RecvVars]

	idMu      sync.Mutex
	idCounter uint32

	// destroyQ is only ever appended to and drained from the engine's own
	// tick goroutine (input.Context.Destroy, socket queue draining and
	// runDestroys all run there), so it needs no lock.
	destroyQ []*stream.Stream

	// shutdown is set by RequestShutdown/ForceShutdown; Run checks it once
	// per tick (spec §5 "SIGINT -> per-engine interrupt flag").
	shutdown  int32
	forceExit int32

	rxBuf [][]byte
}

// New builds an Engine ready to Run. The driver must already be attached
// to its NIC (Capability queried, rings set up); New only wires the
// protocol-side state around it.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = stdLogger{}
	}

	cap := cfg.PoolCapacityPerCore()
	streamPool, err := pool.New[stream.Stream](cap)
	if err != nil {
		return nil, err
	}
	sendPool, err := pool.New[stream.SendVars](cap)
	if err != nil {
		return nil, err
	}
	recvPool, err := pool.New[stream.RecvVars](cap)
	if err != nil {
		return nil, err
	}

	numBins := opts.FlowBins
	if numBins <= 0 {
		numBins = flowBins
	}

	wakeup, err := epollset.NewWakeup()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		driver:     opts.Driver,
		ifIndex:    opts.IfIndex,
		log:        logger,
		Flows:      flowtable.New[*stream.Stream](numBins),
		Listeners:  listener.NewTable(),
		Addr:       addrpool.Build(opts.LocalIP, cfg.NumAddr, 1024, 65535, opts.RSS),
		Output:     &output.Lists{},
		Builder:    &output.Builder{SkipChecksum: opts.Driver.Capability()&driver.TXTCPIPChecksum != 0},
		Pacer:      output.NoopPacer{},
		Wakeup:     wakeup,
		streamPool: streamPool,
		sendPool:   sendPool,
		recvPool:   recvPool,
		rxBuf:      make([][]byte, 64),
	}

	e.Sockets = socket.New()
	e.Sockets.Listeners = e.Listeners
	e.Sockets.Addr = e.Addr
	e.Sockets.LocalIP = opts.LocalIP
	e.Sockets.MSS = cfg.MSS
	e.Sockets.WScale = cfg.WScale
	e.Sockets.SendBuf = cfg.SendBufSize
	e.Sockets.RecvBuf = cfg.RecvBufSize
	e.Sockets.MaxNRTX = cfg.MaxNRTX
	e.Sockets.NewStreamID = e.nextStreamID
	e.Sockets.NewStream = e.newPooledStream
	e.Sockets.Wake = e.wake

	e.Input = &input.Context{
		Flows:     e.Flows,
		Listeners: e.Listeners,
		Readiness: e.Sockets,
		Output:    e.Output,
		RTO:       timers.NewRTOWheel[*stream.Stream](rtoSlots),
		TimeWait:  &timers.ExpiryFIFO[*stream.Stream]{},
		Idle:      &timers.ExpiryFIFO[*stream.Stream]{},
		Driver:    opts.Driver,
		Builder:   e.Builder,
		Eps:       output.Endpoints{SrcMAC: opts.SrcMAC},
		LocalIP:   opts.LocalIP,
		Params: input.Params{
			MSS:                      cfg.MSS,
			WScale:                   cfg.WScale,
			RecvBufSize:              cfg.RecvBufSize,
			SendBufSize:              cfg.SendBufSize,
			RTOMin:                   cfg.RTOMinTicks(),
			InitCwndSegs:             cfg.InitCwndSegs,
			MaxNRTX:                  cfg.MaxNRTX,
			MaxSynRetry:              cfg.MaxSynRetry,
			WindowProbeIntervalTicks: cfg.WindowProbeIntervalTicks(),
			TimeWaitTicks:            cfg.TimeWaitTicks(),
			IdleTimeoutTicks:         cfg.IdleTimeoutTicks(),
			SACKPermit:               cfg.SACKPermit,
		},
		NewPolicy:   func(mss uint16) cc.Policy { return cc.NewReno(uint32(mss), cfg.InitCwndSegs) },
		NewRTT:      func() *cc.RTTEstimator { return cc.NewRTTEstimator(cfg.RTOMinTicks()) },
		Destroy:     e.enqueueDestroy,
		NewStreamID: e.nextStreamID,
		NewStream:   e.newPooledStream,
		InitRecv:    e.initPooledRecv,
	}

	return e, nil
}

func (e *Engine) nextStreamID() uint32 {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	e.idCounter++
	return e.idCounter
}

func (e *Engine) wake() {
	if err := e.Wakeup.Signal(); err != nil {
		e.log.Printf("engine: wakeup signal: %v", err)
	}
}

// newPooledStream carves a Stream and its SendVars out of the per-engine
// pools instead of the heap (spec §5 "all per-engine heap allocations are
// pool-backed"), reproducing stream.New's/stream.NewSendVars's exact field
// population since Pool[T].Get returns a zeroed value, not a constructed
// one.
func (e *Engine) newPooledStream(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) (*stream.Stream, error) {
	sv, err := e.sendPool.Get()
	if err != nil {
		return nil, err
	}
	s, err := e.streamPool.Get()
	if err != nil {
		e.sendPool.Put(sv)
		return nil, err
	}

	*sv = stream.SendVars{
		ISS:     uint32(iss),
		SndUna:  uint32(iss),
		SendBuf: ringbuf.NewSendRing(bufSize, uint32(iss)),
	}
	*s = stream.Stream{
		ID:           id,
		SAddr:        saddr,
		DAddr:        daddr,
		SPort:        sport,
		DPort:        dport,
		State:        stream.StateClosed,
		RTOWheelSlot: -1,
		Send:         sv,
	}
	return s, nil
}

// initPooledRecv attaches a pool-backed RecvVars, mirroring Stream.InitRecv.
func (e *Engine) initPooledRecv(s *stream.Stream, irs uint32, bufSize int) error {
	rv, err := e.recvPool.Get()
	if err != nil {
		return err
	}
	*rv = stream.RecvVars{
		IRS:     irs,
		RecvBuf: ringbuf.NewRecvRing(bufSize, irs+1),
	}
	s.Recv = rv
	s.RcvNxt = irs + 1
	return nil
}

// RequestShutdown sets the graceful-exit flag Run checks once per tick
// (spec §5: first SIGINT). The engine finishes draining its queues and
// exits once every stream has reached CLOSED, or immediately if
// cfg.MultiProcess is set (external supervision owns restart).
func (e *Engine) RequestShutdown() {
	atomic.StoreInt32(&e.shutdown, 1)
	if e.cfg.MultiProcess {
		atomic.StoreInt32(&e.forceExit, 1)
	}
	e.wake()
}

// ForceShutdown sets the immediate-exit flag (spec §5: a second SIGINT
// within 1s of the first). Run returns on its next iteration without
// waiting for streams to drain.
func (e *Engine) ForceShutdown() {
	atomic.StoreInt32(&e.forceExit, 1)
	e.wake()
}

func (e *Engine) shuttingDown() bool { return atomic.LoadInt32(&e.shutdown) != 0 }
func (e *Engine) forcedExit() bool   { return atomic.LoadInt32(&e.forceExit) != 0 }
