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

package socket

import (
	"sync"

	"github.com/cloudwego/tcpcore/addrpool"
	"github.com/cloudwego/tcpcore/epollset"
	"github.com/cloudwego/tcpcore/listener"
	"github.com/cloudwego/tcpcore/pipe"
	"github.com/cloudwego/tcpcore/stream"
)

// Kind tags what kind of object a socket id's entry wraps (spec §3
// "Socket map"'s type tag {UNUSED, STREAM, STREAM_LISTEN, EPOLL, PIPE}).
type Kind uint8

const (
	KindUnused Kind = iota
	KindStream
	KindStreamListen
	KindEpoll
	KindPipe
)

type entry struct {
	kind Kind

	nonblocking bool
	addrBound   bool
	localIP     uint32
	localPort   uint16

	str     *stream.Stream
	listen  *listener.Listener
	epoll   *epollset.Set
	pp      *pipe.Pipe
	pipeEnd int

	// registeredIn is every epoll Set this socket id has been added to via
	// EpollCtl(ADD), so Raise can fan a readiness change out to all of
	// them without the entry itself knowing which epfd(s) it lives in.
	registeredIn []*epollset.Set
}

// Map is one engine's socket descriptor table: a dense array indexed by
// socket id with a free list for reclaimed slots (spec §3 "Free entries
// form a linked free list"), plus the cross-thread producer queues
// (spec §4.9/§5) app-thread calls enqueue work into for the engine to
// drain once per tick.
type Map struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries  []entry
	freeList []int
	byStream map[uint32]int

	Listeners *listener.Table
	Addr      *addrpool.Pool
	LocalIP   uint32
	MSS       uint16
	WScale    uint8
	SendBuf   int
	RecvBuf   int
	MaxNRTX   uint8

	// NewStreamID hands out stream ids shared with the engine's passive-open
	// path (input.Context), so active- and passive-open streams never
	// collide. Supplied by the engine at construction.
	NewStreamID func() uint32

	// NewStream, when set, replaces Connect's bare stream.New call with the
	// engine's pool-backed allocator (spec §5 "all per-engine heap
	// allocations are pool-backed"). nil falls back to a plain heap
	// allocation so a bare Map built in tests keeps working.
	NewStream func(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) (*stream.Stream, error)

	// Wake notifies the engine's sleeping driver/epoll wait that a
	// cross-thread queue just received work (spec §5 "wakeup_flag").
	Wake func()

	connectQ []*stream.Stream
	sendQ    []*stream.Stream
	ackQ     []*stream.Stream
	closeQ   []*stream.Stream
	resetQ   []*stream.Stream
}

// New builds an empty socket map for one engine.
func New() *Map {
	m := &Map{byStream: make(map[uint32]int)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Map) wake() {
	if m.Wake != nil {
		m.Wake()
	}
}

func (m *Map) newStream(id uint32, saddr, daddr uint32, sport, dport uint16, iss, bufSize int) (*stream.Stream, error) {
	if m.NewStream != nil {
		return m.NewStream(id, saddr, daddr, sport, dport, iss, bufSize)
	}
	return stream.New(id, saddr, daddr, sport, dport, iss, bufSize), nil
}

// allocLocked returns a fresh or reclaimed socket id with a zeroed entry.
func (m *Map) allocLocked() int {
	if n := len(m.freeList); n > 0 {
		id := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		m.entries[id] = entry{}
		return id
	}
	m.entries = append(m.entries, entry{})
	return len(m.entries) - 1
}

func (m *Map) get(sockid int) (*entry, *Error) {
	if sockid < 0 || sockid >= len(m.entries) || m.entries[sockid].kind == KindUnused {
		return nil, errOf("", InvalidDescriptor)
	}
	return &m.entries[sockid], nil
}

// Socket allocates a new, typeless STREAM-capable socket id (spec §6
// `socket`). Every descriptor starts this way: bind/listen/connect/pipe/
// epoll_create give it its eventual kind.
func (m *Map) Socket() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocLocked()
	m.entries[id].kind = KindStream
	return id
}

// SetNonblocking implements setsockopt(SO_NONBLOCK) (spec §4.8).
func (m *Map) SetNonblocking(sockid int, nb bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "setsockopt"
		return err
	}
	e.nonblocking = nb
	return nil
}

// Nonblocking reports a socket's current blocking mode.
func (m *Map) Nonblocking(sockid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(sockid)
	if err != nil {
		return false
	}
	return e.nonblocking
}

// Bind reserves (ip, port) for sockid's eventual listen/connect (spec §6
// `bind`).
func (m *Map) Bind(sockid int, ip uint32, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "bind"
		return err
	}
	if e.kind != KindStream || e.str != nil {
		return errOf("bind", InvalidArgument)
	}
	e.addrBound = true
	e.localIP = ip
	e.localPort = port
	return nil
}

// GetSockName returns the socket's local (ip, port) (spec §4.8
// `getsockname`).
func (m *Map) GetSockName(sockid int) (ip uint32, port uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, gerr := m.get(sockid)
	if gerr != nil {
		gerr.Op = "getsockname"
		return 0, 0, gerr
	}
	if e.str != nil {
		return e.str.SAddr, e.str.SPort, nil
	}
	return e.localIP, e.localPort, nil
}

// GetPeerName returns the socket's remote (ip, port), failing with
// NOT_CONNECTED if no stream is attached (spec §4.8 `getpeername`).
func (m *Map) GetPeerName(sockid int) (ip uint32, port uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, gerr := m.get(sockid)
	if gerr != nil {
		gerr.Op = "getpeername"
		return 0, 0, gerr
	}
	if e.str == nil {
		return 0, 0, errOf("getpeername", NotConnected)
	}
	return e.str.DAddr, e.str.DPort, nil
}

// Raise implements input.ReadinessSink: the input path calls this whenever
// a stream's readiness changes. It fans the event out to every epoll set
// this stream's socket is registered in and wakes any thread blocked in a
// condvar wait tied to this socket (connect/read/write/accept).
func (m *Map) Raise(streamID uint32, events uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sockid, ok := m.byStream[streamID]
	if ok {
		e := &m.entries[sockid]
		for _, set := range e.registeredIn {
			set.Raise(sockid, events)
		}
	}
	m.cond.Broadcast()
}

// AttachStream links a stream the engine just finished constructing (either
// side of a handshake) to its owning socket id, completing the
// Connect/Accept half of the call. Called from the engine thread only.
func (m *Map) AttachStream(sockid int, s *stream.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sockid].str = s
	m.byStream[s.ID] = sockid
	m.cond.Broadcast()
}

// DetachStream is called by the engine's destroy step once a stream is
// fully torn down, freeing the socket id for reuse once the application
// has also closed it (idempotent: a socket the app already Close()d has
// already had its kind cleared, this just drops the reverse index).
func (m *Map) DetachStream(s *stream.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sockid, ok := m.byStream[s.ID]
	if !ok {
		return
	}
	delete(m.byStream, s.ID)
	if m.entries[sockid].kind == KindStream {
		m.freeLocked(sockid)
	}
	m.cond.Broadcast()
}

func (m *Map) freeLocked(sockid int) {
	m.entries[sockid] = entry{}
	m.freeList = append(m.freeList, sockid)
}

// DrainConnect, DrainSend, DrainAck, DrainClose and DrainReset are called
// once per engine tick (spec §4.9 "drain_user_queues") to move
// app-enqueued work onto the engine's own per-stream state.
func (m *Map) DrainConnect() []*stream.Stream { return m.drain(&m.connectQ) }
func (m *Map) DrainSend() []*stream.Stream    { return m.drain(&m.sendQ) }
func (m *Map) DrainAck() []*stream.Stream     { return m.drain(&m.ackQ) }
func (m *Map) DrainClose() []*stream.Stream   { return m.drain(&m.closeQ) }
func (m *Map) DrainReset() []*stream.Stream   { return m.drain(&m.resetQ) }

func (m *Map) drain(q *[]*stream.Stream) []*stream.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *q
	*q = nil
	return out
}
