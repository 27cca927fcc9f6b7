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
	"github.com/cloudwego/tcpcore/listener"
	"github.com/cloudwego/tcpcore/stream"
)

// Listen binds sockid as a listening socket with the given backlog (spec
// §4.8 `bind, listen`: bind must have reserved a local port first).
func (m *Map) Listen(sockid int, backlog int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "listen"
		return err
	}
	if e.kind != KindStream || e.str != nil || !e.addrBound {
		return errOf("listen", InvalidArgument)
	}
	l := listener.New(e.localPort, backlog)
	if !m.Listeners.Bind(l) {
		return errOf("listen", AddressInUse)
	}
	e.kind = KindStreamListen
	e.listen = l
	return nil
}

// Accept pops the oldest completed connection off sockid's backlog,
// wrapping it in a fresh socket id (spec §4.8 `accept`). Blocks if the
// socket is not nonblocking and the backlog is currently empty.
func (m *Map) Accept(sockid int) (int, error) {
	m.mu.Lock()
	e, gerr := m.get(sockid)
	if gerr != nil {
		gerr.Op = "accept"
		m.mu.Unlock()
		return -1, gerr
	}
	if e.kind != KindStreamListen {
		m.mu.Unlock()
		return -1, errOf("accept", InvalidArgument)
	}
	l := e.listen
	nonblocking := e.nonblocking
	m.mu.Unlock()

	if nonblocking {
		s, ok := l.TryAccept()
		if !ok {
			return -1, errOf("accept", WouldBlock)
		}
		return m.wrapAccepted(s), nil
	}

	s, ok, closed := l.Accept(nil)
	if closed {
		return -1, errOf("accept", InvalidDescriptor)
	}
	if !ok {
		return -1, errOf("accept", Interrupted)
	}
	return m.wrapAccepted(s), nil
}

func (m *Map) wrapAccepted(s *stream.Stream) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocLocked()
	m.entries[id] = entry{kind: KindStream, str: s}
	m.byStream[s.ID] = id
	return id
}

// Connect creates an active-open stream, hands it to the engine's connect
// queue for transmission, and either returns IN_PROGRESS (nonblocking) or
// blocks until the stream reaches ESTABLISHED or a terminal state (spec
// §4.8 `connect`).
func (m *Map) Connect(sockid int, daddr uint32, dport uint16) error {
	m.mu.Lock()
	e, gerr := m.get(sockid)
	if gerr != nil {
		gerr.Op = "connect"
		m.mu.Unlock()
		return gerr
	}
	if e.kind != KindStream {
		m.mu.Unlock()
		return errOf("connect", InvalidArgument)
	}
	if e.str != nil {
		m.mu.Unlock()
		if e.str.State >= stream.StateEstablished {
			return errOf("connect", AlreadyConnected)
		}
		return errOf("connect", InProgress)
	}

	laddr, lport := e.localIP, e.localPort
	if !e.addrBound {
		a, aerr := m.Addr.Fetch()
		if aerr != nil {
			m.mu.Unlock()
			return errOf("connect", OutOfMemory)
		}
		laddr, lport = a.IP, a.Port
		e.addrBound = true
		e.localIP, e.localPort = laddr, lport
	}

	id := m.NewStreamID()
	iss := initialSeq(id)
	s, serr := m.newStream(id, laddr, daddr, lport, dport, int(iss), m.SendBuf)
	if serr != nil {
		m.mu.Unlock()
		return errOf("connect", OutOfMemory)
	}
	s.Send.MSS = m.MSS
	s.Send.WScaleMine = m.WScale
	s.Send.MaxNRTX = m.MaxNRTX
	_ = s.SetState(stream.StateSynSent)

	e.str = s
	m.byStream[s.ID] = sockid
	m.connectQ = append(m.connectQ, s)
	nonblocking := e.nonblocking
	m.mu.Unlock()
	m.wake()

	if nonblocking {
		return errOf("connect", InProgress)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for s.State < stream.StateEstablished {
		if s.HaveReset {
			return errOf("connect", ConnectionRefused)
		}
		if s.State == stream.StateClosed {
			return errOf("connect", TimedOut)
		}
		m.cond.Wait()
	}
	return nil
}

// Close implements spec §6 `close`. For a STREAM socket this detaches and
// frees the descriptor immediately (POSIX semantics: the id is reusable
// right away) and hands the stream to the engine's close queue so it can
// run the passive teardown (FIN_WAIT_1/LAST_ACK/CLOSE_WAIT) independently.
func (m *Map) Close(sockid int) error {
	m.mu.Lock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "close"
		m.mu.Unlock()
		return err
	}

	switch e.kind {
	case KindStream:
		s := e.str
		if s != nil {
			delete(m.byStream, s.ID)
			m.closeQ = append(m.closeQ, s)
		}
	case KindStreamListen:
		m.Listeners.Unbind(e.listen.Port())
		e.listen.Close()
	case KindEpoll:
		// nothing to release beyond the entry itself; Set holds no
		// external resource.
	case KindPipe:
		e.pp.Close(e.pipeEnd)
	}
	m.freeLocked(sockid)
	m.mu.Unlock()
	m.wake()
	return nil
}

// Abort implements spec §6 `abort`: like Close but for a connected STREAM
// socket the engine answers with RST instead of a graceful FIN sequence
// (spec §4.8 "abort/RST: enqueue on reset list; engine emits RST and
// destroys").
func (m *Map) Abort(sockid int) error {
	m.mu.Lock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "abort"
		m.mu.Unlock()
		return err
	}
	if e.kind != KindStream || e.str == nil {
		m.mu.Unlock()
		return errOf("abort", NotConnected)
	}
	s := e.str
	delete(m.byStream, s.ID)
	m.resetQ = append(m.resetQ, s)
	m.freeLocked(sockid)
	m.mu.Unlock()
	m.wake()
	return nil
}

// initialSeq picks this stream's ISN for an active open. Mirrors input
// package's initialSeq (both need a cheap, non-cryptographic ISN; kept as
// separate small functions rather than a shared exported helper since each
// package's caller has a different "now"/counter shape available).
func initialSeq(counter uint32) uint32 {
	return counter * 0x9E3779B1
}
