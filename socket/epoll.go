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

import "github.com/cloudwego/tcpcore/epollset"

// EpollCreate implements spec §6 `epoll_create`: a new socket id wrapping
// an empty epollset.Set.
func (m *Map) EpollCreate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.allocLocked()
	m.entries[id] = entry{kind: KindEpoll, epoll: epollset.Create()}
	return id
}

// EpollCtl implements spec §6 `epoll_ctl(ADD|MOD|DEL, sockid, mask)`.
// epfd must wrap an EPOLL socket; sockid is the target socket (STREAM,
// STREAM_LISTEN or PIPE) the interest applies to. On ADD, also raises any
// readiness the target already has (spec §4.6 "so applications do not
// miss events that predate registration").
func (m *Map) EpollCtl(epfd int, op epollset.CtlOp, sockid int, events uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ee, err := m.get(epfd)
	if err != nil || ee.kind != KindEpoll {
		return errOf("epoll_ctl", InvalidArgument)
	}
	target, err := m.get(sockid)
	if err != nil {
		err.Op = "epoll_ctl"
		return err
	}

	if err := ee.epoll.Ctl(op, sockid, events); err != nil {
		return errOf("epoll_ctl", InvalidArgument)
	}

	switch op {
	case epollset.CtlAdd:
		target.registeredIn = append(target.registeredIn, ee.epoll)
		m.raiseCurrentLocked(target, sockid, ee.epoll)
	case epollset.CtlDel:
		target.registeredIn = removeSet(target.registeredIn, ee.epoll)
	}
	return nil
}

func removeSet(sets []*epollset.Set, s *epollset.Set) []*epollset.Set {
	out := sets[:0]
	for _, e := range sets {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

// raiseCurrentLocked seeds ee with whatever readiness sockid already has,
// per spec §4.6's "pending ADD also checks the underlying object's current
// condition".
func (m *Map) raiseCurrentLocked(e *entry, sockid int, set *epollset.Set) {
	var events uint32
	switch e.kind {
	case KindStream:
		if e.str != nil && e.str.Recv.RecvBuf.MergedLen() > 0 {
			events |= epollset.EPOLLIN
		}
		if e.str != nil && e.str.Send.SendBuf.Buffered() < m.SendBuf {
			events |= epollset.EPOLLOUT
		}
	case KindStreamListen:
		if e.listen.Backlog() > 0 {
			events |= epollset.EPOLLIN
		}
	case KindPipe:
		if e.pp.Readable(e.pipeEnd) {
			events |= epollset.EPOLLIN
		}
		if e.pp.Writable(e.pipeEnd) {
			events |= epollset.EPOLLOUT
		}
	}
	if events != 0 {
		set.Raise(sockid, events)
	}
}

// EpollWait implements spec §6 `epoll_wait(events, maxevents, timeout_ms)`.
// Draining is delegated to epollset.Set.Wait; blocking/timeout is the
// caller's concern (the engine's driver-level Wakeup primitive backs the
// real sleep, spec §4.6 "sleeps on the epoll condition variable").
func (m *Map) EpollWait(epfd int, maxEvents int) ([]epollset.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(epfd)
	if err != nil || e.kind != KindEpoll {
		return nil, errOf("epoll_wait", InvalidArgument)
	}
	return e.epoll.Wait(maxEvents), nil
}
