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

import "github.com/cloudwego/tcpcore/pipe"

// Pipe implements spec §6 `pipe`: a PIPE-socket pair sharing one in-process
// byte buffer (original_source's pipe.c), returned as two socket ids.
func (m *Map) Pipe() (r, w int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pipe.New()
	r = m.allocLocked()
	m.entries[r] = entry{kind: KindPipe, pp: p, pipeEnd: 0}
	w = m.allocLocked()
	m.entries[w] = entry{kind: KindPipe, pp: p, pipeEnd: 1}

	p.SetNotify(0, func(events uint32) { m.raisePipeEnd(r, events) })
	p.SetNotify(1, func(events uint32) { m.raisePipeEnd(w, events) })
	return r, w, nil
}

// raisePipeEnd fans a pipe readiness change out to whatever epoll sets the
// given end's socket id is registered in. Called synchronously from
// pipe.Pipe's SetNotify hook while its own internal mutex is held, not
// m.mu, so this takes m.mu itself like any other entry.
func (m *Map) raisePipeEnd(sockid int, events uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sockid < 0 || sockid >= len(m.entries) {
		return
	}
	e := &m.entries[sockid]
	for _, set := range e.registeredIn {
		set.Raise(sockid, events)
	}
	m.cond.Broadcast()
}

// PipeRead implements reading from a PIPE-type socket.
func (m *Map) PipeRead(sockid int, buf []byte) (int, error) {
	m.mu.Lock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "read"
		m.mu.Unlock()
		return 0, err
	}
	if e.kind != KindPipe {
		m.mu.Unlock()
		return 0, errOf("read", InvalidArgument)
	}
	p, end, nonblocking := e.pp, e.pipeEnd, e.nonblocking
	m.mu.Unlock()

	n, perr := p.Read(end, buf, !nonblocking)
	if perr != nil {
		return 0, errOf("read", ConnectionReset)
	}
	if n == 0 && nonblocking && !p.Readable(end) {
		return 0, errOf("read", WouldBlock)
	}
	return n, nil
}

// PipeWrite implements writing to a PIPE-type socket.
func (m *Map) PipeWrite(sockid int, buf []byte) (int, error) {
	m.mu.Lock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "write"
		m.mu.Unlock()
		return 0, err
	}
	if e.kind != KindPipe {
		m.mu.Unlock()
		return 0, errOf("write", InvalidArgument)
	}
	p, end, nonblocking := e.pp, e.pipeEnd, e.nonblocking
	m.mu.Unlock()

	n, perr := p.Write(end, buf, !nonblocking)
	if perr != nil {
		return 0, errOf("write", ConnectionReset)
	}
	if n == 0 && nonblocking {
		return 0, errOf("write", WouldBlock)
	}
	return n, nil
}
