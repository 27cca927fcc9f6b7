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

// Package listener implements the bound, listening side of a socket (spec
// §4.8 "bind, listen, accept"): a bounded accept queue a completed
// passive-open stream is handed into, a condvar blocking accept() waits on,
// and the port-keyed lookup table input.Context uses to find which
// listener, if any, owns an inbound SYN's destination port.
package listener

import (
	"sync"

	"github.com/cloudwego/tcpcore/input"
	"github.com/cloudwego/tcpcore/stream"
)

// Listener is one bound, listening socket's engine-side state. It
// implements input.AcceptQueue (Offer) so the input path can hand it
// completed streams without importing the socket package.
type Listener struct {
	mu      sync.Mutex
	cond    *sync.Cond
	port    uint16
	backlog []*stream.Stream
	cap     int
	closed  bool
}

// New builds a listener with room for cap pending, not-yet-accepted
// connections (spec §4.8: "accept queue is bounded").
func New(port uint16, cap int) *Listener {
	l := &Listener{port: port, cap: cap}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Port reports the port this listener is bound to.
func (l *Listener) Port() uint16 { return l.port }

// Offer enqueues a freshly-established passive-open stream. Returns false
// if the backlog is already full, in which case the input path drops the
// connection rather than completing it (spec §4.8).
func (l *Listener) Offer(s *stream.Stream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.backlog) >= l.cap {
		return false
	}
	l.backlog = append(l.backlog, s)
	l.cond.Signal()
	return true
}

// TryAccept pops the oldest completed connection without blocking. ok is
// false if the backlog is currently empty.
func (l *Listener) TryAccept() (s *stream.Stream, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.popLocked()
}

func (l *Listener) popLocked() (*stream.Stream, bool) {
	if len(l.backlog) == 0 {
		return nil, false
	}
	s := l.backlog[0]
	l.backlog = l.backlog[1:]
	return s, true
}

// Accept blocks until a connection is ready, the listener is closed, or
// the deadline predicate reports true. deadline is checked each time the
// wait wakes up (on an Offer or Close); nothing wakes the wait when the
// deadline passes on its own. A nil deadline blocks indefinitely, matching
// a blocking-mode socket's accept() (spec §4.8).
func (l *Listener) Accept(deadline func() bool) (s *stream.Stream, ok bool, closed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if s, ok := l.popLocked(); ok {
			return s, true, false
		}
		if l.closed {
			return nil, false, true
		}
		if deadline != nil && deadline() {
			return nil, false, false
		}
		l.cond.Wait()
	}
}

// Backlog reports the number of completed, not-yet-accepted connections
// currently queued (used by ioctl(FIONREAD)-style introspection on a
// listening socket and by tests).
func (l *Listener) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog)
}

// Close marks the listener closed, waking any thread blocked in Accept so
// it can return immediately. Streams still sitting in the backlog are the
// caller's responsibility to drain and reset.
func (l *Listener) Close() []*stream.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	rest := l.backlog
	l.backlog = nil
	l.cond.Broadcast()
	return rest
}

// Table is the port-keyed registry input.Context.Listeners resolves
// against (spec §3 "Listener... discoverable by destination port via a
// small listeners hash"). One Table per engine.
type Table struct {
	mu sync.RWMutex
	m  map[uint16]*Listener
}

// NewTable builds an empty listener table.
func NewTable() *Table { return &Table{m: make(map[uint16]*Listener)} }

// Bind registers l under its port. Returns false (ADDRESS_IN_USE, spec
// §7) if the port is already bound.
func (t *Table) Bind(l *Listener) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[l.Port()]; ok {
		return false
	}
	t.m[l.Port()] = l
	return true
}

// Unbind removes the listener bound to port, if any.
func (t *Table) Unbind(port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, port)
}

// Lookup implements input.ListenerLookup. daddr is unused: this engine
// only ever sees frames addressed to IPs it owns, and mtcp listeners bind
// a port across every local address (no per-IP listen scoping in scope
// here), matching original_source's listener.c port-only hash.
func (t *Table) Lookup(daddr uint32, dport uint16) (input.AcceptQueue, bool) {
	t.mu.RLock()
	l, ok := t.m[dport]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return l, true
}
