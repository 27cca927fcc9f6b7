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

// Package epollset implements the engine's epoll-like readiness API (spec
// §3 "epoll-set", §4.6), grounded on mtcp_epoll.h's event bits/ops and on
// connstate's split between a small control surface (Set.Ctl, mirroring
// poller.control) and the free-list-backed descriptor bookkeeping
// (poll_cache.go's fdOperator pattern, adapted here to socket ids instead
// of real fds). Socket readiness is entirely in-process — these are
// virtual sockets, not kernel fds — so unlike connstate there is no real
// epoll syscall backing Ctl/Raise; Wakeup (wakeup.go) is the piece that
// does bind to a real OS epoll instance, for the engine's blocking sleep.
package epollset

import "errors"

// Event mirrors struct mtcp_epoll_event: a readiness bitmask for one
// socket id.
type Event struct {
	Sockid int
	Events uint32
}

const (
	EPOLLIN    uint32 = 0x001
	EPOLLOUT   uint32 = 0x004
	EPOLLERR   uint32 = 0x008
	EPOLLHUP   uint32 = 0x010
	EPOLLRDHUP uint32 = 0x2000
	EPOLLONESHOT uint32 = 1 << 30
	EPOLLET      uint32 = 1 << 31
)

type CtlOp int

const (
	CtlAdd CtlOp = iota + 1
	CtlDel
	CtlMod
)

var (
	ErrAlreadyRegistered = errors.New("epollset: socket already registered")
	ErrNotRegistered     = errors.New("epollset: socket not registered")
)

type interest struct {
	events  uint32 // mask of interest: EPOLLIN|EPOLLOUT|...
	et      bool   // edge-triggered
	oneshot bool
	armed   bool // false after a oneshot fire, until re-armed via CtlMod
}

// Set is one epoll instance: registered interest plus the three event
// queues mtcp keeps per epoll-set.
//
//   - ready:  events newly raised this tick but not yet handed to a Wait
//     caller (mtcp_queue — producer side, fed by the socket layer)
//   - pending: events handed out by the last Wait call (usr_queue); the
//     re-reporting of level-triggered sockets is done through shadow
//   - shadow: the level-triggered re-arm set: sockets whose condition was
//     still true when drained from pending, copied back to ready at the
//     start of the next Wait (usr_shadow_queue)
type Set struct {
	interests map[int]*interest
	ready     []Event
	pending   []Event
	shadow    []Event
}

// Create builds an empty epoll set.
func Create() *Set {
	return &Set{interests: make(map[int]*interest)}
}

// Ctl adds, modifies or removes interest in a socket's readiness events.
func (s *Set) Ctl(op CtlOp, sockid int, events uint32) error {
	switch op {
	case CtlAdd:
		if _, ok := s.interests[sockid]; ok {
			return ErrAlreadyRegistered
		}
		s.interests[sockid] = &interest{
			events:  events &^ (EPOLLET | EPOLLONESHOT),
			et:      events&EPOLLET != 0,
			oneshot: events&EPOLLONESHOT != 0,
			armed:   true,
		}
		return nil
	case CtlMod:
		it, ok := s.interests[sockid]
		if !ok {
			return ErrNotRegistered
		}
		it.events = events &^ (EPOLLET | EPOLLONESHOT)
		it.et = events&EPOLLET != 0
		it.oneshot = events&EPOLLONESHOT != 0
		it.armed = true
		return nil
	case CtlDel:
		if _, ok := s.interests[sockid]; !ok {
			return ErrNotRegistered
		}
		delete(s.interests, sockid)
		s.removeQueued(sockid)
		return nil
	default:
		return errors.New("epollset: unknown ctl op")
	}
}

func (s *Set) removeQueued(sockid int) {
	filter := func(evs []Event) []Event {
		out := evs[:0]
		for _, e := range evs {
			if e.Sockid != sockid {
				out = append(out, e)
			}
		}
		return out
	}
	s.ready = filter(s.ready)
	s.pending = filter(s.pending)
	s.shadow = filter(s.shadow)
}

// Raise is called by the socket layer whenever a socket's condition
// (readable/writable/error/hup) changes. Raised bits are intersected with
// the socket's registered interest; a oneshot socket that hasn't been
// re-armed since its last fire is silently ignored, matching MTCP_EPOLLONESHOT.
func (s *Set) Raise(sockid int, events uint32) {
	it, ok := s.interests[sockid]
	if !ok {
		return
	}
	bits := events & it.events
	if bits == 0 {
		return
	}
	if it.oneshot && !it.armed {
		return
	}
	s.ready = append(s.ready, Event{Sockid: sockid, Events: bits})
	if it.oneshot {
		it.armed = false
	}
}

// Wait drains up to maxEvents ready events: first the level-triggered
// re-arm set from the previous Wait call, then anything newly raised.
// Edge-triggered and oneshot sockets are never copied into the shadow set,
// so they only ever appear once per raise.
func (s *Set) Wait(maxEvents int) []Event {
	s.ready = append(s.shadow, s.ready...)
	s.shadow = s.shadow[:0]

	n := len(s.ready)
	if n > maxEvents {
		n = maxEvents
	}
	out := append([]Event(nil), s.ready[:n]...)
	leftover := s.ready[n:]
	s.ready = append([]Event(nil), leftover...)

	s.pending = out
	for _, e := range out {
		it := s.interests[e.Sockid]
		if it != nil && !it.et && !it.oneshot {
			s.shadow = append(s.shadow, e)
		}
	}
	return out
}

// Registered reports whether sockid currently has interest registered.
func (s *Set) Registered(sockid int) bool {
	_, ok := s.interests[sockid]
	return ok
}
