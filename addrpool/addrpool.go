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

// Package addrpool hands out (local address, local port) pairs for active
// opens, pre-filtered at construction time so every address this engine can
// allocate already steers to this engine's RSS queue (spec §3 "address
// pool", grounded on mtcp's addr_pool.c CreateAddressPoolPerCore/
// FetchAddressPerCore).
package addrpool

import (
	"errors"
)

// ErrExhausted is returned by Fetch when every address/port combination
// owned by this engine is currently in use.
var ErrExhausted = errors.New("addrpool: no free address available")

// Addr is a local (IP, port) pair.
type Addr struct {
	IP   uint32
	Port uint16
}

type node struct {
	addr       Addr
	prev, next *node
}

// Pool is the free/used doubly-linked list of addresses owned by one
// engine, plus an O(1) lookup index for Free. Not safe for concurrent use;
// callers are per-engine single-threaded loops, matching the rest of the
// per-core state in spec §5.
type Pool struct {
	freeHead, freeTail *node
	nodes              map[Addr]*node
	used               map[Addr]bool
	numFree            int
	numUsed            int
}

// RSSFilter reports whether the given (localIP, localPort) is steered to
// this engine's RX queue for the fixed remote (daddr, dport) used at
// startup. Builders pass in the driver's Toeplitz/RSS core classifier.
type RSSFilter func(localIP uint32, localPort uint16) bool

// Build constructs a Pool containing every (ip, port) in
// [baseIP, baseIP+numAddr) x [minPort, maxPort) for which keep returns true.
// This is the per-core address-space partitioning CreateAddressPoolPerCore
// does ahead of time so the hot Fetch path never has to consult RSS again.
func Build(baseIP uint32, numAddr int, minPort, maxPort uint16, keep RSSFilter) *Pool {
	p := &Pool{
		nodes: make(map[Addr]*node),
		used:  make(map[Addr]bool),
	}
	for i := 0; i < numAddr; i++ {
		ip := baseIP + uint32(i)
		for port := minPort; port < maxPort; port++ {
			if keep != nil && !keep(ip, port) {
				continue
			}
			p.pushFree(Addr{IP: ip, Port: port})
		}
	}
	return p
}

func (p *Pool) pushFree(a Addr) {
	n := &node{addr: a}
	if p.freeTail == nil {
		p.freeHead, p.freeTail = n, n
	} else {
		n.prev = p.freeTail
		p.freeTail.next = n
		p.freeTail = n
	}
	p.nodes[a] = n
	p.numFree++
}

func (p *Pool) unlinkFree(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		p.freeHead = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		p.freeTail = n.prev
	}
	n.prev, n.next = nil, nil
}

// NumFree/NumUsed report pool occupancy, surfaced for the "available
// addresses smaller than max_concurrency" startup warning mtcp prints.
func (p *Pool) NumFree() int { return p.numFree }
func (p *Pool) NumUsed() int { return p.numUsed }

// Fetch removes and returns the head of the free list — this engine's RSS
// filtering already guarantees any entry here routes back to it, so unlike
// mtcp's general FetchAddress there is no per-call RSS recheck.
func (p *Pool) Fetch() (Addr, error) {
	if p.freeHead == nil {
		return Addr{}, ErrExhausted
	}
	n := p.freeHead
	p.unlinkFree(n)
	p.used[n.addr] = true
	p.numFree--
	p.numUsed++
	return n.addr, nil
}

// Free returns addr to the free list. It is a no-op if addr was not
// currently checked out.
func (p *Pool) Free(addr Addr) {
	if !p.used[addr] {
		return
	}
	delete(p.used, addr)
	p.numUsed--
	p.pushFree(addr)
}
