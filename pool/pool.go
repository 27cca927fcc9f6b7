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

package pool

import (
	"errors"
	"sync"
	"unsafe"
)

// ErrExhausted is returned by Get when the pool has reached its configured
// capacity and every slot is checked out (spec: "max concurrency" is a hard
// per-engine ceiling, not a soft hint — the caller must reject the new flow
// rather than let the pool grow unbounded).
var ErrExhausted = errors.New("pool: exhausted")

// Pool is a fixed-capacity object pool for a single type T, backed by one
// arena. Get, Put and Available take a mutex around the arena; callers are
// per-engine single-threaded loops (spec §5), so in the engine the lock is
// uncontended.
type Pool[T any] struct {
	mu    sync.Mutex // guards arena only; engines are single-threaded but tests/bench share pools
	arena *arena
	zero  T
}

// New builds a Pool holding up to capacity live *T values.
func New[T any](capacity int) (*Pool[T], error) {
	var zero T
	a, err := newArena(int(unsafe.Sizeof(zero)), capacity)
	if err != nil {
		return nil, err
	}
	return &Pool[T]{arena: a, zero: zero}, nil
}

// Get checks out a zeroed *T from the pool, or ErrExhausted if the pool is
// at capacity.
func (p *Pool[T]) Get() (*T, error) {
	p.mu.Lock()
	b := p.arena.take()
	p.mu.Unlock()
	if b == nil {
		return nil, ErrExhausted
	}
	v := (*T)(unsafe.Pointer(&b[0]))
	*v = p.zero
	return v, nil
}

// Put returns v to the pool. v must have come from Get on this Pool and must
// not be used again afterward.
func (p *Pool[T]) Put(v *T) {
	// Must match the exact cap arena.take() handed out (blockSize-8), not
	// sizeof(T): the arena rounds block size up to a power of two, and
	// Free keys off cap(block) to find the block's order.
	b := unsafe.Slice((*byte)(unsafe.Pointer(v)), p.arena.blockSize-8)
	p.mu.Lock()
	p.arena.give(b)
	p.mu.Unlock()
}

// Available reports how many more objects can be checked out before Get
// starts returning ErrExhausted.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arena.available()
}
