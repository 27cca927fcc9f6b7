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

// Package pool provides the fixed-capacity, per-engine object pools backing
// Stream, SendVars and RecvVars allocation (spec §3, "per-core memory
// pools", and §5 concurrency model: every pool is owned by exactly one
// engine goroutine and is never touched across cores).
//
// Each pool hands out *T pointers into one arena rather than growing the
// heap per connection: the arena is allocated once at construction and
// carved up by an unsafex/malloc.BuddyAllocator configured with a single
// block size (min == max), which degenerates the buddy allocator into a
// flat fixed-size slab. Put hands the block back to the allocator's free
// list.
package pool

import (
	"fmt"

	"github.com/cloudwego/tcpcore/unsafex/malloc"
)

// nextPow2 rounds n up to the next power of two, with a floor of 16 (the
// buddy allocator's header is 8 bytes and it refuses blocks of 8 bytes or
// less).
func nextPow2(n int) int {
	if n < 16 {
		n = 16
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// arena is a flat slab of fixed-size blocks carved out of one contiguous
// allocation. It exists so Pool[T] doesn't need to know about the buddy
// allocator's order math directly.
type arena struct {
	alloc     *malloc.BuddyAllocator
	blockSize int
	capacity  int
}

func newArena(blockSize, capacity int) (*arena, error) {
	blockSize = nextPow2(blockSize)
	raw := make([]byte, blockSize*capacity)
	a, err := malloc.NewBuddyAllocatorWithBlockSize(raw, blockSize, blockSize)
	if err != nil {
		return nil, fmt.Errorf("pool: arena init: %w", err)
	}
	return &arena{alloc: a, blockSize: blockSize, capacity: capacity}, nil
}

func (a *arena) take() []byte {
	return a.alloc.Alloc(a.blockSize - 8)
}

func (a *arena) give(b []byte) {
	a.alloc.Free(b)
}

// available reports how many unallocated blocks remain.
func (a *arena) available() int {
	return a.alloc.Available() / (a.blockSize - 8)
}
