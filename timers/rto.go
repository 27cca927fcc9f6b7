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

// Package timers implements the per-engine RTO hashed timing wheel and the
// TIME_WAIT/idle FIFOs (spec §3 "timers", §4.4 "retransmission timer").
package timers

import "github.com/cloudwego/tcpcore/container/ring"

// RTOWheel is a fixed-size hashed timing wheel: item bucket, with one
// engine tick advancing the wheel by one slot. It is built directly on
// container/ring.Ring, the same fixed-allocation ring the rest of the
// teacher codebase uses for GC-friendly cyclic storage — here each slot
// holds the (small, usually empty) set of streams whose RTO falls due that
// tick instead of a single scalar value.
type RTOWheel[T comparable] struct {
	slots   *ring.Ring[[]T]
	current int
}

// NewRTOWheel builds a wheel with the given number of slots (ticks of
// granularity); mtcp keeps one slot per tick up to TCP_MAX_RTX's worth of
// backoff.
func NewRTOWheel[T comparable](numSlots int) *RTOWheel[T] {
	if numSlots <= 0 {
		numSlots = 1
	}
	return &RTOWheel[T]{slots: ring.NewFromSlice(make([][]T, numSlots))}
}

// Schedule places item `delayTicks` ticks from now, returning the absolute
// slot index the caller should remember (e.g. in Stream.RTOWheelSlot) to
// support Cancel. A delay of Len() ticks or more is clamped to Len()-1.
func (w *RTOWheel[T]) Schedule(item T, delayTicks int) int {
	if delayTicks < 0 {
		delayTicks = 0
	}
	if n := w.slots.Len(); delayTicks >= n {
		delayTicks = n - 1
	}
	it, _ := w.slots.Move(w.current, delayTicks)
	idx := it.Index()
	*it.Pointer() = append(*it.Pointer(), item)
	return idx
}

// Cancel removes item from the slot it was scheduled into. A no-op if the
// item isn't present (already fired or never scheduled).
func (w *RTOWheel[T]) Cancel(slot int, item T) {
	it, ok := w.slots.Get(slot)
	if !ok {
		return
	}
	bucket := *it.Pointer()
	for i, v := range bucket {
		if v == item {
			bucket = append(bucket[:i], bucket[i+1:]...)
			*it.Pointer() = bucket
			return
		}
	}
}

// Tick advances the wheel by one slot and returns every item whose RTO just
// fired, clearing that slot for reuse.
func (w *RTOWheel[T]) Tick() []T {
	it, _ := w.slots.Move(w.current, 1)
	w.current = it.Index()
	fired := *it.Pointer()
	*it.Pointer() = nil
	return fired
}

// CurrentSlot returns the wheel's current position, the base every
// Schedule call is relative to.
func (w *RTOWheel[T]) CurrentSlot() int { return w.current }

// Len returns the number of slots in the wheel.
func (w *RTOWheel[T]) Len() int { return w.slots.Len() }
