/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ring

import (
	"container/ring"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

// rtoSlot is the per-tick payload timers.RTOWheel actually stores: the set
// of stream IDs whose RTO falls due that tick.
type rtoSlot struct {
	streamIDs []uint32
}

func newRandomStreamID(n int) []uint32 {
	vs := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		vs = append(vs, uint32(rand.Intn(n)))
	}
	return vs
}

func newSlotSlice(ids []uint32) []rtoSlot {
	items := make([]rtoSlot, 0, len(ids))
	for i := 0; i < len(ids); i++ {
		items = append(items, rtoSlot{streamIDs: []uint32{ids[i]}})
	}
	return items
}

func newStdRing(vs []rtoSlot) *ring.Ring {
	r := ring.New(len(vs))
	for i := 0; i < len(vs); i++ {
		r.Value = &vs[i]
		r = r.Next()
	}
	return r
}

// TestRing walks an RTO wheel's worth of slots the way timers.RTOWheel does:
// schedule by index, advance, and read back the stream IDs due each tick.
func TestRing(t *testing.T) {
	n := 100 // ticks of wheel granularity
	ids := newRandomStreamID(n)

	r := NewFromSlice(newSlotSlice(ids))
	// Get
	for i := 0; i < n; i++ {
		it, ok := r.Get(i)
		assert.True(t, ok)
		assert.Equal(t, ids[i], it.Value().streamIDs[0])
		assert.Equal(t, ids[i], it.Pointer().streamIDs[0])
	}
	// Next
	curr := r.Head()
	h, _ := r.Get(0)
	assert.Equal(t, curr, h)
	for i := 0; i < n; i++ {
		next, ok := r.Next(curr.Index())
		assert.True(t, ok)
		curr = next
	}
	assert.Equal(t, curr, h) // wheel wraps back to the first tick
	_, ok := r.Next(n + 1)
	assert.False(t, ok)
	// Prev
	for i := 0; i < n; i++ {
		prev, ok := r.Prev(curr.Index())
		assert.True(t, ok)
		curr = prev
	}
	assert.Equal(t, curr, h)
	_, ok = r.Prev(n + 1)
	assert.False(t, ok)
	// Do — sums every stream ID currently armed on the wheel
	var (
		expectedTotal uint32
		actualTotal   uint32
	)
	r.Do(func(v *rtoSlot) {
		actualTotal += v.streamIDs[0]
	})
	for i := 0; i < n; i++ {
		expectedTotal += ids[i]
	}
	assert.Equal(t, expectedTotal, actualTotal)
	// Modify — overwrites each slot's stream ID in place through Pointer
	for i := 0; i < n; i++ {
		it, ok := r.Get(i)
		assert.True(t, ok)
		newID := uint32(i)
		it.Pointer().streamIDs[0] = newID
		assert.Equal(t, newID, it.Value().streamIDs[0])
	}
}

// TestMove exercises the exact op RTOWheel.Schedule performs: moving
// delayTicks forward from the wheel's current slot, wrapping at the edges.
func TestMove(t *testing.T) {
	n := 100
	ids := newRandomStreamID(n)
	r := NewFromSlice(newSlotSlice(ids))

	realNext, _ := r.Move(98, 2)
	expectedNext, _ := r.Get(0)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(98, n+1)
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(1, -2)
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)

	realNext, _ = r.Move(1, -(2 + n))
	expectedNext, _ = r.Get(99)
	assert.Equal(t, realNext, expectedNext)
}

func BenchmarkNew(b *testing.B) {
	nn := []int{100000, 400000}
	for _, n := range nn {
		ids := newRandomStreamID(n)

		b.Run(fmt.Sprintf("std-wheelsize_n_%d", n), func(b *testing.B) {
			b.ResetTimer()
			for j := 0; j < b.N; j++ {
				stdRing := newStdRing(newSlotSlice(ids))
				_ = stdRing
			}
		})
		runtime.GC()

		b.Run(fmt.Sprintf("new-wheelsize_n_%d", n), func(b *testing.B) {
			b.ResetTimer()
			for j := 0; j < b.N; j++ {
				newRing := NewFromSlice(newSlotSlice(ids))
				_ = newRing
			}
		})
		runtime.GC()
	}
}

func BenchmarkDo(b *testing.B) {
	nn := []int{10000, 40000}
	for _, n := range nn {
		ids := newRandomStreamID(n)
		b.Run(fmt.Sprintf("std-wheelsize_n_%d", n), func(b *testing.B) {
			b.ResetTimer()
			stdRing := newStdRing(newSlotSlice(ids))
			for j := 0; j < b.N; j++ {
				stdRing.Do(func(i any) {})
			}
		})
		runtime.GC()

		b.Run(fmt.Sprintf("new-wheelsize_n_%d", n), func(b *testing.B) {
			b.ResetTimer()
			newRing := NewFromSlice(newSlotSlice(ids))
			for j := 0; j < b.N; j++ {
				newRing.Do(func(i *rtoSlot) {})
			}
		})
		runtime.GC()
	}
}

func BenchmarkGC(b *testing.B) {
	nn := []int{100000, 400000}
	for _, n := range nn {
		ids := newRandomStreamID(n)

		b.Run(fmt.Sprintf("std-wheelsize_n_%d", n), func(b *testing.B) {
			stdRing := newStdRing(newSlotSlice(ids))
			b.ResetTimer()
			for j := 0; j < b.N; j++ {
				runtime.GC()
			}
			runtime.KeepAlive(stdRing)
			stdRing = nil
			_ = stdRing
		})
		runtime.GC()

		b.Run(fmt.Sprintf("new-wheelsize_n_%d", n), func(b *testing.B) {
			newRing := NewFromSlice(newSlotSlice(ids))
			b.ResetTimer()
			for j := 0; j < b.N; j++ {
				runtime.GC()
			}
			runtime.KeepAlive(newRing)
			newRing = nil
			_ = newRing
		})
		runtime.GC()
	}
}
