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

// Package flowtable implements the per-engine 4-tuple flow hash table (spec
// §3 "flow hash table", grounded on mtcp's fhash.c): a fixed bucket-count
// table of chains, hashed with the engine-local, non-cross-platform
// hash/xfnv FNV-1a (a flow table is never serialized or shared across
// processes, so xfnv's non-portability is irrelevant and its speed is the
// whole point).
package flowtable

import (
	"encoding/binary"

	"github.com/cloudwego/tcpcore/hash/xfnv"
)

// Key is the 4-tuple identifying one TCP flow from this engine's point of
// view (local address/port, remote address/port).
type Key struct {
	LocalIP    uint32
	RemoteIP   uint32
	LocalPort  uint16
	RemotePort uint16
}

func (k Key) bytes() [12]byte {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], k.LocalIP)
	binary.BigEndian.PutUint32(b[4:8], k.RemoteIP)
	binary.BigEndian.PutUint16(b[8:10], k.LocalPort)
	binary.BigEndian.PutUint16(b[10:12], k.RemotePort)
	return b
}

type entry[V any] struct {
	key  Key
	val  V
	next *entry[V]
}

// Table is a fixed-bucket-count, chained-collision hash table mapping flow
// 4-tuples to values of type V (normally *stream.Stream). Not safe for
// concurrent use — each engine owns exactly one Table (spec §5).
type Table[V any] struct {
	buckets []*entry[V]
	mask    uint64
	count   int
}

// New creates a table with numBins buckets, rounded up to a power of two
// (mtcp's NUM_BINS is 131072 = 2^17; callers size it to the expected
// concurrent-flow count per core).
func New[V any](numBins int) *Table[V] {
	n := 1
	for n < numBins {
		n <<= 1
	}
	if n == 0 {
		n = 1
	}
	return &Table[V]{
		buckets: make([]*entry[V], n),
		mask:    uint64(n - 1),
	}
}

func (t *Table[V]) bucketIndex(k Key) uint64 {
	b := k.bytes()
	return xfnv.Hash(b[:]) & t.mask
}

// Count returns the number of flows currently tracked.
func (t *Table[V]) Count() int { return t.count }

// Insert adds key->val, replacing any prior mapping for the same key.
func (t *Table[V]) Insert(key Key, val V) {
	idx := t.bucketIndex(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.val = val
			return
		}
	}
	t.buckets[idx] = &entry[V]{key: key, val: val, next: t.buckets[idx]}
	t.count++
}

// Lookup returns the value for key, and whether it was found.
func (t *Table[V]) Lookup(key Key) (V, bool) {
	idx := t.bucketIndex(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Remove deletes key from the table, reporting whether it was present.
func (t *Table[V]) Remove(key Key) bool {
	idx := t.bucketIndex(key)
	var prev *entry[V]
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			return true
		}
		prev = e
	}
	return false
}

// Range calls fn for every entry in the table; fn must not mutate the table.
func (t *Table[V]) Range(fn func(Key, V)) {
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.key, e.val)
		}
	}
}
