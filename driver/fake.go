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

package driver

import "sync"

// Fake is an in-memory Driver used by engine/socket/stack tests and by
// platforms without io_uring. RX frames are injected with Inject; TX
// frames land in Sent for the caller to inspect.
type Fake struct {
	mu      sync.Mutex
	rxQueue [][]byte
	pending [][]byte // reserved via GetWptr, not yet flushed
	Sent    [][]byte
	cap     Capability
}

// NewFake builds a Fake driver reporting the given capabilities.
func NewFake(cap Capability) *Fake {
	return &Fake{cap: cap}
}

// Inject appends a frame to be returned by a future RxBatch call.
func (f *Fake) Inject(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rxQueue = append(f.rxQueue, frame)
}

func (f *Fake) RxBatch(out [][]byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for n < len(out) && len(f.rxQueue) > 0 {
		out[n] = f.rxQueue[0]
		f.rxQueue = f.rxQueue[1:]
		n++
	}
	return n, nil
}

func (f *Fake) GetWptr(pktlen int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, pktlen)
	f.pending = append(f.pending, buf)
	return buf, nil
}

func (f *Fake) TxFlush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, f.pending...)
	f.pending = nil
	return nil
}

func (f *Fake) Capability() Capability { return f.cap }

func (f *Fake) Close() error { return nil }
