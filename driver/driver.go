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

// Package driver defines the NIC contract an engine attaches to (spec §6
// "External interfaces") and a reference implementation on top of Linux
// io_uring (internal/iouring), the modern kernel-bypass-adjacent analog of
// mtcp's DPDK/PSIO poll-mode driver.
package driver

import "errors"

// Capability is a dev_ioctl-style bitmask query for NIC offload support.
type Capability uint32

const (
	RXTCPChecksum Capability = 1 << iota
	TXTCPIPChecksum
)

// ErrBackpressure is returned by GetWptr when no TX slot is free.
var ErrBackpressure = errors.New("driver: backpressure, no tx slot available")

// Driver is the engine's NIC attachment contract. One Driver instance
// serves exactly one interface; an engine owns exactly one Driver.
type Driver interface {
	// RxBatch polls for up to len(out) received frames, returning the
	// number filled. Each returned slice aliases driver-owned memory
	// valid until the next RxBatch call (spec: "frame lifetime extends
	// until the engine releases it, implicitly, at return from
	// input-path").
	RxBatch(out [][]byte) (n int, err error)

	// GetWptr reserves a TX slot sized for one segment of pktlen bytes.
	// Returns ErrBackpressure if no slot is currently free.
	GetWptr(pktlen int) ([]byte, error)

	// TxFlush pushes every slot reserved via GetWptr since the last flush
	// onto the wire.
	TxFlush() error

	// Capability reports which offloads the NIC provides, queried once
	// at attach time.
	Capability() Capability

	// Close releases the driver's resources.
	Close() error
}
