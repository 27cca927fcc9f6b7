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

// Package stack wires N engine.Engine values to a NIC whitelist (spec §1:
// "N independent engines, one per worker core; RSS on the NIC partitions
// incoming flows by 4-tuple hash so each engine sees a disjoint subset").
package stack

import "encoding/binary"

// defaultRSSKey is the 40-byte Toeplitz key most NIC drivers ship
// as their default (the same constant Microsoft's RSS spec and every RSS
// driver this module's pack doesn't carry reference as "the" default key).
// config.Config.RSSKey overrides it when a NIC uses a different one.
var defaultRSSKey = []byte{
	0x6d, 0x5a, 0x56, 0xda, 0x25, 0x5b, 0x0e, 0xc2,
	0x41, 0x67, 0x25, 0x3d, 0x43, 0xa3, 0x8f, 0xb0,
	0xd0, 0xca, 0x2b, 0xcb, 0xae, 0x7b, 0x30, 0xb4,
	0x77, 0xcb, 0x2d, 0xa3, 0x80, 0x30, 0xf2, 0x0c,
	0x6a, 0x42, 0xb7, 0x3b, 0xbe, 0xac, 0x01, 0xfa,
}

// toeplitzHash computes the Microsoft RSS Toeplitz hash over a byte input
// built from the 4-tuple (spec §4.7/§9 "RSS 4-tuple", GLOSSARY). The key is
// consumed 32 bits at a time with a sliding window, one bit of input per
// iteration — the canonical construction every RSS-capable NIC implements
// in hardware.
func toeplitzHash(key []byte, input []byte) uint32 {
	var result uint32
	for i, b := range input {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) == 0 {
				continue
			}
			keyWindow := keyBits(key, i*8+(7-bit))
			result ^= keyWindow
		}
	}
	return result
}

// keyBits returns the 32-bit window of key starting at bitOffset bits from
// the start (big-endian bit order), zero-padding past the key's length.
func keyBits(key []byte, bitOffset int) uint32 {
	var window [5]byte
	byteOff := bitOffset / 8
	for i := range window {
		if byteOff+i < len(key) {
			window[i] = key[byteOff+i]
		}
	}
	shift := uint(bitOffset % 8)
	v := uint64(binary.BigEndian.Uint32(window[:4]))<<8 | uint64(window[4])
	return uint32(v >> (8 - shift))
}

// rssInput lays out the 4-tuple in the big-endian (saddr, daddr, sport,
// dport) order the Toeplitz hash is defined over.
func rssInput(saddr, daddr uint32, sport, dport uint16) []byte {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], saddr)
	binary.BigEndian.PutUint32(b[4:8], daddr)
	binary.BigEndian.PutUint16(b[8:10], sport)
	binary.BigEndian.PutUint16(b[10:12], dport)
	return b[:]
}

// coreForHash maps an RSS hash to a queue/core index exactly as NIC RSS
// redirection tables do: the low bits of the hash, masked against the
// queue count when it is a power of two (mtcp's num_queues is always a
// power of two in practice; a non-power-of-two core count falls back to a
// modulo, which no longer matches real hardware RSS but keeps the filter
// well-defined).
func coreForHash(hash uint32, numCores int) int {
	if numCores <= 0 {
		return 0
	}
	if numCores&(numCores-1) == 0 {
		return int(hash) & (numCores - 1)
	}
	return int(hash) % numCores
}
