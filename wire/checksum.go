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

package wire

import "encoding/binary"

// checksum16 is the internet one's-complement checksum (RFC 1071).
func checksum16(b []byte, initial uint32) uint16 {
	sum := initial
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// FillIPv4Checksum computes and writes the IPv4 header checksum in place.
// hdr must be exactly the 20-byte IPv4 header; the checksum field is zeroed
// before the sum is taken.
func FillIPv4Checksum(hdr []byte) {
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	binary.BigEndian.PutUint16(hdr[10:12], checksum16(hdr, 0))
}

// pseudoHeaderSum accumulates the IPv4 TCP pseudo-header (RFC 793 §3.1)
// used as the seed for the TCP checksum.
func pseudoHeaderSum(srcIP, dstIP uint32, tcpLen int) uint32 {
	var sum uint32
	sum += srcIP >> 16
	sum += srcIP & 0xFFFF
	sum += dstIP >> 16
	sum += dstIP & 0xFFFF
	sum += uint32(IPProtoTCP)
	sum += uint32(tcpLen)
	return sum
}

// TCPChecksum computes the TCP checksum over the TCP header+options+payload,
// seeded with the IPv4 pseudo-header. tcpSeg must have its checksum field
// zeroed before the call; NIC checksum offload may let the engine skip this
// entirely (driver.Capabilities, spec §9).
func TCPChecksum(srcIP, dstIP uint32, tcpSeg []byte) uint16 {
	seed := pseudoHeaderSum(srcIP, dstIP, len(tcpSeg))
	return checksum16(tcpSeg, seed)
}

// FillTCPChecksum computes and writes the TCP checksum field (offset 16:18
// within tcpSeg) in place.
func FillTCPChecksum(srcIP, dstIP uint32, tcpSeg []byte) {
	binary.BigEndian.PutUint16(tcpSeg[16:18], 0)
	binary.BigEndian.PutUint16(tcpSeg[16:18], TCPChecksum(srcIP, dstIP, tcpSeg))
}

// VerifyTCPChecksum reports whether the TCP checksum embedded in tcpSeg is
// correct for the given pseudo-header addresses.
func VerifyTCPChecksum(srcIP, dstIP uint32, tcpSeg []byte) bool {
	seed := pseudoHeaderSum(srcIP, dstIP, len(tcpSeg))
	return checksum16(tcpSeg, seed) == 0
}
