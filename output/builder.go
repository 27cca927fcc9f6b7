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

package output

import "github.com/cloudwego/tcpcore/wire"

// Endpoints carries the link-layer addresses a segment is framed with; the
// engine resolves these via the (out of scope, spec §1) ARP/routing tables
// and passes the result in.
type Endpoints struct {
	SrcMAC wire.MAC
	DstMAC wire.MAC
}

// Segment is everything that varies between one emitted TCP segment and
// the next; Builder.Build lays all of it into the wire format in one place
// (spec §4.3 "produced by one routine to keep the bit layout in a single
// place").
type Segment struct {
	Eps      Endpoints
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Window   uint16
	Flags    wire.TCPFlags
	Options  wire.Options
	Payload  []byte
	IPID     uint16
	TTL      byte
}

// Builder constructs wire frames for one NIC attachment. SkipChecksum
// should be set from driver.Capability's TXTCPIPChecksum bit so computed
// segments trust NIC offload instead of paying for a software checksum.
type Builder struct {
	SkipChecksum bool
}

// Len returns the total frame length Build will produce for seg, so the
// caller can size a driver.GetWptr reservation before filling it.
func (b *Builder) Len(seg Segment) int {
	optLen := wire.EncodedLen(seg.Options)
	return wire.EthHeaderLen + wire.IPv4HeaderLen + wire.TCPHeaderLen + optLen + len(seg.Payload)
}

// Build writes seg into buf (which must be at least Len(seg) bytes) and
// returns the number of bytes written.
func (b *Builder) Build(buf []byte, seg Segment) int {
	wire.PutEthHeader(buf, wire.EthHeader{Dst: seg.Eps.DstMAC, Src: seg.Eps.SrcMAC, Proto: wire.EtherTypeIPv4})

	optLen := wire.EncodedLen(seg.Options)
	tcpLen := wire.TCPHeaderLen + optLen + len(seg.Payload)
	ipTotal := wire.IPv4HeaderLen + tcpLen

	ipOff := wire.EthHeaderLen
	ttl := seg.TTL
	if ttl == 0 {
		ttl = 64
	}
	wire.PutIPv4Header(buf[ipOff:ipOff+wire.IPv4HeaderLen], wire.IPv4Header{
		TotalLen: uint16(ipTotal),
		ID:       seg.IPID,
		TTL:      ttl,
		Proto:    wire.IPProtoTCP,
		Src:      seg.SrcIP,
		Dst:      seg.DstIP,
	})

	tcpOff := ipOff + wire.IPv4HeaderLen
	wire.PutTCPHeader(buf[tcpOff:tcpOff+wire.TCPHeaderLen], wire.TCPHeader{
		SrcPort: seg.SrcPort,
		DstPort: seg.DstPort,
		Seq:     seg.Seq,
		Ack:     seg.Ack,
		DataOff: byte(wire.TCPHeaderLen + optLen),
		Flags:   seg.Flags,
		Window:  seg.Window,
	})

	optOff := tcpOff + wire.TCPHeaderLen
	wire.BuildOptions(buf[optOff:optOff+optLen], seg.Options)

	payloadOff := optOff + optLen
	copy(buf[payloadOff:payloadOff+len(seg.Payload)], seg.Payload)

	if !b.SkipChecksum {
		wire.FillTCPChecksum(seg.SrcIP, seg.DstIP, buf[tcpOff:tcpOff+tcpLen])
	}

	return payloadOff + len(seg.Payload)
}
