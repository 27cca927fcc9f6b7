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

// Package wire parses and builds the Ethernet-II/IPv4/TCP frames the engine
// exchanges with the driver. Every segment's header fields and option block
// are produced by the routines in this package so the bit layout for a wire
// frame lives in one place (spec §4.3).
//
/*
 *	Ethernet-II + IPv4 + TCP, the only shapes this module speaks:
 *
 *	+------14B-------+---------20B (no IP opts)---------+------20B+opts-------+
 *	|  Ethernet hdr   |              IPv4 hdr             |       TCP hdr       |
 *	+-----------------+------------------------------------+-------------------+
 *
 *	IPv4 header (IHL==5, no options; larger IHL is rejected, see Non-goals):
 *	+---+---+---------------+-------------------------------+
 *	|Ver|IHL|     TOS       |          Total Length          |
 *	+---+---+---------------+-------------------------------+
 *	|         Identification       |Flags|    Frag Offset    |
 *	+-------------------------------+-----+-------------------+
 *	|   TTL  |   Proto (6)   |         Header Checksum        |
 *	+--------+---------------+---------------------------------+
 *	|                     Source Address                      |
 *	+-----------------------------------------------------------+
 *	|                   Destination Address                    |
 *	+-----------------------------------------------------------+
 */
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	EthHeaderLen  = 14
	IPv4HeaderLen = 20
	TCPHeaderLen  = 20

	EtherTypeIPv4 = 0x0800
	IPProtoTCP    = 6
)

var (
	ErrShortFrame    = errors.New("wire: frame shorter than header")
	ErrNotIPv4       = errors.New("wire: not an IPv4/TCP frame")
	ErrBadIPLen      = errors.New("wire: ip total length disagrees with ihl+tcp doff")
	ErrIPFragmented  = errors.New("wire: fragmented ipv4 input is not supported")
	ErrIPOptsPresent = errors.New("wire: ipv4 options present (ihl>5) is not supported")
)

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

// EthHeader is the fixed 14-byte Ethernet-II header (no VLAN tag support).
type EthHeader struct {
	Dst   MAC
	Src   MAC
	Proto uint16
}

func ParseEthHeader(b []byte) (EthHeader, error) {
	var h EthHeader
	if len(b) < EthHeaderLen {
		return h, ErrShortFrame
	}
	copy(h.Dst[:], b[0:6])
	copy(h.Src[:], b[6:12])
	h.Proto = binary.BigEndian.Uint16(b[12:14])
	return h, nil
}

func PutEthHeader(b []byte, h EthHeader) {
	copy(b[0:6], h.Dst[:])
	copy(b[6:12], h.Src[:])
	binary.BigEndian.PutUint16(b[12:14], h.Proto)
}

// IPv4Header is the fixed 20-byte IPv4 header. IHL must be 5 (no options);
// a larger IHL is an IP-options frame, which this module drops (Non-goals).
type IPv4Header struct {
	TOS      byte
	TotalLen uint16
	ID       uint16
	FlagsFO  uint16 // flags (3 bits) + fragment offset (13 bits)
	TTL      byte
	Proto    byte
	Checksum uint16
	Src      uint32
	Dst      uint32
}

const (
	ipFlagDF = 1 << 14
	ipFlagMF = 1 << 13
	ipFragOffsetMask = 0x1FFF
)

// Fragmented reports whether the MF flag is set or the fragment offset is
// nonzero — i.e. this datagram is one fragment of a larger one.
func (h IPv4Header) Fragmented() bool {
	return h.FlagsFO&ipFlagMF != 0 || h.FlagsFO&ipFragOffsetMask != 0
}

// ParseIPv4Header parses the fixed 20-byte header. It rejects IHL != 5
// (fragmented IPv4 input and IP options are both out of scope, spec §1).
func ParseIPv4Header(b []byte) (IPv4Header, int, error) {
	var h IPv4Header
	if len(b) < IPv4HeaderLen {
		return h, 0, ErrShortFrame
	}
	verIHL := b[0]
	if verIHL>>4 != 4 {
		return h, 0, ErrNotIPv4
	}
	ihl := int(verIHL&0x0F) * 4
	if ihl != IPv4HeaderLen {
		return h, 0, ErrIPOptsPresent
	}
	h.TOS = b[1]
	h.TotalLen = binary.BigEndian.Uint16(b[2:4])
	h.ID = binary.BigEndian.Uint16(b[4:6])
	h.FlagsFO = binary.BigEndian.Uint16(b[6:8])
	h.TTL = b[8]
	h.Proto = b[9]
	h.Checksum = binary.BigEndian.Uint16(b[10:12])
	h.Src = binary.BigEndian.Uint32(b[12:16])
	h.Dst = binary.BigEndian.Uint32(b[16:20])
	if h.Fragmented() {
		return h, ihl, ErrIPFragmented
	}
	return h, ihl, nil
}

func PutIPv4Header(b []byte, h IPv4Header) {
	b[0] = 0x40 | (IPv4HeaderLen / 4) // version 4, IHL 5
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.FlagsFO)
	b[8] = h.TTL
	b[9] = h.Proto
	binary.BigEndian.PutUint16(b[10:12], 0) // checksum filled by FillIPv4Checksum
	binary.BigEndian.PutUint32(b[12:16], h.Src)
	binary.BigEndian.PutUint32(b[16:20], h.Dst)
	FillIPv4Checksum(b[:IPv4HeaderLen])
}

// TCPHeader is the fixed 20-byte TCP header, excluding options.
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	DataOff  byte // header length in 32-bit words, including options
	Flags    TCPFlags
	Window   uint16
	Checksum uint16
	Urgent   uint16
}

type TCPFlags byte

const (
	FlagFIN TCPFlags = 1 << 0
	FlagSYN TCPFlags = 1 << 1
	FlagRST TCPFlags = 1 << 2
	FlagPSH TCPFlags = 1 << 3
	FlagACK TCPFlags = 1 << 4
	FlagURG TCPFlags = 1 << 5
)

func (f TCPFlags) Has(bit TCPFlags) bool { return f&bit != 0 }

// ParseTCPHeader parses the fixed 20-byte header; the caller slices out the
// option bytes separately using DataOff.
func ParseTCPHeader(b []byte) (TCPHeader, error) {
	var h TCPHeader
	if len(b) < TCPHeaderLen {
		return h, ErrShortFrame
	}
	h.SrcPort = binary.BigEndian.Uint16(b[0:2])
	h.DstPort = binary.BigEndian.Uint16(b[2:4])
	h.Seq = binary.BigEndian.Uint32(b[4:8])
	h.Ack = binary.BigEndian.Uint32(b[8:12])
	h.DataOff = (b[12] >> 4) * 4
	h.Flags = TCPFlags(b[13] & 0x3F)
	h.Window = binary.BigEndian.Uint16(b[14:16])
	h.Checksum = binary.BigEndian.Uint16(b[16:18])
	h.Urgent = binary.BigEndian.Uint16(b[18:20])
	return h, nil
}

func PutTCPHeader(b []byte, h TCPHeader) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = (h.DataOff / 4) << 4
	b[13] = byte(h.Flags)
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	binary.BigEndian.PutUint16(b[16:18], 0) // checksum filled by caller (needs pseudo header)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
}

// Frame is a parsed Ethernet/IPv4/TCP frame with the option bytes and
// payload left as slices into the original buffer (no copy).
type Frame struct {
	Eth     EthHeader
	IP      IPv4Header
	TCP     TCPHeader
	Options []byte
	Payload []byte
	IfIndex int
}

// ParseFrame validates length/consistency (spec §4.1 step 1) and parses all
// three headers plus the option block. Checksum verification is the
// caller's responsibility (NIC offload may have already validated it).
func ParseFrame(b []byte, ifIndex int) (Frame, error) {
	var f Frame
	var err error
	f.IfIndex = ifIndex
	f.Eth, err = ParseEthHeader(b)
	if err != nil {
		return f, err
	}
	if f.Eth.Proto != EtherTypeIPv4 {
		return f, ErrNotIPv4
	}
	ipBytes := b[EthHeaderLen:]
	ihl := 0
	f.IP, ihl, err = ParseIPv4Header(ipBytes)
	if err != nil {
		return f, err
	}
	if int(f.IP.TotalLen) != len(ipBytes) {
		// be lenient about trailing link-layer padding, strict about shortfall
		if int(f.IP.TotalLen) > len(ipBytes) {
			return f, ErrBadIPLen
		}
		ipBytes = ipBytes[:f.IP.TotalLen]
	}
	tcpBytes := ipBytes[ihl:]
	f.TCP, err = ParseTCPHeader(tcpBytes)
	if err != nil {
		return f, err
	}
	if int(f.TCP.DataOff) < TCPHeaderLen || int(f.TCP.DataOff) > len(tcpBytes) {
		return f, ErrBadIPLen
	}
	f.Options = tcpBytes[TCPHeaderLen:f.TCP.DataOff]
	f.Payload = tcpBytes[f.TCP.DataOff:]
	return f, nil
}
