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

// TCP option kinds this module understands on parse and emits on build
// (spec §6 "Wire format"). Anything else is skipped over.
const (
	OptKindEnd       = 0
	OptKindNop       = 1
	OptKindMSS       = 2
	OptKindWScale    = 3
	OptKindSACKPerm  = 4
	OptKindSACK      = 5
	OptKindTimestamp = 8
)

const (
	OptLenMSS       = 4
	OptLenWScale    = 3
	OptLenSACKPerm  = 2
	OptLenTimestamp = 10
	MaxSACKBlocks   = 4
)

// SACKBlock is one [Start,End) range reported via the SACK option.
type SACKBlock struct {
	Start uint32
	End   uint32
}

// Options is the decoded form of a segment's TCP option block.
type Options struct {
	HasMSS       bool
	MSS          uint16
	HasWScale    bool
	WScale       byte
	HasSACKPerm  bool
	HasTimestamp bool
	TSVal        uint32
	TSEcr        uint32
	SACK         []SACKBlock
}

// ParseOptions walks the TCP option block and fills in every option this
// module supports. Unknown kinds are skipped using their length byte,
// exactly as RFC 793 requires; a malformed (truncated) option block stops
// parsing early rather than panicking, since it arrives from the network.
func ParseOptions(b []byte) Options {
	var o Options
	i := 0
	for i < len(b) {
		kind := b[i]
		switch kind {
		case OptKindEnd:
			return o
		case OptKindNop:
			i++
			continue
		}
		if i+1 >= len(b) {
			return o
		}
		l := int(b[i+1])
		if l < 2 || i+l > len(b) {
			return o
		}
		switch kind {
		case OptKindMSS:
			if l == OptLenMSS {
				o.HasMSS = true
				o.MSS = binary.BigEndian.Uint16(b[i+2 : i+4])
			}
		case OptKindWScale:
			if l == OptLenWScale {
				o.HasWScale = true
				o.WScale = b[i+2]
			}
		case OptKindSACKPerm:
			if l == OptLenSACKPerm {
				o.HasSACKPerm = true
			}
		case OptKindTimestamp:
			if l == OptLenTimestamp {
				o.HasTimestamp = true
				o.TSVal = binary.BigEndian.Uint32(b[i+2 : i+6])
				o.TSEcr = binary.BigEndian.Uint32(b[i+6 : i+10])
			}
		case OptKindSACK:
			n := (l - 2) / 8
			if n > MaxSACKBlocks {
				n = MaxSACKBlocks
			}
			for k := 0; k < n; k++ {
				off := i + 2 + k*8
				o.SACK = append(o.SACK, SACKBlock{
					Start: binary.BigEndian.Uint32(b[off : off+4]),
					End:   binary.BigEndian.Uint32(b[off+4 : off+8]),
				})
			}
		}
		i += l
	}
	return o
}

// BuildOptions serializes o into dst (which must be big enough — callers
// size it via EncodedLen) and pads with NOPs/END to a 4-byte boundary,
// returning the padded length. This is the single routine that lays out
// emitted option bytes, per spec §4.3.
func BuildOptions(dst []byte, o Options) int {
	i := 0
	if o.HasMSS {
		dst[i], dst[i+1] = OptKindMSS, OptLenMSS
		binary.BigEndian.PutUint16(dst[i+2:i+4], o.MSS)
		i += OptLenMSS
	}
	if o.HasSACKPerm {
		dst[i], dst[i+1] = OptKindSACKPerm, OptLenSACKPerm
		i += OptLenSACKPerm
	}
	if o.HasTimestamp {
		dst[i], dst[i+1] = OptKindTimestamp, OptLenTimestamp
		binary.BigEndian.PutUint32(dst[i+2:i+6], o.TSVal)
		binary.BigEndian.PutUint32(dst[i+6:i+10], o.TSEcr)
		i += OptLenTimestamp
	}
	if o.HasWScale {
		dst[i], dst[i+1], dst[i+2] = OptKindNop, OptKindWScale, OptLenWScale
		dst[i+3] = o.WScale
		i += 1 + OptLenWScale
	}
	if n := len(o.SACK); n > 0 {
		if n > MaxSACKBlocks {
			n = MaxSACKBlocks
		}
		dst[i], dst[i+1] = OptKindNop, OptKindNop
		i += 2
		l := 2 + n*8
		dst[i], dst[i+1] = OptKindSACK, byte(l)
		i += 2
		for k := 0; k < n; k++ {
			binary.BigEndian.PutUint32(dst[i:i+4], o.SACK[k].Start)
			binary.BigEndian.PutUint32(dst[i+4:i+8], o.SACK[k].End)
			i += 8
		}
	}
	for i%4 != 0 {
		dst[i] = OptKindNop
		i++
	}
	return i
}

// EncodedLen returns the padded byte length BuildOptions will write for o.
func EncodedLen(o Options) int {
	n := 0
	if o.HasMSS {
		n += OptLenMSS
	}
	if o.HasSACKPerm {
		n += OptLenSACKPerm
	}
	if o.HasTimestamp {
		n += OptLenTimestamp
	}
	if o.HasWScale {
		n += 1 + OptLenWScale
	}
	if blocks := len(o.SACK); blocks > 0 {
		if blocks > MaxSACKBlocks {
			blocks = MaxSACKBlocks
		}
		n += 2 + 2 + blocks*8
	}
	for n%4 != 0 {
		n++
	}
	return n
}
