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

package stream

import "github.com/cloudwego/tcpcore/wire"

// SackTable is the small fixed-size SACK block table kept per stream
// (original_source's sack_table), bounded to wire.MaxSACKBlocks (4), the
// most the 40-byte TCP option space can carry without a timestamp; the
// engine's option builder sends one fewer alongside a timestamp.
type SackTable struct {
	blocks []wire.SACKBlock
}

// Update replaces the table with the given blocks, most-recent-first,
// truncated to the option-space budget.
func (t *SackTable) Update(blocks []wire.SACKBlock) {
	if len(blocks) > wire.MaxSACKBlocks {
		blocks = blocks[:wire.MaxSACKBlocks]
	}
	t.blocks = append(t.blocks[:0], blocks...)
}

// Blocks returns the current SACK ranges to emit in the next outgoing
// segment's option block.
func (t *SackTable) Blocks() []wire.SACKBlock { return t.blocks }

// Clear empties the table, e.g. once the hole it described has been filled.
func (t *SackTable) Clear() { t.blocks = t.blocks[:0] }
