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

// Package cc implements Reno congestion control, the Jacobson/Karels RTT
// estimator, and the ExternalPolicy hook an out-of-process congestion
// controller (mtcp's libccp integration) can plug into in place of the
// built-in Reno state machine (spec §4.2, §9 supplemental feature).
package cc

// RTTEstimator implements RFC 6298's Jacobson/Karels smoothing, matching
// mtcp's EstimateRTT bit-for-bit (srtt/mdev are kept left-shifted by 3 and
// 2 respectively, exactly as the C struct does, so RTO derives from them
// with a plain shift instead of a floating-point divide).
type RTTEstimator struct {
	SRTT    uint32 // smoothed RTT, scaled << 3
	Mdev    uint32 // scaled << 2
	MdevMax uint32
	RTTVar  uint32
	RTTSeq  uint32

	rtoMin uint32
}

// NewRTTEstimator builds an estimator with the given minimum RTO floor
// (ticks); mtcp hardcodes this to 0 (TCP_RTO_MIN), kept as a field so
// Config can override it.
func NewRTTEstimator(rtoMin uint32) *RTTEstimator {
	return &RTTEstimator{rtoMin: rtoMin}
}

// Sample feeds one non-retransmitted RTT measurement (mrtt, in ticks) into
// the estimator. sndUna and sndNxt let the caller decide whether rttvar
// should be resynced this round (TCP_SEQ_GT(snd_una, rtt_seq) in the
// original).
func (e *RTTEstimator) Sample(mrtt int64, sndUna, sndNxt uint32) {
	if mrtt == 0 {
		mrtt = 1
	}
	m := mrtt

	if e.SRTT != 0 {
		m -= int64(e.SRTT >> 3)
		e.SRTT = uint32(int64(e.SRTT) + m)
		if m < 0 {
			m = -m
			m -= int64(e.Mdev >> 2)
			if m > 0 {
				m >>= 3
			}
		} else {
			m -= int64(e.Mdev >> 2)
		}
		e.Mdev = uint32(int64(e.Mdev) + m)
		if e.Mdev > e.MdevMax {
			e.MdevMax = e.Mdev
			if e.MdevMax > e.RTTVar {
				e.RTTVar = e.MdevMax
			}
		}
		if seqGT(sndUna, e.RTTSeq) {
			if e.MdevMax < e.RTTVar {
				e.RTTVar -= (e.RTTVar - e.MdevMax) >> 2
			}
			e.RTTSeq = sndNxt
			e.MdevMax = e.rtoMin
		}
	} else {
		e.SRTT = uint32(m << 3)
		e.Mdev = uint32(m << 1)
		e.MdevMax = max32(uint32(m), e.rtoMin)
		e.RTTVar = e.MdevMax
		e.RTTSeq = sndNxt
	}
}

// RTO derives the retransmission timeout (ticks) from the current
// estimate: (srtt >> 3) + rttvar, same formula as ProcessACK.
func (e *RTTEstimator) RTO() uint32 {
	return (e.SRTT >> 3) + e.RTTVar
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// seqGT reports whether a is strictly ahead of b in the 32-bit sequence
// space (RFC 793 wraparound-safe comparison).
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }

func seqLT(a, b uint32) bool { return int32(a-b) < 0 }

func seqGEQ(a, b uint32) bool { return int32(a-b) >= 0 }
