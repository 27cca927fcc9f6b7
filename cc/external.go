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

package cc

// EventKind is the kind of ACK-path event ExternalPolicy forwards to an
// out-of-process controller.
type EventKind uint8

const (
	EventNewAck EventKind = iota
	EventTripleDupAck
	EventDupAckAfterTriple
	EventRTOExpire
)

// Event is one notification handed to ExternalPolicy.Notify.
type Event struct {
	Kind    EventKind
	RMLen   uint32
	Packets uint32
}

// ExternalPolicy implements Policy by forwarding every ACK-path event to
// Notify instead of running Reno's arithmetic itself; cwnd/ssthresh are set
// from outside via SetCwnd/SetSsthresh, mirroring mtcp's pluggable
// congestion-control hook (spec §9 supplemental feature: an external
// controller such as a CCP datapath owns the window, this struct only
// relays the signals it needs and exposes whatever the controller last
// decided).
type ExternalPolicy struct {
	Notify func(Event)

	cwnd     uint32
	ssthresh uint32
	peerWnd  uint32
}

// NewExternalPolicy seeds cwnd/ssthresh the same way Reno does, so a
// controller that never calls SetCwnd still gets sane defaults.
func NewExternalPolicy(mss uint32, initCwndSegs uint32) *ExternalPolicy {
	return &ExternalPolicy{
		cwnd:     mss * initCwndSegs,
		ssthresh: 0x7FFFFFFF,
	}
}

func (p *ExternalPolicy) notify(ev Event) {
	if p.Notify != nil {
		p.Notify(ev)
	}
}

func (p *ExternalPolicy) OnNewAck(rmlen uint32, packets uint32) {
	p.notify(Event{Kind: EventNewAck, RMLen: rmlen, Packets: packets})
}

func (p *ExternalPolicy) OnTripleDupAck() { p.notify(Event{Kind: EventTripleDupAck}) }

func (p *ExternalPolicy) OnDupAckAfterTriple() { p.notify(Event{Kind: EventDupAckAfterTriple}) }

func (p *ExternalPolicy) OnRTOExpire() { p.notify(Event{Kind: EventRTOExpire}) }

func (p *ExternalPolicy) Cwnd() uint32     { return p.cwnd }
func (p *ExternalPolicy) Ssthresh() uint32 { return p.ssthresh }

func (p *ExternalPolicy) SetPeerWindow(w uint32) { p.peerWnd = w }
func (p *ExternalPolicy) PeerWindow() uint32     { return p.peerWnd }

// SetCwnd/SetSsthresh let the external controller push its own decisions;
// until called, the seeded defaults from NewExternalPolicy hold.
func (p *ExternalPolicy) SetCwnd(c uint32)     { p.cwnd = c }
func (p *ExternalPolicy) SetSsthresh(s uint32) { p.ssthresh = s }
