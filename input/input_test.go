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

package input

import (
	"testing"

	"github.com/cloudwego/tcpcore/driver"
	"github.com/cloudwego/tcpcore/flowtable"
	"github.com/cloudwego/tcpcore/output"
	"github.com/cloudwego/tcpcore/stream"
	"github.com/cloudwego/tcpcore/timers"
	"github.com/cloudwego/tcpcore/wire"
	"github.com/stretchr/testify/require"
)

const (
	testOurIP     = 0x0A000001
	testOurPort   = 80
	testClientIP  = 0x0A000002
	testClientPrt = 40000
)

var (
	ourMAC    = wire.MAC{1, 1, 1, 1, 1, 1}
	clientMAC = wire.MAC{2, 2, 2, 2, 2, 2}
)

type fakeAcceptQueue struct {
	offered []*stream.Stream
	reject  bool
}

func (q *fakeAcceptQueue) Offer(s *stream.Stream) bool {
	if q.reject {
		return false
	}
	q.offered = append(q.offered, s)
	return true
}

type fakeListeners struct {
	queue *fakeAcceptQueue
	port  uint16
}

func (l *fakeListeners) Lookup(daddr uint32, dport uint16) (AcceptQueue, bool) {
	if l.queue == nil || dport != l.port {
		return nil, false
	}
	return l.queue, true
}

type fakeReadiness struct {
	events map[uint32]uint32
}

func (r *fakeReadiness) Raise(streamID uint32, events uint32) {
	if r.events == nil {
		r.events = make(map[uint32]uint32)
	}
	r.events[streamID] |= events
}

func newTestContext(lq *fakeAcceptQueue) (*Context, *driver.Fake, *fakeReadiness) {
	fd := driver.NewFake(0)
	rd := &fakeReadiness{}
	ctx := &Context{
		Flows:     flowtable.New[*stream.Stream](16),
		Listeners: &fakeListeners{queue: lq, port: testOurPort},
		Readiness: rd,
		Output:    &output.Lists{},
		RTO:       timers.NewRTOWheel[*stream.Stream](64),
		TimeWait:  &timers.ExpiryFIFO[*stream.Stream]{},
		Idle:      &timers.ExpiryFIFO[*stream.Stream]{},
		Driver:    fd,
		Builder:   &output.Builder{},
		Eps:       output.Endpoints{SrcMAC: ourMAC},
		LocalIP:   testOurIP,
		Params: Params{
			MSS:           1460,
			RecvBufSize:   64 * 1024,
			SendBufSize:   64 * 1024,
			RTOMin:        200,
			InitCwndSegs:  4,
			MaxNRTX:       8,
			TimeWaitTicks: 1000,
			SACKPermit:    true,
		},
	}
	return ctx, fd, rd
}

func buildFrame(seg output.Segment) []byte {
	b := &output.Builder{}
	buf := make([]byte, b.Len(seg))
	b.Build(buf, seg)
	return buf
}

func clientSynFrame(seq uint32) []byte {
	return buildFrame(output.Segment{
		Eps:     output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP:   testClientIP,
		DstIP:   testOurIP,
		SrcPort: testClientPrt,
		DstPort: testOurPort,
		Seq:     seq,
		Flags:   wire.FlagSYN,
		Window:  65535,
		Options: wire.Options{HasMSS: true, MSS: 1460},
	})
}

func TestProcessFrameSynMissWithoutListenerSendsRSTACK(t *testing.T) {
	ctx, fd, _ := newTestContext(nil)
	ctx.Listeners = &fakeListeners{} // nothing bound

	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	require.NoError(t, fd.TxFlush())
	require.Len(t, fd.Sent, 1)

	f, err := wire.ParseFrame(fd.Sent[0], 0)
	require.NoError(t, err)
	require.True(t, f.TCP.Flags.Has(wire.FlagRST))
	require.True(t, f.TCP.Flags.Has(wire.FlagACK))
	require.EqualValues(t, 1001, f.TCP.Ack)
	require.Equal(t, 0, ctx.Flows.Count())
}

func TestProcessFrameSynWithListenerCreatesSynRcvdStream(t *testing.T) {
	lq := &fakeAcceptQueue{}
	ctx, _, _ := newTestContext(lq)

	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	require.Equal(t, 1, ctx.Flows.Count())
	require.Equal(t, 1, ctx.Output.ControlLen())

	s, ok := ctx.Flows.Lookup(flowtable.Key{
		LocalIP: testOurIP, RemoteIP: testClientIP,
		LocalPort: testOurPort, RemotePort: testClientPrt,
	})
	require.True(t, ok)
	require.Equal(t, stream.StateSynRcvd, s.State)
	require.EqualValues(t, 1001, s.RcvNxt)
	require.Equal(t, clientMAC, wire.MAC(s.PeerMAC))
}

func TestHandshakeCompletesAndOffersAccept(t *testing.T) {
	lq := &fakeAcceptQueue{}
	ctx, _, rd := newTestContext(lq)

	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	s, _ := ctx.Flows.Lookup(flowtable.Key{
		LocalIP: testOurIP, RemoteIP: testClientIP,
		LocalPort: testOurPort, RemotePort: testClientPrt,
	})
	iss := s.Send.ISS

	ackFrame := buildFrame(output.Segment{
		Eps:     output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP:   testClientIP,
		DstIP:   testOurIP,
		SrcPort: testClientPrt,
		DstPort: testOurPort,
		Seq:     1001,
		Ack:     iss + 1,
		Flags:   wire.FlagACK,
		Window:  65535,
	})
	require.NoError(t, ctx.ProcessFrame(ackFrame, 0, 2))

	require.Equal(t, stream.StateEstablished, s.State)
	require.Len(t, lq.offered, 1)
	require.NotZero(t, rd.events[s.ID]&readinessOut)
}

func TestEstablishedDataDeliversAndAcks(t *testing.T) {
	lq := &fakeAcceptQueue{}
	ctx, _, rd := newTestContext(lq)
	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	s, _ := ctx.Flows.Lookup(flowtable.Key{
		LocalIP: testOurIP, RemoteIP: testClientIP,
		LocalPort: testOurPort, RemotePort: testClientPrt,
	})
	iss := s.Send.ISS
	ackFrame := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 1, Flags: wire.FlagACK, Window: 65535,
	})
	require.NoError(t, ctx.ProcessFrame(ackFrame, 0, 2))

	dataFrame := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 1, Flags: wire.FlagACK | wire.FlagPSH,
		Window: 65535, Payload: []byte("hello"),
	})
	require.NoError(t, ctx.ProcessFrame(dataFrame, 0, 3))

	require.EqualValues(t, 1006, s.RcvNxt)
	require.NotZero(t, rd.events[s.ID]&readinessIn)
	require.Equal(t, 1, ctx.Output.AckLen())
}

func TestTripleDupAckTriggersFastRetransmit(t *testing.T) {
	lq := &fakeAcceptQueue{}
	ctx, _, _ := newTestContext(lq)
	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	s, _ := ctx.Flows.Lookup(flowtable.Key{
		LocalIP: testOurIP, RemoteIP: testClientIP,
		LocalPort: testOurPort, RemotePort: testClientPrt,
	})
	iss := s.Send.ISS
	ackFrame := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 1, Flags: wire.FlagACK, Window: 65535,
	})
	require.NoError(t, ctx.ProcessFrame(ackFrame, 0, 2))

	// Queue 10 bytes of outstanding data, only half of which the next ACK
	// below covers, so sndUna stays behind sndNxt (outstanding) for the
	// duplicate ACKs that follow.
	s.Send.SendBuf.Write([]byte("helloworld"))
	s.Send.SendBuf.MarkSent(10)

	partialAck := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 6, Flags: wire.FlagACK, Window: 65535,
	})
	require.NoError(t, ctx.ProcessFrame(partialAck, 0, 3))
	require.EqualValues(t, iss+6, s.Send.SndUna)
	require.NotEqual(t, s.Send.SendBuf.SndNxt(), s.Send.SndUna, "data must still be outstanding")

	dupAck := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 6, Flags: wire.FlagACK, Window: 65535,
	})
	nrtxBefore := s.Send.NRTX
	for i := 0; i < 3; i++ {
		require.NoError(t, ctx.ProcessFrame(dupAck, 0, uint64(4+i)))
	}

	require.EqualValues(t, 3, s.Recv.DupAcks)
	require.Equal(t, nrtxBefore+1, s.Send.NRTX, "third dup ack must trigger exactly one fast retransmit")
	require.Equal(t, 1, ctx.Output.SendLen(), "fast retransmit must re-queue the stream for output")
	require.EqualValues(t, iss+6, s.Send.SendBuf.SndNxt(), "Rewind must roll sndNxt back to the duplicated ack")
}

func TestUnmatchedRSTOnEstablishedTearsDownWithErrEvent(t *testing.T) {
	lq := &fakeAcceptQueue{}
	ctx, _, rd := newTestContext(lq)
	destroyed := false
	ctx.Destroy = func(s *stream.Stream) { destroyed = true }

	require.NoError(t, ctx.ProcessFrame(clientSynFrame(1000), 0, 1))
	s, _ := ctx.Flows.Lookup(flowtable.Key{
		LocalIP: testOurIP, RemoteIP: testClientIP,
		LocalPort: testOurPort, RemotePort: testClientPrt,
	})
	iss := s.Send.ISS
	ackFrame := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 1, Flags: wire.FlagACK, Window: 65535,
	})
	require.NoError(t, ctx.ProcessFrame(ackFrame, 0, 2))

	rstFrame := buildFrame(output.Segment{
		Eps: output.Endpoints{SrcMAC: clientMAC, DstMAC: ourMAC},
		SrcIP: testClientIP, DstIP: testOurIP,
		SrcPort: testClientPrt, DstPort: testOurPort,
		Seq: 1001, Ack: iss + 1, Flags: wire.FlagRST, Window: 65535,
	})
	require.NoError(t, ctx.ProcessFrame(rstFrame, 0, 3))

	require.True(t, destroyed)
	require.NotZero(t, rd.events[s.ID]&readinessErr)
}

func TestSegmentAcceptable(t *testing.T) {
	require.True(t, segmentAcceptable(100, 1000, 100, 50))
	require.True(t, segmentAcceptable(100, 1000, 50, 100))
	require.False(t, segmentAcceptable(100, 1000, 2000, 10))
	require.True(t, segmentAcceptable(100, 0, 100, 0))
	require.False(t, segmentAcceptable(100, 0, 101, 0))
}
