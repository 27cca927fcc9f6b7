package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecvRingInOrderPut(t *testing.T) {
	r := NewRecvRing(4096, 1000)
	n, err := r.Put([]byte("hello"), 1000)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 5, r.MergedLen())
	require.EqualValues(t, 1000, r.HeadSeq())

	buf := make([]byte, 5)
	got := r.Read(buf)
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(buf))
}

func TestRecvRingOutOfOrderMerge(t *testing.T) {
	r := NewRecvRing(4096, 1000)

	// segment 2 arrives first (gap at the head)
	n, err := r.Put([]byte("world"), 1005)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 0, r.MergedLen()) // still a gap at head

	// segment 1 fills the gap; the two fragments should merge
	n, err = r.Put([]byte("hello"), 1000)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 10, r.MergedLen())

	buf := make([]byte, 10)
	r.Read(buf)
	require.Equal(t, "helloworld", string(buf))
}

func TestRecvRingDuplicateDropped(t *testing.T) {
	r := NewRecvRing(4096, 1000)
	_, err := r.Put([]byte("hello"), 1000)
	require.NoError(t, err)
	r.Remove(5)

	n, err := r.Put([]byte("hello"), 1000) // already consumed
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRecvRingFullRejected(t *testing.T) {
	r := NewRecvRing(8, 1000)
	_, err := r.Put(make([]byte, 16), 1000)
	require.ErrorIs(t, err, ErrRingFull)
}

func TestRecvRingRemoveAdvancesHead(t *testing.T) {
	r := NewRecvRing(4096, 1000)
	r.Put([]byte("abcdef"), 1000)
	n := r.Remove(3)
	require.EqualValues(t, 3, n)
	require.EqualValues(t, 1003, r.HeadSeq())
	require.EqualValues(t, 3, r.MergedLen())

	buf := make([]byte, 3)
	r.Read(buf)
	require.Equal(t, "def", string(buf))
}

func TestSendRingWriteAckRetransmit(t *testing.T) {
	s := NewSendRing(0, 500)
	s.Write([]byte("payload"))
	require.Equal(t, 7, s.Buffered())
	require.Equal(t, []byte("payload"), s.Unsent())

	s.MarkSent(7)
	require.EqualValues(t, 507, s.SndNxt())
	require.Empty(t, s.Unsent())

	seg := s.RetransmitFrom(500, 0)
	require.Equal(t, []byte("payload"), seg)

	s.Ack(504)
	require.EqualValues(t, 504, s.SndUna())
	require.Equal(t, 3, s.Buffered())
}
