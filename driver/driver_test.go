package driver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeImplementsDriver(t *testing.T) {
	var _ Driver = (*Fake)(nil)
}

func TestFakeRxInjectAndDrain(t *testing.T) {
	f := NewFake(RXTCPChecksum)
	f.Inject([]byte("frame one"))
	f.Inject([]byte("frame two"))

	out := make([][]byte, 1)
	n, err := f.RxBatch(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "frame one", string(out[0]))

	n, err = f.RxBatch(out)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "frame two", string(out[0]))

	n, err = f.RxBatch(out)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestFakeTxReservationsFlushInOrder(t *testing.T) {
	f := NewFake(TXTCPIPChecksum)
	b1, err := f.GetWptr(10)
	require.NoError(t, err)
	copy(b1, "0123456789")

	b2, err := f.GetWptr(4)
	require.NoError(t, err)
	copy(b2, "abcd")

	require.NoError(t, f.TxFlush())
	require.Len(t, f.Sent, 2)
	require.Equal(t, "0123456789", string(f.Sent[0]))
	require.Equal(t, "abcd", string(f.Sent[1]))
}

func TestCapabilityBitmask(t *testing.T) {
	c := RXTCPChecksum | TXTCPIPChecksum
	require.NotZero(t, c&RXTCPChecksum)
	require.NotZero(t, c&TXTCPIPChecksum)
}
