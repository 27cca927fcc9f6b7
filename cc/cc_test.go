package cc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenoSlowStart(t *testing.T) {
	r := NewReno(1460, 2)
	require.EqualValues(t, 2920, r.Cwnd())

	r.OnNewAck(1460, 1)
	require.EqualValues(t, 2920+1460, r.Cwnd())
}

func TestRenoTripleDupAckCutsWindow(t *testing.T) {
	r := NewReno(1460, 10)
	r.SetPeerWindow(65535)
	before := r.Cwnd()
	r.OnTripleDupAck()
	require.Less(t, r.Ssthresh(), before)
	require.Equal(t, r.Ssthresh()+3*1460, r.Cwnd())
}

func TestRenoSsthreshFloor(t *testing.T) {
	r := NewReno(1460, 1)
	r.SetPeerWindow(100) // tiny peer window forces the 2*mss floor
	r.OnTripleDupAck()
	require.EqualValues(t, 2*1460, r.Ssthresh())
}

func TestRenoCongestionAvoidance(t *testing.T) {
	r := NewReno(1460, 2)
	r.ssthresh = 1000 // force past slow start
	before := r.Cwnd()
	r.OnNewAck(1460, 1)
	require.Greater(t, r.Cwnd(), before)
}

func TestRenoRTOExpire(t *testing.T) {
	r := NewReno(1460, 10)
	r.OnRTOExpire()
	require.EqualValues(t, 1460, r.Cwnd())
	require.EqualValues(t, 14600/2, r.Ssthresh())
}

func TestRenoRTOExpireSsthreshFloor(t *testing.T) {
	r := NewReno(1460, 1) // cwnd starts at 1*mss, below the 2*mss floor
	r.OnRTOExpire()
	require.EqualValues(t, 1460, r.Cwnd())
	require.EqualValues(t, 2*1460, r.Ssthresh())
}

func TestRTTEstimatorFreshSample(t *testing.T) {
	e := NewRTTEstimator(0)
	e.Sample(100, 1000, 1100)
	require.EqualValues(t, 800, e.SRTT)
	require.Greater(t, e.RTO(), uint32(0))
}

func TestRTTEstimatorSubsequentSampleSmooths(t *testing.T) {
	e := NewRTTEstimator(0)
	e.Sample(100, 1000, 1100)
	first := e.SRTT
	e.Sample(50, 1200, 1300)
	require.NotEqual(t, first, e.SRTT)
}
