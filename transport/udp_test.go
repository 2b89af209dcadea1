package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bybrooklyn/wavry-sub002/internal/looptest"
)

func TestEndpoint_SendRecvRoundTripOverLooptest(t *testing.T) {
	a, b := looptest.NewPair("a", "b", 0, 0)
	epA := NewEndpoint(a)
	epB := NewEndpoint(b)
	defer epA.Close()
	defer epB.Close()

	require.NoError(t, epA.Send([]byte("hello"), looptest.Addr("b")))

	buf := make([]byte, 16)
	n, from, err := epB.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, looptest.Addr("a"), from)

	require.EqualValues(t, 1, epA.OutPkts)
	require.EqualValues(t, 5, epA.OutBytes)
	require.EqualValues(t, 1, epB.InPkts)
}

func TestEndpoint_SendBatchFallsBackWithoutUDPConn(t *testing.T) {
	a, b := looptest.NewPair("a", "b", 0, 0)
	epA := NewEndpoint(a)
	epB := NewEndpoint(b)
	defer epA.Close()
	defer epB.Close()

	addr := looptest.Addr("b")
	err := epA.SendBatch([][]byte{[]byte("one"), []byte("two")}, []net.Addr{addr, addr})
	require.NoError(t, err, "a non-UDP conn has no batchConn, so SendBatch must fall back to per-packet sends")

	buf := make([]byte, 16)
	n1, _, err := epB.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "one", string(buf[:n1]))

	n2, _, err := epB.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "two", string(buf[:n2]))
}

func TestEndpoint_SendBatchRejectsMismatchedLengths(t *testing.T) {
	a, _ := looptest.NewPair("a", "b", 0, 0)
	epA := NewEndpoint(a)
	defer epA.Close()

	err := epA.SendBatch([][]byte{[]byte("one")}, nil)
	require.Error(t, err)
}
