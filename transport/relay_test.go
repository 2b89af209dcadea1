package transport

import (
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLease_SignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id := uuid.New()
	lease := SignLease(priv, id, time.Now().Add(time.Hour))

	require.NoError(t, VerifyLease(pub, lease, time.Now()))
}

func TestLease_VerifyRejectsExpired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	lease := SignLease(priv, uuid.New(), time.Now().Add(-time.Minute))
	require.Error(t, VerifyLease(pub, lease, time.Now()))
}

func TestLease_VerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	lease := SignLease(priv, uuid.New(), time.Now().Add(time.Hour))
	lease.Signature[0] ^= 0xFF
	require.Error(t, VerifyLease(pub, lease, time.Now()))
}

func TestWrapUnwrapRelay_RoundTrip(t *testing.T) {
	id := uuid.New()
	inner := []byte("bare rift datagram")

	wrapped := WrapRelay(id, inner)
	gotID, gotInner, ok := UnwrapRelay(wrapped)
	require.True(t, ok)
	require.Equal(t, id, gotID)
	require.Equal(t, inner, gotInner)
}

func TestUnwrapRelay_RejectsNonEnvelope(t *testing.T) {
	_, _, ok := UnwrapRelay([]byte{0x02, 1, 2, 3})
	require.False(t, ok)
}

func TestRelayClient_LeaseExpiredTracksLeaseExpiry(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	ep := NewEndpoint(conn)

	lease := Lease{ID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}
	client := NewRelayClient(ep, a, lease)

	require.False(t, client.LeaseExpired(time.Now()))
	require.True(t, client.LeaseExpired(time.Now().Add(2*time.Hour)))
}
