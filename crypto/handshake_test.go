package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T) (StaticKeyPair, IdentityKeyPair) {
	t.Helper()
	static, err := GenerateStaticKeyPair()
	require.NoError(t, err)
	identity, err := GenerateIdentityKeyPair()
	require.NoError(t, err)
	return static, identity
}

func runHandshake(t *testing.T) (Keys, Keys) {
	t.Helper()
	iStatic, iIdentity := newTestPeer(t)
	rStatic, rIdentity := newTestPeer(t)

	initiator, err := NewHandshake(Initiator, iStatic, iIdentity)
	require.NoError(t, err)
	responder, err := NewHandshake(Responder, rStatic, rIdentity)
	require.NoError(t, err)

	m1 := initiator.WriteMessage1()
	require.NoError(t, responder.ReadMessage1(m1))

	m2, err := responder.WriteMessage2()
	require.NoError(t, err)
	require.NoError(t, initiator.ReadMessage2(m2))

	m3, err := initiator.WriteMessage3()
	require.NoError(t, err)
	require.NoError(t, responder.ReadMessage3(m3))

	return initiator.Split(), responder.Split()
}

func TestHandshake_CompletesAndDerivesOrientedKeys(t *testing.T) {
	iKeys, rKeys := runHandshake(t)

	require.Equal(t, iKeys.Send, rKeys.Recv, "initiator's send key must be the responder's receive key")
	require.Equal(t, iKeys.Recv, rKeys.Send, "initiator's receive key must be the responder's send key")
	require.Equal(t, iKeys.Transcript, rKeys.Transcript, "both sides must agree on the final transcript hash")
}

func TestHandshake_RejectsWrongSuite(t *testing.T) {
	_, identity := newTestPeer(t)
	static, _ := newTestPeer(t)
	responder, err := NewHandshake(Responder, static, identity)
	require.NoError(t, err)

	m1 := Message1{Suite: CipherSuiteV1 + 1}
	err = responder.ReadMessage1(m1)
	require.Error(t, err)
}

func TestHandshake_Message3RejectsForgedSignature(t *testing.T) {
	iStatic, iIdentity := newTestPeer(t)
	rStatic, rIdentity := newTestPeer(t)

	initiator, err := NewHandshake(Initiator, iStatic, iIdentity)
	require.NoError(t, err)
	responder, err := NewHandshake(Responder, rStatic, rIdentity)
	require.NoError(t, err)

	m1 := initiator.WriteMessage1()
	require.NoError(t, responder.ReadMessage1(m1))
	m2, err := responder.WriteMessage2()
	require.NoError(t, err)
	require.NoError(t, initiator.ReadMessage2(m2))

	m3, err := initiator.WriteMessage3()
	require.NoError(t, err)
	m3.Signature[0] ^= 0xFF

	err = responder.ReadMessage3(m3)
	require.Error(t, err)
}

func TestPacketCipher_SealOpenRoundTrip(t *testing.T) {
	iKeys, rKeys := runHandshake(t)

	initiatorCipher, err := NewPacketCipher(iKeys)
	require.NoError(t, err)
	responderCipher, err := NewPacketCipher(rKeys)
	require.NoError(t, err)

	header := []byte("fixed-header-bytes")
	payload := []byte("steady state media shard")

	sealed := initiatorCipher.Seal(nil, header, payload, 1)
	opened, err := responderCipher.Open(nil, header, sealed, 1, false, time.Now())
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

func TestPacketCipher_OpenRejectsTamperedCiphertext(t *testing.T) {
	iKeys, rKeys := runHandshake(t)

	initiatorCipher, err := NewPacketCipher(iKeys)
	require.NoError(t, err)
	responderCipher, err := NewPacketCipher(rKeys)
	require.NoError(t, err)

	header := []byte("fixed-header-bytes")
	sealed := initiatorCipher.Seal(nil, header, []byte("payload"), 1)
	sealed[0] ^= 0xFF

	_, err = responderCipher.Open(nil, header, sealed, 1, false, time.Now())
	require.Error(t, err)
}

func TestPacketCipher_RekeyKeepsRetiredEpochOpenableWithinGrace(t *testing.T) {
	iKeys, rKeys := runHandshake(t)

	initiatorCipher, err := NewPacketCipher(iKeys)
	require.NoError(t, err)
	responderCipher, err := NewPacketCipher(rKeys)
	require.NoError(t, err)

	header := []byte("fixed-header-bytes")
	inflight := initiatorCipher.Seal(nil, header, []byte("sent just before rekey"), 7)

	now := time.Now()
	require.NoError(t, initiatorCipher.Rekey(iKeys, now))
	require.NoError(t, responderCipher.Rekey(rKeys, now))

	opened, err := responderCipher.Open(nil, header, inflight, 7, initiatorCipher.EpochParity(), now)
	require.NoError(t, err)
	require.Equal(t, []byte("sent just before rekey"), opened)
}

func TestPacketCipher_OpenFailsOnceRetiredEpochExpires(t *testing.T) {
	iKeys, rKeys := runHandshake(t)

	initiatorCipher, err := NewPacketCipher(iKeys)
	require.NoError(t, err)
	responderCipher, err := NewPacketCipher(rKeys)
	require.NoError(t, err)

	header := []byte("fixed-header-bytes")
	inflight := initiatorCipher.Seal(nil, header, []byte("stale packet"), 3)

	now := time.Now()
	require.NoError(t, responderCipher.Rekey(rKeys, now))

	past := now.Add(RekeyGraceDuration + time.Second)
	_, err = responderCipher.Open(nil, header, inflight, 3, false, past)
	require.Error(t, err)
}
