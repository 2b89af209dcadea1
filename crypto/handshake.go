// Package crypto implements the RIFT handshake and per-packet AEAD
// envelope (§4.2). The handshake is a three-message mutual key agreement
// in the spirit of Noise's XX pattern: both ephemeral and static Diffie-
// Hellman public keys are exchanged, mixed into a running transcript hash
// and chain key, and the initiator additionally signs the transcript with
// a long-term identity key so HANDSHAKE_3 is non-repudiable. This is not
// an interop-compatible Noise implementation — RIFT defines its own wire
// messages — but it follows the same chain-key/transcript-hash discipline
// WireGuard-style Noise handshakes use.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

const (
	// ProtocolName seeds the initial transcript hash, fixing the cipher
	// suite for v1 (§9: changing it requires a new suite identifier).
	ProtocolName = "RIFT_XX_25519_ChaChaPoly_BLAKE2s_v1"

	// CipherSuiteV1 is the only chosen suite identifier in v1 (§6).
	CipherSuiteV1 uint8 = 1

	KeySize       = chacha20poly1305.KeySize
	PublicKeySize = 32
	PrivateKeySize = 32
	SignatureSize = ed25519.SignatureSize
)

// StaticKeyPair is a long-term X25519 Diffie-Hellman identity.
type StaticKeyPair struct {
	Private [PrivateKeySize]byte
	Public  [PublicKeySize]byte
}

// IdentityKeyPair is the Ed25519 signing identity bound into HANDSHAKE_3.
type IdentityKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

func GenerateStaticKeyPair() (StaticKeyPair, error) {
	var kp StaticKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	clampPrivate(&kp.Private)
	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

func GenerateIdentityKeyPair() (IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return IdentityKeyPair{}, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return IdentityKeyPair{Private: priv, Public: pub}, nil
}

func clampPrivate(k *[PrivateKeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func dh(priv [PrivateKeySize]byte, pub [PublicKeySize]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	copy(out[:], shared)
	return out, nil
}

// Role distinguishes the initiator (client-side) from the responder
// (host-side) of a handshake — determines which derived key is send vs
// receive (§4.2).
type Role int

const (
	Initiator Role = iota
	Responder
)

// HandshakeState drives the three-message exchange. Callers construct one
// per attempted handshake; it is single-use.
type HandshakeState struct {
	role Role

	hash     [blake2s.Size]byte
	chainKey [blake2s.Size]byte

	localEphemeral  StaticKeyPair
	localStatic     StaticKeyPair
	localIdentity   IdentityKeyPair
	remoteEphemeral [PublicKeySize]byte
	remoteStatic    [PublicKeySize]byte

	// PeerIdentity is populated once the peer's identity public key is
	// known (sent in the clear in HANDSHAKE_1), used to verify the
	// HANDSHAKE_3 signature. Acceptance/pinning of unknown identities is
	// the caller's concern (out of scope: persistent identity storage).
	PeerIdentity ed25519.PublicKey
}

// NewHandshake seeds the transcript hash/chain key and generates a fresh
// ephemeral keypair.
func NewHandshake(role Role, static StaticKeyPair, identity IdentityKeyPair) (*HandshakeState, error) {
	hs := &HandshakeState{role: role, localStatic: static, localIdentity: identity}
	hs.hash = blake2s.Sum256([]byte(ProtocolName))
	hs.chainKey = hs.hash

	eph, err := GenerateStaticKeyPair()
	if err != nil {
		return nil, err
	}
	hs.localEphemeral = eph
	return hs, nil
}

func (hs *HandshakeState) mixHash(data ...[]byte) {
	h, _ := blake2s.New256(nil)
	h.Write(hs.hash[:])
	for _, d := range data {
		h.Write(d)
	}
	copy(hs.hash[:], h.Sum(nil))
}

// mixKeyReal runs an HKDF-extract/expand step over the chain key and a DH
// output, producing a new chain key and a derived AEAD key — same shape
// as Noise's MixKey.
func (hs *HandshakeState) mixKeyReal(dhOutput [32]byte) [KeySize]byte {
	kdf := hkdf.New(newBlake2sHash, dhOutput[:], hs.chainKey[:], nil)
	var out [blake2s.Size + KeySize]byte
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		panic(err) // hkdf over a fixed-size reader cannot fail
	}
	copy(hs.chainKey[:], out[:blake2s.Size])
	var key [KeySize]byte
	copy(key[:], out[blake2s.Size:])
	return key
}

func newBlake2sHash() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

func encryptAndHash(key [KeySize]byte, ad []byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func decryptAndHash(key [KeySize]byte, ad []byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return pt, nil
}

// Message1 is sent by the initiator: its ephemeral and identity public
// keys, in the clear (§4.2 three HANDSHAKE_{1,2,3} messages).
type Message1 struct {
	Ephemeral [PublicKeySize]byte
	Identity  ed25519.PublicKey
	Suite     uint8
}

func (hs *HandshakeState) WriteMessage1() Message1 {
	hs.mixHash(hs.localEphemeral.Public[:])
	hs.mixHash(hs.localIdentity.Public)
	return Message1{Ephemeral: hs.localEphemeral.Public, Identity: hs.localIdentity.Public, Suite: CipherSuiteV1}
}

func (hs *HandshakeState) ReadMessage1(m Message1) error {
	if m.Suite != CipherSuiteV1 {
		return rifterr.New(rifterr.HandshakeFailure)
	}
	hs.remoteEphemeral = m.Ephemeral
	hs.mixHash(hs.remoteEphemeral[:])
	hs.mixHash(m.Identity)
	hs.PeerIdentity = m.Identity
	return nil
}

// Message2 is sent by the responder: its ephemeral public key in the
// clear, plus its static public key encrypted under the first derived
// key, which comes from the ephemeral-ephemeral DH (the "ee" step).
type Message2 struct {
	Ephemeral    [PublicKeySize]byte
	StaticCipher []byte
}

func (hs *HandshakeState) WriteMessage2() (Message2, error) {
	hs.mixHash(hs.localEphemeral.Public[:])

	dhEE, err := dh(hs.localEphemeral.Private, hs.remoteEphemeral)
	if err != nil {
		return Message2{}, err
	}
	k1 := hs.mixKeyReal(dhEE)

	cipher, err := encryptAndHash(k1, hs.hash[:], hs.localStatic.Public[:])
	if err != nil {
		return Message2{}, err
	}
	hs.mixHash(cipher)

	dhSE, err := dh(hs.localStatic.Private, hs.remoteEphemeral)
	if err != nil {
		return Message2{}, err
	}
	hs.mixKeyReal(dhSE)

	return Message2{Ephemeral: hs.localEphemeral.Public, StaticCipher: cipher}, nil
}

func (hs *HandshakeState) ReadMessage2(m Message2) error {
	hs.remoteEphemeral = m.Ephemeral
	hs.mixHash(hs.remoteEphemeral[:])

	dhEE, err := dh(hs.localEphemeral.Private, hs.remoteEphemeral)
	if err != nil {
		return err
	}
	k1 := hs.mixKeyReal(dhEE)

	staticBytes, err := decryptAndHash(k1, hs.hash[:], m.StaticCipher)
	if err != nil {
		return rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	hs.mixHash(m.StaticCipher)
	copy(hs.remoteStatic[:], staticBytes)

	dhSE, err := dh(hs.localEphemeral.Private, hs.remoteStatic)
	if err != nil {
		return err
	}
	hs.mixKeyReal(dhSE)
	return nil
}

// Message3 is sent by the initiator: its static public key encrypted
// under the "es" key (initiator ephemeral with responder static), and a signature over the transcript hash with its
// identity key, binding HANDSHAKE_3 to a specific long-term identity.
type Message3 struct {
	StaticCipher []byte
	Signature    []byte
}

func (hs *HandshakeState) WriteMessage3() (Message3, error) {
	dhES, err := dh(hs.localEphemeral.Private, hs.remoteStatic)
	if err != nil {
		return Message3{}, err
	}
	k3 := hs.mixKeyReal(dhES)

	cipher, err := encryptAndHash(k3, hs.hash[:], hs.localStatic.Public[:])
	if err != nil {
		return Message3{}, err
	}
	hs.mixHash(cipher)

	dhSS, err := dh(hs.localStatic.Private, hs.remoteStatic)
	if err != nil {
		return Message3{}, err
	}
	hs.mixKeyReal(dhSS)

	sig := ed25519.Sign(hs.localIdentity.Private, hs.hash[:])
	return Message3{StaticCipher: cipher, Signature: sig}, nil
}

func (hs *HandshakeState) ReadMessage3(m Message3) error {
	dhES, err := dh(hs.localStatic.Private, hs.remoteEphemeral)
	if err != nil {
		return err
	}
	k3 := hs.mixKeyReal(dhES)

	staticBytes, err := decryptAndHash(k3, hs.hash[:], m.StaticCipher)
	if err != nil {
		return rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	hs.mixHash(m.StaticCipher)
	copy(hs.remoteStatic[:], staticBytes)

	dhSS, err := dh(hs.localStatic.Private, hs.remoteStatic)
	if err != nil {
		return err
	}
	hs.mixKeyReal(dhSS)

	if len(hs.PeerIdentity) != ed25519.PublicKeySize {
		return rifterr.New(rifterr.HandshakeFailure)
	}
	if !ed25519.Verify(hs.PeerIdentity, hs.hash[:], m.Signature) {
		return rifterr.New(rifterr.HandshakeFailure)
	}
	return nil
}

// Keys holds the pair of symmetric keys and the transcript hash derived
// once the handshake completes.
type Keys struct {
	Send      [KeySize]byte
	Recv      [KeySize]byte
	Transcript [blake2s.Size]byte
}

// Split derives the final send/receive keys from the chain key,
// orienting them so the initiator's send key is the responder's receive
// key and vice versa.
func (hs *HandshakeState) Split() Keys {
	kdf := hkdf.New(newBlake2sHash, nil, hs.chainKey[:], []byte("rift-split"))
	var out [2 * KeySize]byte
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		panic(err)
	}
	var a, b [KeySize]byte
	copy(a[:], out[:KeySize])
	copy(b[:], out[KeySize:])

	keys := Keys{Transcript: hs.hash}
	if hs.role == Initiator {
		keys.Send, keys.Recv = a, b
	} else {
		keys.Send, keys.Recv = b, a
	}
	return keys
}

// Role reports which side of the handshake hs drove, needed by callers
// that derive later epoch keys without a live HandshakeState (§4.2
// rekey).
func (hs *HandshakeState) Role() Role { return hs.role }

// DeriveEpochKeys derives the send/receive key pair for a given epoch
// directly from the post-handshake transcript, the same way Split
// derives epoch 0's. Because both peers hashed the same three messages
// into an identical transcript, each can compute epoch N's keys on its
// own once it knows N — the REKEY control message only needs to carry
// the target epoch number, never key material (§4.2, §3 "rotated on
// epoch rollover... or on REKEY control").
func DeriveEpochKeys(transcript [blake2s.Size]byte, role Role, epoch uint32) Keys {
	var epochBytes [4]byte
	binary.BigEndian.PutUint32(epochBytes[:], epoch)
	info := append([]byte("rift-rekey"), epochBytes[:]...)

	kdf := hkdf.New(newBlake2sHash, nil, transcript[:], info)
	var out [2 * KeySize]byte
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		panic(err)
	}
	var a, b [KeySize]byte
	copy(a[:], out[:KeySize])
	copy(b[:], out[KeySize:])

	keys := Keys{Transcript: transcript}
	if role == Initiator {
		keys.Send, keys.Recv = a, b
	} else {
		keys.Send, keys.Recv = b, a
	}
	return keys
}

// RemoteStaticPublic exposes the peer's verified static DH public key,
// e.g. for pinning against a previously known identity.
func (hs *HandshakeState) RemoteStaticPublic() [PublicKeySize]byte { return hs.remoteStatic }
