package transport

import (
	"crypto/ed25519"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// relayEnvelopeTag marks a datagram as relay-wrapped rather than a bare
// RIFT packet, distinguishing the two on the wire per §4.7.
const relayEnvelopeTag = 0x01

// relayHeaderSize is the tag byte plus a 16-byte lease id.
const relayHeaderSize = 1 + 16

// Lease authorizes one session to use a relay for a bounded time,
// signed by the relay operator's identity key so a compromised client
// cannot mint its own leases (§4.7: "relay fallback uses a signed
// lease, not an open proxy").
type Lease struct {
	ID        uuid.UUID
	ExpiresAt time.Time
	Signature []byte // over ID || ExpiresAt(unix, 8 bytes BE)
}

func (l Lease) signingBytes() []byte {
	b := make([]byte, 16+8)
	copy(b, l.ID[:])
	putUint64BE(b[16:], uint64(l.ExpiresAt.Unix()))
	return b
}

func putUint64BE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

// SignLease is called by the relay operator when issuing a lease to a
// session (out of scope for the peer binary, used by relay tooling and
// by tests standing in for one).
func SignLease(priv ed25519.PrivateKey, id uuid.UUID, expiresAt time.Time) Lease {
	l := Lease{ID: id, ExpiresAt: expiresAt}
	l.Signature = ed25519.Sign(priv, l.signingBytes())
	return l
}

// VerifyLease checks a lease's signature and expiry against the
// relay's known public key.
func VerifyLease(pub ed25519.PublicKey, l Lease, now time.Time) error {
	if now.After(l.ExpiresAt) {
		return rifterr.New(rifterr.RelayUnavailable)
	}
	if !ed25519.Verify(pub, l.signingBytes(), l.Signature) {
		return rifterr.New(rifterr.RelayUnavailable)
	}
	return nil
}

// WrapRelay prefixes a RIFT datagram with the relay envelope tag and
// lease id so the relay can forward without inspecting payload bytes.
func WrapRelay(leaseID uuid.UUID, datagram []byte) []byte {
	out := make([]byte, relayHeaderSize+len(datagram))
	out[0] = relayEnvelopeTag
	copy(out[1:17], leaseID[:])
	copy(out[relayHeaderSize:], datagram)
	return out
}

// UnwrapRelay strips the envelope, returning the lease id and inner
// datagram. ok is false if buf isn't a relay envelope (a bare RIFT
// packet never has 0x01 as its first byte, since every RIFT header
// starts with the magic byte 0x5A).
func UnwrapRelay(buf []byte) (leaseID uuid.UUID, datagram []byte, ok bool) {
	if len(buf) < relayHeaderSize || buf[0] != relayEnvelopeTag {
		return uuid.UUID{}, nil, false
	}
	copy(leaseID[:], buf[1:17])
	return leaseID, buf[relayHeaderSize:], true
}

// RelayClient forwards datagrams through a relay endpoint using a
// held lease, substituting for direct peer-to-peer send once STUN
// traversal has failed (§4.7).
type RelayClient struct {
	ep        *Endpoint
	relayAddr net.Addr
	lease     Lease
}

func NewRelayClient(ep *Endpoint, relayAddr net.Addr, lease Lease) *RelayClient {
	return &RelayClient{ep: ep, relayAddr: relayAddr, lease: lease}
}

func (r *RelayClient) Send(datagram []byte) error {
	return r.ep.Send(WrapRelay(r.lease.ID, datagram), r.relayAddr)
}

// LeaseExpired reports whether the held lease is no longer usable,
// prompting the session to ask SignalChannel for a fresh one.
func (r *RelayClient) LeaseExpired(now time.Time) bool {
	return now.After(r.lease.ExpiresAt)
}
