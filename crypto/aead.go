package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// RekeyGraceDuration is how long a retiring epoch's keys are kept around
// to tolerate inflight packets after a rekey (§4.2).
const RekeyGraceDuration = 2 * time.Second

// RekeyEpochPackets is the packet-count threshold that forces a rekey
// even absent congestion or an operator-requested REKEY (§3: "rotated
// on epoch rollover, every 2^32 packets").
const RekeyEpochPackets = 1 << 32

// MaxConsecutiveIntegrityFailures and the window in which they must occur
// before a session is torn down with IntegrityExceeded (§4.2, §7).
const (
	MaxConsecutiveIntegrityFailures = 32
	IntegrityFailureWindow          = 2 * time.Second
)

// epochKeys bundles one epoch's send/receive AEAD instances.
type epochKeys struct {
	epoch     uint32
	sendAEAD  cipher.AEAD
	recvAEAD  cipher.AEAD
	retiredAt time.Time // zero while still current
}

func newEpochAEAD(keys Keys, epoch uint32) (epochKeys, error) {
	send, err := chacha20poly1305.New(keys.Send[:])
	if err != nil {
		return epochKeys{}, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	recv, err := chacha20poly1305.New(keys.Recv[:])
	if err != nil {
		return epochKeys{}, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return epochKeys{epoch: epoch, sendAEAD: send, recvAEAD: recv}, nil
}

// PacketCipher owns the current and (briefly) retiring epoch's send and
// receive keys for one session and performs the per-packet AEAD seal/open
// described in §4.2. It is single-owner: no internal locking.
type PacketCipher struct {
	current epochKeys
	retired *epochKeys // nil unless a rekey is within its grace period
}

func NewPacketCipher(keys Keys) (*PacketCipher, error) {
	cur, err := newEpochAEAD(keys, 0)
	if err != nil {
		return nil, err
	}
	return &PacketCipher{current: cur}, nil
}

// Rekey installs new keys as the current epoch, retaining the previous
// epoch for RekeyGraceDuration so inflight packets still open correctly.
func (pc *PacketCipher) Rekey(keys Keys, now time.Time) error {
	next, err := newEpochAEAD(keys, pc.current.epoch+1)
	if err != nil {
		return err
	}
	retiring := pc.current
	retiring.retiredAt = now
	pc.retired = &retiring
	pc.current = next
	return nil
}

// expireRetired drops the retired epoch once its grace period has
// elapsed; called opportunistically from Open.
func (pc *PacketCipher) expireRetired(now time.Time) {
	if pc.retired != nil && now.Sub(pc.retired.retiredAt) > RekeyGraceDuration {
		pc.retired = nil
	}
}

// nonce constructs the 12-byte ChaCha20-Poly1305 nonce as
// session_epoch(4) ‖ packet_id(8) (§4.2).
func nonce(epoch uint32, packetID uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint32(n[0:4], epoch)
	binary.BigEndian.PutUint64(n[4:12], packetID)
	return n
}

// EpochParity returns the low bit of the current epoch, written into the
// packet's FlagEpochHigh bit so the receiver knows which key to try
// first (§4.2 step 2).
func (pc *PacketCipher) EpochParity() bool {
	return pc.current.epoch&1 != 0
}

// Seal encrypts payload in place into dst (which must have capacity for
// len(payload)+TagSize), using headerBytes as associated data and the
// current epoch's send key.
func (pc *PacketCipher) Seal(dst, headerBytes, payload []byte, packetID uint64) []byte {
	n := nonce(pc.current.epoch, packetID)
	return pc.current.sendAEAD.Seal(dst[:0], n[:], payload, headerBytes)
}

// CurrentEpoch reports the epoch used for outgoing Seal calls.
func (pc *PacketCipher) CurrentEpoch() uint32 { return pc.current.epoch }

// Open decrypts ciphertext (payload+tag) using headerBytes as associated
// data. epochHigh selects which of the two in-flight epochs to try, per
// the high bit of the packet's flags; it tries the matching-parity key
// first, falling back across the boundary so a rekey in flight doesn't
// manifest as a burst of spurious integrity failures.
func (pc *PacketCipher) Open(dst, headerBytes, ciphertext []byte, packetID uint64, epochHigh bool, now time.Time) ([]byte, error) {
	pc.expireRetired(now)

	tryOrder := []*epochKeys{&pc.current}
	if pc.retired != nil {
		tryOrder = append(tryOrder, pc.retired)
	}
	// Prefer the epoch whose parity the sender advertised.
	if len(tryOrder) == 2 && (pc.current.epoch&1 != 0) != epochHigh {
		tryOrder[0], tryOrder[1] = tryOrder[1], tryOrder[0]
	}

	var lastErr error
	for _, ek := range tryOrder {
		n := nonce(ek.epoch, packetID)
		pt, err := ek.recvAEAD.Open(dst[:0], n[:], ciphertext, headerBytes)
		if err == nil {
			return pt, nil
		}
		lastErr = err
	}
	return nil, rifterr.Wrap(rifterr.IntegrityFailure, lastErr)
}
