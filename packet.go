// Package riftnet implements the RIFT transport: a packet-oriented,
// end-to-end encrypted, FEC-protected, delay-controlled session protocol
// for latency-first interactive streaming over UDP.
package riftnet

import (
	"encoding/binary"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// Wire constants (§6).
const (
	Magic      byte = 0x5A
	Version    byte = 0x01
	HeaderSize      = 30
	TagSize         = 16 // AEAD tag appended after the ciphertext
	MTU             = 1200
)

// PacketType identifies the datagram's role on the wire (§3).
type PacketType byte

const (
	PacketHandshake1 PacketType = iota + 1
	PacketHandshake2
	PacketHandshake3
	PacketDataMedia
	PacketDataInput
	PacketDataControl
	PacketParity
	PacketFeedback
	PacketKeepalive
	PacketBye
)

func (t PacketType) String() string {
	switch t {
	case PacketHandshake1:
		return "HANDSHAKE_1"
	case PacketHandshake2:
		return "HANDSHAKE_2"
	case PacketHandshake3:
		return "HANDSHAKE_3"
	case PacketDataMedia:
		return "DATA_MEDIA"
	case PacketDataInput:
		return "DATA_INPUT"
	case PacketDataControl:
		return "DATA_CONTROL"
	case PacketParity:
		return "PARITY"
	case PacketFeedback:
		return "FEEDBACK"
	case PacketKeepalive:
		return "KEEPALIVE"
	case PacketBye:
		return "BYE"
	default:
		return "UNKNOWN"
	}
}

// Flags bit layout (§6).
type Flags byte

const (
	FlagEpochHigh        Flags = 0x01
	FlagMarkerEndOfFrame  Flags = 0x02
	FlagKeyframe          Flags = 0x04
	flagsReservedMask     Flags = 0xF8
)

// Header is the 30-byte plaintext packet header (§3). PacketID doubles as
// the AEAD nonce input and the replay key; it must never repeat within a
// session's epoch.
type Header struct {
	Type         PacketType
	Flags        Flags
	SessionIDLow uint64
	PacketID     uint64
	GroupID      uint32
	ShardIndex   uint16
	ShardCount   uint16
	PayloadLen   uint16
}

// Encode writes the header in place into buf[:HeaderSize]. buf must be at
// least HeaderSize bytes; no allocation occurs.
func (h *Header) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return rifterr.New(rifterr.MalformedPacket)
	}
	buf[0] = Magic
	buf[1] = Version
	buf[2] = byte(h.Type)
	buf[3] = byte(h.Flags)
	binary.BigEndian.PutUint64(buf[4:12], h.SessionIDLow)
	binary.BigEndian.PutUint64(buf[12:20], h.PacketID)
	binary.BigEndian.PutUint32(buf[20:24], h.GroupID)
	binary.BigEndian.PutUint16(buf[24:26], h.ShardIndex)
	binary.BigEndian.PutUint16(buf[26:28], h.ShardCount)
	binary.BigEndian.PutUint16(buf[28:30], h.PayloadLen)
	return nil
}

// DecodeHeader parses and validates the header from the front of a
// datagram, per §4.1's invariants. On success it returns the header and
// the bytes after the header (the AEAD ciphertext+tag), a subslice of buf —
// no copy is made.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	if buf[0] != Magic {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	if buf[1] != Version {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	h.Type = PacketType(buf[2])
	h.Flags = Flags(buf[3])
	if h.Flags&flagsReservedMask != 0 {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	h.SessionIDLow = binary.BigEndian.Uint64(buf[4:12])
	h.PacketID = binary.BigEndian.Uint64(buf[12:20])
	h.GroupID = binary.BigEndian.Uint32(buf[20:24])
	h.ShardIndex = binary.BigEndian.Uint16(buf[24:26])
	h.ShardCount = binary.BigEndian.Uint16(buf[26:28])
	h.PayloadLen = binary.BigEndian.Uint16(buf[28:30])

	if h.ShardCount != 0 && h.ShardIndex >= h.ShardCount {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	rest := buf[HeaderSize:]
	if int(h.PayloadLen) != len(rest) {
		return h, nil, rifterr.New(rifterr.MalformedPacket)
	}
	return h, rest, nil
}

// HeaderBytes re-encodes h into the supplied scratch buffer, for use as
// AEAD associated data. scratch must be at least HeaderSize bytes.
func (h *Header) HeaderBytes(scratch []byte) []byte {
	_ = h.Encode(scratch)
	return scratch[:HeaderSize]
}
