package riftnet

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

// EncodeHandshake1/2/3 serialize the crypto package's handshake
// messages for transport as the payload of HANDSHAKE_{1,2,3} packets
// (§6: "handshake messages carry static public key, ephemeral public
// key..."). CBOR is used for every structured payload on the wire, the
// same choice the session makes for FEEDBACK (§6).
func EncodeHandshake1(m crypto.Message1) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return b, nil
}

func DecodeHandshake1(payload []byte) (crypto.Message1, error) {
	var m crypto.Message1
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return crypto.Message1{}, rifterr.Wrap(rifterr.MalformedPacket, err)
	}
	return m, nil
}

func EncodeHandshake2(m crypto.Message2) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return b, nil
}

func DecodeHandshake2(payload []byte) (crypto.Message2, error) {
	var m crypto.Message2
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return crypto.Message2{}, rifterr.Wrap(rifterr.MalformedPacket, err)
	}
	return m, nil
}

func EncodeHandshake3(m crypto.Message3) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.HandshakeFailure, err)
	}
	return b, nil
}

func DecodeHandshake3(payload []byte) (crypto.Message3, error) {
	var m crypto.Message3
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return crypto.Message3{}, rifterr.Wrap(rifterr.MalformedPacket, err)
	}
	return m, nil
}

// FeedbackReport is the FEEDBACK packet payload (§6): one summary of a
// 50ms batch of one-way-delay samples plus FEC outcomes, fed to
// delta.Controller.Evaluate on the sender side.
type FeedbackReport struct {
	ReportID               uint32  `cbor:"report_id"`
	HighestObservedPacketID uint64 `cbor:"highest_observed_packet_id"`
	EWMAOwdUS              uint32  `cbor:"ewma_owd_us"`
	TrendSlopeQ16          int32   `cbor:"trend_slope_q16"`
	Recovered              uint32  `cbor:"recovered"`
	Lost                   uint32  `cbor:"lost"`
}

func EncodeFeedback(r FeedbackReport) ([]byte, error) {
	b, err := cbor.Marshal(r)
	if err != nil {
		return nil, rifterr.Wrap(rifterr.MalformedPacket, err)
	}
	return b, nil
}

func DecodeFeedback(payload []byte) (FeedbackReport, error) {
	var r FeedbackReport
	if err := cbor.Unmarshal(payload, &r); err != nil {
		return FeedbackReport{}, rifterr.Wrap(rifterr.MalformedPacket, err)
	}
	return r, nil
}
