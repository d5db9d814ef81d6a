package mesh

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/protocol"
)

// EnvelopeVersion is the current wire version.
const EnvelopeVersion uint16 = 1

// MsgKind discriminates envelope payloads.
type MsgKind uint8

// Message kinds.
const (
	MsgProposal MsgKind = iota
	MsgVote
	MsgEvidence
	MsgSyncRequest
	MsgSyncResponse
	MsgCommit

	numMsgKinds
)

var msgKindNames = [...]string{
	"proposal", "vote", "evidence", "sync-request", "sync-response", "commit",
}

// String returns the kind name for logs.
func (k MsgKind) String() string {
	if int(k) < len(msgKindNames) {
		return msgKindNames[k]
	}
	return "unknown"
}

// MsgID identifies a logical message: the first 16 bytes of the hash of
// its complete payload. All fragments of one message share the id.
type MsgID [16]byte

// ComputeMsgID derives the id for a complete payload.
func ComputeMsgID(payload []byte) MsgID {
	h := crypto.Hash(payload)
	var id MsgID
	copy(id[:], h[:16])
	return id
}

// Envelope is one wire frame:
//
//	u16 version | u8 kind | u16 fragment_index | u16 fragment_count
//	| u128 msg_id | sender (32B) | u16 game_id_len | game_id
//	| u32 payload_len | payload | u16 sig_len | signature
//
// Fixed-width big-endian integers throughout. The signature covers
// every preceding field, so a forwarded frame cannot be altered in
// flight.
type Envelope struct {
	Version   uint16
	Kind      MsgKind
	FragIndex uint16
	FragCount uint16
	MsgID     MsgID
	Sender    protocol.PeerID
	GameID    protocol.GameID
	Payload   []byte
	Signature []byte
}

// maxEnvelopePayload bounds a single frame's payload on decode.
const maxEnvelopePayload = 1 << 20

func (e *Envelope) signingBytes() []byte {
	buf := make([]byte, 0, 64+len(e.Payload))
	var u16buf [2]byte
	var u32buf [4]byte

	binary.BigEndian.PutUint16(u16buf[:], e.Version)
	buf = append(buf, u16buf[:]...)
	buf = append(buf, byte(e.Kind))
	binary.BigEndian.PutUint16(u16buf[:], e.FragIndex)
	buf = append(buf, u16buf[:]...)
	binary.BigEndian.PutUint16(u16buf[:], e.FragCount)
	buf = append(buf, u16buf[:]...)
	buf = append(buf, e.MsgID[:]...)
	buf = append(buf, e.Sender[:]...)
	binary.BigEndian.PutUint16(u16buf[:], uint16(len(e.GameID)))
	buf = append(buf, u16buf[:]...)
	buf = append(buf, e.GameID[:]...)
	binary.BigEndian.PutUint32(u32buf[:], uint32(len(e.Payload)))
	buf = append(buf, u32buf[:]...)
	buf = append(buf, e.Payload...)
	return buf
}

// Sign signs the frame with the sender's key.
func (e *Envelope) Sign(priv ed25519.PrivateKey) {
	e.Signature = crypto.Sign(priv, e.signingBytes())
}

// VerifySignature checks the frame signature under pub.
func (e *Envelope) VerifySignature(pub ed25519.PublicKey) bool {
	return crypto.Verify(pub, e.signingBytes(), e.Signature)
}

// Encode returns the full frame bytes.
func (e *Envelope) Encode() []byte {
	body := e.signingBytes()
	var u16buf [2]byte
	binary.BigEndian.PutUint16(u16buf[:], uint16(len(e.Signature)))
	body = append(body, u16buf[:]...)
	body = append(body, e.Signature...)
	return body
}

// DecodeEnvelope parses one frame. Malformed frames are rejected with
// ErrMalformed and never reach the engine.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	off := 0

	need := func(n int) bool { return off+n <= len(b) }
	malformed := func(what string) error {
		return protocol.NewRuleError(protocol.ErrMalformed, "frame: %s", what)
	}

	if !need(2 + 1 + 2 + 2 + 16 + 32 + 2) {
		return nil, malformed("truncated header")
	}
	e.Version = binary.BigEndian.Uint16(b[off:])
	off += 2
	if e.Version != EnvelopeVersion {
		return nil, malformed("unsupported version")
	}
	e.Kind = MsgKind(b[off])
	off++
	if e.Kind >= numMsgKinds {
		return nil, malformed("unknown kind")
	}
	e.FragIndex = binary.BigEndian.Uint16(b[off:])
	off += 2
	e.FragCount = binary.BigEndian.Uint16(b[off:])
	off += 2
	if e.FragCount == 0 || e.FragIndex >= e.FragCount {
		return nil, malformed("bad fragment indices")
	}
	copy(e.MsgID[:], b[off:])
	off += 16
	copy(e.Sender[:], b[off:])
	off += 32
	gameLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if gameLen != len(e.GameID) || !need(gameLen) {
		return nil, malformed("bad game id length")
	}
	copy(e.GameID[:], b[off:])
	off += gameLen

	if !need(4) {
		return nil, malformed("truncated payload length")
	}
	payloadLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if payloadLen > maxEnvelopePayload || !need(payloadLen) {
		return nil, malformed("bad payload length")
	}
	e.Payload = append([]byte(nil), b[off:off+payloadLen]...)
	off += payloadLen

	if !need(2) {
		return nil, malformed("truncated signature length")
	}
	sigLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if sigLen != crypto.SignatureSize || !need(sigLen) {
		return nil, malformed("bad signature length")
	}
	e.Signature = append([]byte(nil), b[off:off+sigLen]...)
	off += sigLen

	if off != len(b) {
		return nil, malformed("trailing bytes")
	}
	return &e, nil
}
