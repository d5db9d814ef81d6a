package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/bitcraps/bitcraps/crypto"
)

// The canonical encoding used for everything that gets hashed, signed or
// persisted: fixed-width big-endian integers, length-prefixed byte
// strings, and map entries sorted by key. decode(encode(x)) == x for
// every message, and two implementations must produce identical bytes.

const (
	// maxListLen bounds every length prefix read off the wire so a
	// malformed message cannot make a decoder allocate unboundedly.
	maxListLen = 1 << 14
)

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func hashChunks(chunks ...[]byte) StateHash {
	return StateHash(crypto.Hash(chunks...))
}

// encoder accumulates canonical bytes. Write errors cannot occur on a
// bytes.Buffer, so there is no error plumbing on the write side.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func (e *encoder) u8(v uint8)  { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}
func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}
func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}
func (e *encoder) raw(b []byte) { e.buf.Write(b) }
func (e *encoder) vbytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf.Write(b)
}
func (e *encoder) peer(p PeerID)      { e.raw(p[:]) }
func (e *encoder) game(g GameID)      { e.raw(g[:]) }
func (e *encoder) hash(h StateHash)   { e.raw(h[:]) }
func (e *encoder) entropy(n Entropy)  { e.raw(n[:]) }
func (e *encoder) peers(ps []PeerID) {
	e.u16(uint16(len(ps)))
	for _, p := range ps {
		e.peer(p)
	}
}

// decoder consumes canonical bytes with a sticky error.
type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(b []byte) *decoder { return &decoder{b: b} }

func (d *decoder) fail() {
	if d.err == nil {
		d.err = NewRuleError(ErrMalformed, "truncated canonical encoding at offset %d", d.off)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.b) {
		d.fail()
		return nil
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) vbytes() []byte {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if n > maxListLen {
		d.err = NewRuleError(ErrMalformed, "byte string length %d exceeds bound", n)
		return nil
	}
	b := d.take(int(n))
	if b == nil || n == 0 {
		// An empty string decodes to nil, as peers() does for lists.
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) peer() PeerID {
	var p PeerID
	copy(p[:], d.take(len(p)))
	return p
}

func (d *decoder) game() GameID {
	var g GameID
	copy(g[:], d.take(len(g)))
	return g
}

func (d *decoder) hash() StateHash {
	var h StateHash
	copy(h[:], d.take(len(h)))
	return h
}

func (d *decoder) entropy() Entropy {
	var n Entropy
	copy(n[:], d.take(len(n)))
	return n
}

func (d *decoder) peers() []PeerID {
	n := d.u16()
	if d.err != nil || n == 0 {
		return nil
	}
	if n > maxListLen {
		d.err = NewRuleError(ErrMalformed, "peer list length %d exceeds bound", n)
		return nil
	}
	out := make([]PeerID, 0, n)
	for i := 0; i < int(n); i++ {
		out = append(out, d.peer())
	}
	return out
}

// done reports a decoding error if any read failed or bytes remain.
func (d *decoder) done() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.b) {
		return NewRuleError(ErrMalformed, "%d trailing bytes after canonical value", len(d.b)-d.off)
	}
	return nil
}

// encodeOperation appends one operation to e.
func encodeOperation(e *encoder, op GameOperation) {
	e.u8(uint8(op.Kind))
	e.peer(op.Player)
	switch op.Kind {
	case OpPlaceBet:
		e.u8(uint8(op.BetKind))
		e.u8(op.BetNumber)
		e.u64(op.Amount)
	case OpCommitDice:
		e.u64(op.RollNonce)
		e.hash(op.Commitment)
	case OpRevealDice:
		e.u64(op.RollNonce)
		e.entropy(op.Entropy)
	case OpResolveRoll:
		e.u64(op.RollNonce)
		e.u8(op.Roll.D1)
		e.u8(op.Roll.D2)
	case OpTransfer:
		e.peer(op.To)
		e.u64(op.Amount)
	case OpUpdateMembership:
		e.peers(op.Added)
		e.peers(op.Removed)
	}
}

// decodeOperation reads one operation from d.
func decodeOperation(d *decoder) GameOperation {
	var op GameOperation
	op.Kind = OpKind(d.u8())
	if d.err == nil && !op.Kind.Valid() {
		d.err = NewRuleError(ErrMalformed, "unknown operation kind %d", op.Kind)
		return op
	}
	op.Player = d.peer()
	switch op.Kind {
	case OpPlaceBet:
		op.BetKind = BetKind(d.u8())
		op.BetNumber = d.u8()
		op.Amount = d.u64()
	case OpCommitDice:
		op.RollNonce = d.u64()
		op.Commitment = d.hash()
	case OpRevealDice:
		op.RollNonce = d.u64()
		op.Entropy = d.entropy()
	case OpResolveRoll:
		op.RollNonce = d.u64()
		op.Roll.D1 = d.u8()
		op.Roll.D2 = d.u8()
	case OpTransfer:
		op.To = d.peer()
		op.Amount = d.u64()
	case OpUpdateMembership:
		op.Added = d.peers()
		op.Removed = d.peers()
	}
	return op
}

// EncodeOperations returns the canonical encoding of an operation batch.
func EncodeOperations(ops []GameOperation) []byte {
	var e encoder
	e.u16(uint16(len(ops)))
	for _, op := range ops {
		encodeOperation(&e, op)
	}
	return e.bytes()
}

// DecodeOperations parses a canonical operation batch.
func DecodeOperations(b []byte) ([]GameOperation, error) {
	d := newDecoder(b)
	ops := decodeOperationList(d)
	if err := d.done(); err != nil {
		return nil, err
	}
	return ops, nil
}

func decodeOperationList(d *decoder) []GameOperation {
	n := d.u16()
	if d.err != nil {
		return nil
	}
	if n > maxListLen {
		d.err = NewRuleError(ErrMalformed, "operation count %d exceeds bound", n)
		return nil
	}
	ops := make([]GameOperation, 0, n)
	for i := 0; i < int(n); i++ {
		ops = append(ops, decodeOperation(d))
	}
	return ops
}
