package protocol

import (
	"bytes"
	"encoding/hex"

	"github.com/bitcraps/bitcraps/crypto"
)

// PeerID is the 32-byte identifier of a peer, derived from its public
// key at identity generation. It is the authoritative ownership handle
// across all components.
type PeerID [32]byte

// PeerIDFromBytes copies b into a PeerID. Short or long input is an error
// for the caller to make; this helper truncates or zero-pads nothing.
func PeerIDFromBytes(b []byte) (PeerID, bool) {
	var id PeerID
	if len(b) != len(id) {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Less reports whether p sorts lexicographically before q. The smallest
// connected participant is the designated proposer during a view change.
func (p PeerID) Less(q PeerID) bool {
	return bytes.Compare(p[:], q[:]) < 0
}

// String returns a short hex form for logs.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:4])
}

// GameID is the 16-byte identifier of a game instance, chosen by the
// proposer of the game at creation.
type GameID [16]byte

// String returns a short hex form for logs.
func (g GameID) String() string {
	return hex.EncodeToString(g[:4])
}

// StateHash is a 32-byte protocol hash: a head hash, a proposal id or a
// dice commitment.
type StateHash [32]byte

// String returns a short hex form for logs.
func (h StateHash) String() string {
	return hex.EncodeToString(h[:4])
}

// Entropy is a participant's 32-byte secret contribution to a dice roll.
type Entropy [32]byte

// DiceRoll is the outcome of one two-dice roll. Both dice are in 1..6.
type DiceRoll struct {
	D1 uint8
	D2 uint8
}

// Total returns the sum of both dice.
func (r DiceRoll) Total() uint8 { return r.D1 + r.D2 }

// IsNatural reports whether the roll totals 7 or 11.
func (r DiceRoll) IsNatural() bool {
	t := r.Total()
	return t == 7 || t == 11
}

// IsCraps reports whether the roll totals 2, 3 or 12.
func (r DiceRoll) IsCraps() bool {
	t := r.Total()
	return t == 2 || t == 3 || t == 12
}

// IsHard reports whether both dice show the same face.
func (r DiceRoll) IsHard() bool { return r.D1 == r.D2 }

// Valid reports whether both dice are in range.
func (r DiceRoll) Valid() bool {
	return r.D1 >= 1 && r.D1 <= 6 && r.D2 >= 1 && r.D2 <= 6
}

// HashOperations chains a batch of committed operations onto a head hash:
// H(head || canonical(ops)).
func HashOperations(head StateHash, ops []GameOperation) StateHash {
	return StateHash(crypto.Hash(head[:], EncodeOperations(ops)))
}
