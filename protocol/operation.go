package protocol

import "fmt"

// OpKind discriminates the GameOperation union.
type OpKind uint8

// Operation kinds.
const (
	OpPlaceBet OpKind = iota
	OpCommitDice
	OpRevealDice
	OpResolveRoll
	OpTransfer
	OpUpdateMembership

	numOpKinds
)

var opKindNames = map[OpKind]string{
	OpPlaceBet:         "place-bet",
	OpCommitDice:       "commit-dice",
	OpRevealDice:       "reveal-dice",
	OpResolveRoll:      "resolve-roll",
	OpTransfer:         "transfer",
	OpUpdateMembership: "update-membership",
}

// String returns the operation kind name for logs.
func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("opkind-%d", uint8(k))
}

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool { return k < numOpKinds }

// GameOperation is one member of the operation sum type carried by a
// proposal. Kind selects which fields are meaningful; Player is always
// the issuing peer.
type GameOperation struct {
	Kind   OpKind
	Player PeerID

	// OpPlaceBet
	BetKind   BetKind
	BetNumber uint8
	Amount    uint64 // also OpTransfer

	// OpCommitDice / OpRevealDice / OpResolveRoll
	RollNonce  uint64
	Commitment StateHash
	Entropy    Entropy
	Roll       DiceRoll

	// OpTransfer
	To PeerID

	// OpUpdateMembership; both sorted ascending
	Added   []PeerID
	Removed []PeerID
}

// NewPlaceBet builds a PlaceBet operation issued by player.
func NewPlaceBet(player PeerID, kind BetKind, number uint8, amount uint64) GameOperation {
	return GameOperation{
		Kind:      OpPlaceBet,
		Player:    player,
		BetKind:   kind,
		BetNumber: number,
		Amount:    amount,
	}
}

// NewCommitDice builds a CommitDice operation for the given roll round.
func NewCommitDice(player PeerID, rollNonce uint64, commitment StateHash) GameOperation {
	return GameOperation{
		Kind:       OpCommitDice,
		Player:     player,
		RollNonce:  rollNonce,
		Commitment: commitment,
	}
}

// NewRevealDice builds a RevealDice operation revealing the entropy
// behind a prior commitment.
func NewRevealDice(player PeerID, rollNonce uint64, entropy Entropy) GameOperation {
	return GameOperation{
		Kind:      OpRevealDice,
		Player:    player,
		RollNonce: rollNonce,
		Entropy:   entropy,
	}
}

// NewResolveRoll builds a ResolveRoll operation carrying the dice derived
// from the round's valid reveals.
func NewResolveRoll(player PeerID, rollNonce uint64, roll DiceRoll) GameOperation {
	return GameOperation{
		Kind:      OpResolveRoll,
		Player:    player,
		RollNonce: rollNonce,
		Roll:      roll,
	}
}

// NewTransfer builds a Transfer operation moving amount from the issuer
// to another account.
func NewTransfer(from, to PeerID, amount uint64) GameOperation {
	return GameOperation{Kind: OpTransfer, Player: from, To: to, Amount: amount}
}

// NewUpdateMembership builds a membership change. Both slices must be
// sorted ascending; the canonical encoder rejects nothing, validation
// does.
func NewUpdateMembership(issuer PeerID, added, removed []PeerID) GameOperation {
	return GameOperation{Kind: OpUpdateMembership, Player: issuer, Added: added, Removed: removed}
}

// DiceCommitment computes the commitment hash a participant publishes in
// the commit phase: H(entropy || peer_id || roll_nonce).
func DiceCommitment(entropy Entropy, peer PeerID, rollNonce uint64) StateHash {
	var nonce [8]byte
	putUint64(nonce[:], rollNonce)
	return hashChunks(entropy[:], peer[:], nonce[:])
}
