package dice

import (
	"fmt"
	"sync"

	"github.com/bitcraps/bitcraps/protocol"
)

// ErrTooFewReveals is returned when a round closes with fewer than
// MinReveals valid reveals.
type ErrTooFewReveals struct{ Got int }

// Error satisfies the error interface.
func (e ErrTooFewReveals) Error() string {
	return fmt.Sprintf("dice: %d valid reveals, need %d", e.Got, MinReveals)
}

func errTooFewReveals(got int) error { return ErrTooFewReveals{Got: got} }

// Round tracks one commit–reveal roll round for the game manager: who
// has committed, who has revealed, and what misbehavior was observed.
// The committed source of truth lives in the game state; a Round is the
// local bookkeeping that drives deadlines and evidence.
type Round struct {
	mu sync.Mutex

	gameID       protocol.GameID
	nonce        uint64
	participants map[protocol.PeerID]bool

	commitments map[protocol.PeerID]protocol.StateHash
	reveals     map[protocol.PeerID]protocol.Entropy
	excluded    map[protocol.PeerID]bool
}

// NewRound starts bookkeeping for one roll under the given nonce.
func NewRound(gameID protocol.GameID, nonce uint64, participants []protocol.PeerID) *Round {
	parts := make(map[protocol.PeerID]bool, len(participants))
	for _, p := range participants {
		parts[p] = true
	}
	return &Round{
		gameID:       gameID,
		nonce:        nonce,
		participants: parts,
		commitments:  make(map[protocol.PeerID]protocol.StateHash),
		reveals:      make(map[protocol.PeerID]protocol.Entropy),
		excluded:     make(map[protocol.PeerID]bool),
	}
}

// Nonce returns the round's roll nonce.
func (r *Round) Nonce() uint64 { return r.nonce }

// Commit records a commitment. A second, different commitment from the
// same peer for this nonce is slashable: the peer is excluded from the
// roll and an evidence record is returned.
func (r *Round) Commit(peer protocol.PeerID, commitment protocol.StateHash, now uint64) (*protocol.EvidenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.participants[peer] {
		return nil, fmt.Errorf("dice: %s is not a participant of this roll", peer)
	}
	if prev, ok := r.commitments[peer]; ok {
		if prev == commitment {
			return nil, nil // idempotent duplicate
		}
		r.excluded[peer] = true
		ev := &protocol.EvidenceRecord{
			Kind:      protocol.EvidenceDoubleCommit,
			Offender:  peer,
			GameID:    r.gameID,
			Sequence:  r.nonce,
			First:     prev[:],
			Second:    commitment[:],
			Timestamp: now,
		}
		return ev, protocol.NewRuleError(protocol.ErrEquivocation,
			"two distinct dice commitments from %s for nonce %d", peer, r.nonce)
	}
	r.commitments[peer] = commitment
	return nil, nil
}

// Reveal validates an entropy reveal against the stored commitment.
// A mismatch excludes the peer from this roll only and returns the
// evidence; the game continues with the remaining reveals.
func (r *Round) Reveal(peer protocol.PeerID, entropy protocol.Entropy, now uint64) (*protocol.EvidenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commitment, ok := r.commitments[peer]
	if !ok {
		return nil, fmt.Errorf("dice: reveal from %s without a commitment", peer)
	}
	if r.excluded[peer] {
		return nil, fmt.Errorf("dice: %s is excluded from this roll", peer)
	}
	expect := protocol.DiceCommitment(entropy, peer, r.nonce)
	if expect != commitment {
		r.excluded[peer] = true
		ev := &protocol.EvidenceRecord{
			Kind:      protocol.EvidenceBadReveal,
			Offender:  peer,
			GameID:    r.gameID,
			Sequence:  r.nonce,
			First:     commitment[:],
			Second:    entropy[:],
			Timestamp: now,
		}
		return ev, protocol.NewRuleError(protocol.ErrInvalidAgainstState,
			"reveal from %s does not match commitment for nonce %d", peer, r.nonce)
	}
	r.reveals[peer] = entropy
	return nil, nil
}

// CommitCount returns the number of recorded commitments.
func (r *Round) CommitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commitments)
}

// AllCommitted reports whether every participant has committed.
func (r *Round) AllCommitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commitments) == len(r.participants)
}

// AllRevealed reports whether every unexcluded committer has revealed.
func (r *Round) AllRevealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := 0
	for p := range r.commitments {
		if !r.excluded[p] {
			want++
		}
	}
	return want > 0 && len(r.reveals) == want
}

// ValidReveals returns the entropies of every unexcluded revealer.
func (r *Round) ValidReveals() []protocol.Entropy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Entropy, 0, len(r.reveals))
	for p, e := range r.reveals {
		if !r.excluded[p] {
			out = append(out, e)
		}
	}
	return out
}

// Roll closes the round and derives the dice from the valid reveals.
func (r *Round) Roll() (protocol.DiceRoll, error) {
	return RollFromReveals(r.ValidReveals())
}
