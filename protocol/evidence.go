package protocol

import (
	"fmt"

	"github.com/bitcraps/bitcraps/crypto"
)

// EvidenceKind classifies a proof of Byzantine action.
type EvidenceKind uint8

// Evidence kinds.
const (
	// EvidenceDoubleVote: two signed votes by the same voter at the same
	// (game, seq) on different proposal ids.
	EvidenceDoubleVote EvidenceKind = iota

	// EvidenceDoubleProposal: two signed proposals by the same proposer
	// extending the same parent at the same sequence.
	EvidenceDoubleProposal

	// EvidenceBadReveal: a dice reveal whose hash does not match the
	// peer's stored commitment.
	EvidenceBadReveal

	// EvidenceDoubleCommit: two distinct dice commitments by the same
	// peer for the same roll nonce.
	EvidenceDoubleCommit

	// EvidenceOverdraft: a committed-path proposal whose operations
	// overdraw the proposer's account.
	EvidenceOverdraft

	numEvidenceKinds
)

var evidenceKindNames = map[EvidenceKind]string{
	EvidenceDoubleVote:     "double-vote",
	EvidenceDoubleProposal: "double-proposal",
	EvidenceBadReveal:      "bad-reveal",
	EvidenceDoubleCommit:   "double-commit",
	EvidenceOverdraft:      "overdraft",
}

// String returns the evidence kind name for logs.
func (k EvidenceKind) String() string {
	if s, ok := evidenceKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("evidence-%d", uint8(k))
}

// Valid reports whether k is a known evidence kind.
func (k EvidenceKind) Valid() bool { return k < numEvidenceKinds }

// EvidenceRecord is a cryptographic proof of misbehavior. First and
// Second hold the canonical encodings of the two conflicting signed
// artifacts (or the single offending one for reveals), so any peer can
// re-verify the proof without trusting the reporter. Records are
// content-addressed and gossiped; the offender is excluded from the
// participant set at the next commit boundary.
type EvidenceRecord struct {
	Kind      EvidenceKind
	Offender  PeerID
	GameID    GameID
	Sequence  uint64
	First     []byte
	Second    []byte
	Timestamp uint64
}

// canonical returns the canonical encoding of the record.
func (ev *EvidenceRecord) canonical() []byte {
	var e encoder
	e.u8(uint8(ev.Kind))
	e.peer(ev.Offender)
	e.game(ev.GameID)
	e.u64(ev.Sequence)
	e.vbytes(ev.First)
	e.vbytes(ev.Second)
	e.u64(ev.Timestamp)
	return e.bytes()
}

// ID returns the content address of the record.
func (ev *EvidenceRecord) ID() StateHash {
	return StateHash(crypto.Hash(ev.canonical()))
}

// less orders evidence records canonically by (offender, kind, id).
func (ev *EvidenceRecord) less(o *EvidenceRecord) bool {
	if ev.Offender != o.Offender {
		return ev.Offender.Less(o.Offender)
	}
	if ev.Kind != o.Kind {
		return ev.Kind < o.Kind
	}
	a, b := ev.ID(), o.ID()
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// EncodeEvidence returns the canonical wire encoding of ev.
func EncodeEvidence(ev *EvidenceRecord) []byte {
	return ev.canonical()
}

// DecodeEvidence parses a canonical evidence record.
func DecodeEvidence(b []byte) (*EvidenceRecord, error) {
	d := newDecoder(b)
	var ev EvidenceRecord
	ev.Kind = EvidenceKind(d.u8())
	if d.err == nil && !ev.Kind.Valid() {
		return nil, NewRuleError(ErrMalformed, "unknown evidence kind %d", ev.Kind)
	}
	ev.Offender = d.peer()
	ev.GameID = d.game()
	ev.Sequence = d.u64()
	ev.First = d.vbytes()
	ev.Second = d.vbytes()
	ev.Timestamp = d.u64()
	if err := d.done(); err != nil {
		return nil, err
	}
	return &ev, nil
}
