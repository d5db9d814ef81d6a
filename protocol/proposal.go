package protocol

import (
	"crypto/ed25519"
	"sort"

	"github.com/bitcraps/bitcraps/crypto"
)

// Proposal is a candidate batch of operations extending the committed
// chain at a specific sequence number. The id is the hash of the
// canonical encoding with the signature cleared, so any peer recomputes
// the same id from the same content.
type Proposal struct {
	ID         StateHash
	Proposer   PeerID
	GameID     GameID
	ParentHash StateHash
	Sequence   uint64
	Operations []GameOperation
	Timestamp  uint64
	Signature  []byte
}

// signingBytes is the canonical encoding with id and signature excluded.
func (p *Proposal) signingBytes() []byte {
	var e encoder
	e.game(p.GameID)
	e.peer(p.Proposer)
	e.hash(p.ParentHash)
	e.u64(p.Sequence)
	e.u64(p.Timestamp)
	e.raw(EncodeOperations(p.Operations))
	return e.bytes()
}

// ComputeID returns the content hash of the proposal.
func (p *Proposal) ComputeID() StateHash {
	return StateHash(crypto.Hash(p.signingBytes()))
}

// Sign sets the proposal id and signs the canonical content.
func (p *Proposal) Sign(priv ed25519.PrivateKey) {
	p.ID = p.ComputeID()
	p.Signature = crypto.Sign(priv, p.signingBytes())
}

// VerifySignature checks the id matches the content and the signature
// verifies under pub.
func (p *Proposal) VerifySignature(pub ed25519.PublicKey) bool {
	if p.ID != p.ComputeID() {
		return false
	}
	return crypto.Verify(pub, p.signingBytes(), p.Signature)
}

// HeadAfter is the head hash the chain will have once this proposal
// commits on parent.
func (p *Proposal) HeadAfter() StateHash {
	return HashOperations(p.ParentHash, p.Operations)
}

// EncodeProposal returns the canonical wire encoding of p.
func EncodeProposal(p *Proposal) []byte {
	var e encoder
	e.hash(p.ID)
	e.raw(p.signingBytes())
	e.vbytes(p.Signature)
	return e.bytes()
}

// DecodeProposal parses a canonical proposal.
func DecodeProposal(b []byte) (*Proposal, error) {
	d := newDecoder(b)
	var p Proposal
	p.ID = d.hash()
	p.GameID = d.game()
	p.Proposer = d.peer()
	p.ParentHash = d.hash()
	p.Sequence = d.u64()
	p.Timestamp = d.u64()
	p.Operations = decodeOperationList(d)
	p.Signature = d.vbytes()
	if err := d.done(); err != nil {
		return nil, err
	}
	return &p, nil
}

// VoteDecision is a voter's verdict on a proposal.
type VoteDecision uint8

// Vote decisions.
const (
	VoteAccept VoteDecision = iota
	VoteReject
)

// String returns the decision name for logs.
func (v VoteDecision) String() string {
	if v == VoteAccept {
		return "ACCEPT"
	}
	return "REJECT"
}

// Vote is a voter's signed verdict on one proposal. GameID and Sequence
// are carried so that two votes by the same voter at the same height on
// different proposal ids are self-evident equivocation.
type Vote struct {
	ProposalID StateHash
	GameID     GameID
	Sequence   uint64
	Voter      PeerID
	Decision   VoteDecision
	Timestamp  uint64
	Signature  []byte
}

// signingBytes is the canonical encoding with the signature excluded.
func (v *Vote) signingBytes() []byte {
	var e encoder
	e.hash(v.ProposalID)
	e.game(v.GameID)
	e.u64(v.Sequence)
	e.peer(v.Voter)
	e.u8(uint8(v.Decision))
	e.u64(v.Timestamp)
	return e.bytes()
}

// Sign signs the canonical vote content.
func (v *Vote) Sign(priv ed25519.PrivateKey) {
	v.Signature = crypto.Sign(priv, v.signingBytes())
}

// VerifySignature checks the vote's signature under pub.
func (v *Vote) VerifySignature(pub ed25519.PublicKey) bool {
	return crypto.Verify(pub, v.signingBytes(), v.Signature)
}

// EncodeVote returns the canonical wire encoding of v.
func EncodeVote(v *Vote) []byte {
	var e encoder
	e.raw(v.signingBytes())
	e.vbytes(v.Signature)
	return e.bytes()
}

// DecodeVote parses a canonical vote.
func DecodeVote(b []byte) (*Vote, error) {
	d := newDecoder(b)
	var v Vote
	v.ProposalID = d.hash()
	v.GameID = d.game()
	v.Sequence = d.u64()
	v.Voter = d.peer()
	v.Decision = VoteDecision(d.u8())
	v.Timestamp = d.u64()
	v.Signature = d.vbytes()
	if err := d.done(); err != nil {
		return nil, err
	}
	if v.Decision != VoteAccept && v.Decision != VoteReject {
		return nil, NewRuleError(ErrMalformed, "unknown vote decision %d", v.Decision)
	}
	return &v, nil
}

// Commit is a proposal id plus the quorum of Accept votes that commits
// it. It is deterministic from the vote set: any peer holding the same
// quorum constructs the same commit.
type Commit struct {
	ProposalID StateHash
	GameID     GameID
	Sequence   uint64
	Votes      []Vote
}

// EncodeCommit returns the canonical wire encoding of c. Votes are
// sorted by voter id so every holder of the same quorum produces the
// same bytes.
func EncodeCommit(c *Commit) []byte {
	var e encoder
	e.hash(c.ProposalID)
	e.game(c.GameID)
	e.u64(c.Sequence)
	votes := append([]Vote(nil), c.Votes...)
	sort.Slice(votes, func(i, j int) bool { return votes[i].Voter.Less(votes[j].Voter) })
	e.u16(uint16(len(votes)))
	for _, v := range votes {
		vv := v
		e.raw(EncodeVote(&vv))
	}
	return e.bytes()
}

// DecodeCommit parses a canonical commit.
func DecodeCommit(b []byte) (*Commit, error) {
	d := newDecoder(b)
	var c Commit
	c.ProposalID = d.hash()
	c.GameID = d.game()
	c.Sequence = d.u64()
	n := d.u16()
	if d.err == nil && n > maxListLen {
		return nil, NewRuleError(ErrMalformed, "commit vote count %d exceeds bound", n)
	}
	for i := 0; i < int(n) && d.err == nil; i++ {
		var v Vote
		v.ProposalID = d.hash()
		v.GameID = d.game()
		v.Sequence = d.u64()
		v.Voter = d.peer()
		v.Decision = VoteDecision(d.u8())
		v.Timestamp = d.u64()
		v.Signature = d.vbytes()
		c.Votes = append(c.Votes, v)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &c, nil
}
