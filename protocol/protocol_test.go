package protocol

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func pid(b byte) PeerID {
	var p PeerID
	for i := range p {
		p[i] = b
	}
	return p
}

func gid(b byte) GameID {
	var g GameID
	for i := range g {
		g[i] = b
	}
	return g
}

func sampleOps() []GameOperation {
	return []GameOperation{
		NewPlaceBet(pid(0xA1), BetPass, 0, 100),
		NewPlaceBet(pid(0xA2), BetHardway, 8, 25),
		NewCommitDice(pid(0xA1), 1, StateHash{1, 2, 3}),
		NewRevealDice(pid(0xA1), 1, Entropy{9, 9, 9}),
		NewResolveRoll(pid(0xA1), 1, DiceRoll{D1: 3, D2: 4}),
		NewTransfer(pid(0xA1), pid(0xA2), 77),
		NewUpdateMembership(pid(0xA1), []PeerID{pid(0xA3)}, []PeerID{pid(0xA2)}),
	}
}

func TestOperationsRoundTrip(t *testing.T) {
	ops := sampleOps()
	decoded, err := DecodeOperations(EncodeOperations(ops))
	require.NoError(t, err)
	require.Equal(t, ops, decoded)
}

func TestDecodeOperationsRejectsGarbage(t *testing.T) {
	_, err := DecodeOperations([]byte{0xff})
	require.ErrorIs(t, err, ErrMalformed)

	// Truncated batch: claims one op, carries none.
	_, err = DecodeOperations([]byte{0x00, 0x01})
	require.ErrorIs(t, err, ErrMalformed)

	// Trailing bytes after a valid batch.
	b := append(EncodeOperations(nil), 0x00)
	_, err = DecodeOperations(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestProposalSignRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	p := &Proposal{
		Proposer:   pid(0xB1),
		GameID:     gid(0x01),
		ParentHash: GenesisHash(gid(0x01), []PeerID{pid(0xB1), pid(0xB2)}),
		Sequence:   1,
		Operations: sampleOps(),
		Timestamp:  1700000000,
	}
	p.Sign(priv)
	require.True(t, p.VerifySignature(pub))

	decoded, err := DecodeProposal(EncodeProposal(p))
	require.NoError(t, err)
	require.Equal(t, p, decoded)
	require.True(t, decoded.VerifySignature(pub))

	// Mutating content breaks the id binding.
	decoded.Sequence = 2
	require.False(t, decoded.VerifySignature(pub))
}

func TestVoteSignRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v := &Vote{
		ProposalID: StateHash{7},
		GameID:     gid(0x02),
		Sequence:   3,
		Voter:      pid(0xC1),
		Decision:   VoteReject,
		Timestamp:  1700000001,
	}
	v.Sign(priv)
	require.True(t, v.VerifySignature(pub))

	decoded, err := DecodeVote(EncodeVote(v))
	require.NoError(t, err)
	require.Equal(t, v, decoded)

	decoded.Decision = VoteAccept
	require.False(t, decoded.VerifySignature(pub))
}

func TestCommitRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	c := &Commit{ProposalID: StateHash{1}, GameID: gid(3), Sequence: 4}
	for i := byte(0); i < 3; i++ {
		v := Vote{
			ProposalID: c.ProposalID,
			GameID:     c.GameID,
			Sequence:   c.Sequence,
			Voter:      pid(i + 1),
			Decision:   VoteAccept,
			Timestamp:  100,
		}
		v.Sign(priv)
		c.Votes = append(c.Votes, v)
	}
	decoded, err := DecodeCommit(EncodeCommit(c))
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

func TestEvidenceRoundTrip(t *testing.T) {
	ev := &EvidenceRecord{
		Kind:      EvidenceDoubleVote,
		Offender:  pid(0xD1),
		GameID:    gid(0x04),
		Sequence:  9,
		First:     []byte{1, 2},
		Second:    []byte{3, 4},
		Timestamp: 42,
	}
	decoded, err := DecodeEvidence(EncodeEvidence(ev))
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
	require.Equal(t, ev.ID(), decoded.ID())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewGenesisState(gid(0x05), []PeerID{pid(3), pid(1), pid(2)})
	s.Sequence = 12
	s.HeadHash = StateHash{0xAB}
	s.Balances[pid(1)] = 900
	s.Balances[pid(2)] = 1100
	s.Balances[pid(3)] = 1000
	s.Phase = PhaseCommitted
	s.RollNonce = 4
	s.Commitments[pid(1)] = StateHash{0x11}
	s.Commitments[pid(2)] = StateHash{0x22}
	s.Point = 6
	s.Bets = []OpenBet{
		{Player: pid(2), Kind: BetField, Amount: 50},
		{Player: pid(1), Kind: BetPass, Amount: 100},
	}
	evidence := []EvidenceRecord{{
		Kind:     EvidenceBadReveal,
		Offender: pid(3),
		GameID:   s.GameID,
		Sequence: 11,
		First:    []byte{0xAA},
	}}

	raw := EncodeSnapshot(s, evidence)
	decoded, decodedEvs, err := DecodeSnapshot(s.GameID, raw)
	require.NoError(t, err)
	require.Equal(t, s.HeadHash, decoded.HeadHash)
	require.Equal(t, s.Sequence, decoded.Sequence)
	require.Equal(t, s.Balances, decoded.Balances)
	require.Equal(t, s.Phase, decoded.Phase)
	require.Equal(t, s.Point, decoded.Point)
	require.Equal(t, SortBets(s.Bets), decoded.Bets)
	require.Equal(t, s.Participants, decoded.Participants)
	require.Equal(t, evidence, decodedEvs)

	// Determinism: same state, same bytes — regardless of map iteration.
	require.Equal(t, raw, EncodeSnapshot(decoded, decodedEvs))
}

func TestGenesisHashIgnoresParticipantOrder(t *testing.T) {
	a := GenesisHash(gid(1), []PeerID{pid(1), pid(2), pid(3)})
	b := GenesisHash(gid(1), []PeerID{pid(3), pid(1), pid(2)})
	require.Equal(t, a, b)

	c := GenesisHash(gid(2), []PeerID{pid(1), pid(2), pid(3)})
	require.NotEqual(t, a, c)
}

func TestQuorum(t *testing.T) {
	s := NewGenesisState(gid(1), []PeerID{pid(1), pid(2), pid(3)})
	require.Equal(t, 3, s.Quorum())

	s = NewGenesisState(gid(1), []PeerID{pid(1), pid(2), pid(3), pid(4), pid(5)})
	require.Equal(t, 4, s.Quorum())

	s = NewGenesisState(gid(1), []PeerID{pid(1), pid(2)})
	require.Equal(t, 2, s.Quorum())
}

func TestDiceCommitmentBindsAllInputs(t *testing.T) {
	base := DiceCommitment(Entropy{1}, pid(1), 1)
	require.NotEqual(t, base, DiceCommitment(Entropy{2}, pid(1), 1))
	require.NotEqual(t, base, DiceCommitment(Entropy{1}, pid(2), 1))
	require.NotEqual(t, base, DiceCommitment(Entropy{1}, pid(1), 2))
	require.Equal(t, base, DiceCommitment(Entropy{1}, pid(1), 1))
}

func TestSortPeersDedup(t *testing.T) {
	out := SortPeers([]PeerID{pid(2), pid(1), pid(2), pid(3)})
	require.Equal(t, []PeerID{pid(1), pid(2), pid(3)}, out)
}
