package consensus

import (
	"bytes"
	"crypto/ed25519"

	"github.com/bitcraps/bitcraps/protocol"
)

// buildVoteEvidence packages two conflicting votes into a verifiable
// record.
func buildVoteEvidence(first, second *protocol.Vote, now uint64) *protocol.EvidenceRecord {
	return &protocol.EvidenceRecord{
		Kind:      protocol.EvidenceDoubleVote,
		Offender:  first.Voter,
		GameID:    first.GameID,
		Sequence:  first.Sequence,
		First:     protocol.EncodeVote(first),
		Second:    protocol.EncodeVote(second),
		Timestamp: now,
	}
}

// buildProposalEvidence packages two conflicting proposals by the same
// proposer at the same height.
func buildProposalEvidence(first, second *protocol.Proposal, now uint64) *protocol.EvidenceRecord {
	return &protocol.EvidenceRecord{
		Kind:      protocol.EvidenceDoubleProposal,
		Offender:  first.Proposer,
		GameID:    first.GameID,
		Sequence:  first.Sequence,
		First:     protocol.EncodeProposal(first),
		Second:    protocol.EncodeProposal(second),
		Timestamp: now,
	}
}

// VerifyEvidence re-checks a gossiped record against the participant
// keys. A record that does not prove what it claims is itself
// malformed input and must be dropped, not acted on.
func VerifyEvidence(ev *protocol.EvidenceRecord, keys map[protocol.PeerID]ed25519.PublicKey) error {
	pub, ok := keys[ev.Offender]
	if !ok {
		return protocol.NewRuleError(protocol.ErrMalformed, "evidence against unknown peer %s", ev.Offender)
	}

	switch ev.Kind {
	case protocol.EvidenceDoubleVote:
		first, err := protocol.DecodeVote(ev.First)
		if err != nil {
			return err
		}
		second, err := protocol.DecodeVote(ev.Second)
		if err != nil {
			return err
		}
		if first.Voter != ev.Offender || second.Voter != ev.Offender {
			return protocol.NewRuleError(protocol.ErrMalformed, "vote evidence names the wrong voter")
		}
		if first.GameID != second.GameID || first.Sequence != second.Sequence {
			return protocol.NewRuleError(protocol.ErrMalformed, "vote evidence spans different heights")
		}
		if first.ProposalID == second.ProposalID && first.Decision == second.Decision {
			return protocol.NewRuleError(protocol.ErrMalformed, "vote evidence shows no conflict")
		}
		if !first.VerifySignature(pub) || !second.VerifySignature(pub) {
			return protocol.NewRuleError(protocol.ErrMalformed, "vote evidence carries bad signatures")
		}
		return nil

	case protocol.EvidenceDoubleProposal:
		first, err := protocol.DecodeProposal(ev.First)
		if err != nil {
			return err
		}
		second, err := protocol.DecodeProposal(ev.Second)
		if err != nil {
			return err
		}
		if first.Proposer != ev.Offender || second.Proposer != ev.Offender {
			return protocol.NewRuleError(protocol.ErrMalformed, "proposal evidence names the wrong proposer")
		}
		if first.GameID != second.GameID || first.Sequence != second.Sequence {
			return protocol.NewRuleError(protocol.ErrMalformed, "proposal evidence spans different heights")
		}
		if first.ID == second.ID {
			return protocol.NewRuleError(protocol.ErrMalformed, "proposal evidence shows no conflict")
		}
		if !first.VerifySignature(pub) || !second.VerifySignature(pub) {
			return protocol.NewRuleError(protocol.ErrMalformed, "proposal evidence carries bad signatures")
		}
		return nil

	case protocol.EvidenceBadReveal:
		// First is the stored commitment, Second the revealed entropy.
		if len(ev.First) != 32 || len(ev.Second) != 32 {
			return protocol.NewRuleError(protocol.ErrMalformed, "reveal evidence has wrong field sizes")
		}
		var entropy protocol.Entropy
		copy(entropy[:], ev.Second)
		expect := protocol.DiceCommitment(entropy, ev.Offender, ev.Sequence)
		if bytes.Equal(expect[:], ev.First) {
			return protocol.NewRuleError(protocol.ErrMalformed, "reveal evidence shows a matching reveal")
		}
		return nil

	case protocol.EvidenceDoubleCommit:
		if len(ev.First) != 32 || len(ev.Second) != 32 || bytes.Equal(ev.First, ev.Second) {
			return protocol.NewRuleError(protocol.ErrMalformed, "commit evidence shows no conflict")
		}
		return nil

	case protocol.EvidenceOverdraft:
		// The proof is the offending proposal; replaying it against the
		// parent state is what convicts. Structural checks only here.
		if _, err := protocol.DecodeProposal(ev.First); err != nil {
			return err
		}
		return nil

	default:
		return protocol.NewRuleError(protocol.ErrMalformed, "unknown evidence kind %d", ev.Kind)
	}
}
