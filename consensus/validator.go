package consensus

import (
	"math"

	"github.com/bitcraps/bitcraps/dice"
	"github.com/bitcraps/bitcraps/protocol"
)

// validator implements the two-phase anti-cheat checks run before
// voting and again inside the commit critical section. Both phases are
// pure and deterministic: two honest peers must agree on whether a
// given proposal is valid against a given state.
type validator struct {
	cfg *Config
}

// syntactic runs the cheap structural checks: well-formed proposal,
// valid proposer signature, bounded timestamp drift, bounded operation
// count, and every issuer a current participant.
func (v *validator) syntactic(p *protocol.Proposal, state *protocol.GameState, now uint64) error {
	if p == nil || len(p.Operations) == 0 {
		return protocol.NewRuleError(protocol.ErrMalformed, "proposal carries no operations")
	}
	if len(p.Operations) > v.cfg.MaxOpsPerProposal {
		return protocol.NewRuleError(protocol.ErrMalformed,
			"proposal carries %d operations, limit %d", len(p.Operations), v.cfg.MaxOpsPerProposal)
	}
	if p.GameID != state.GameID {
		return protocol.NewRuleError(protocol.ErrStale, "proposal for unknown game %s", p.GameID)
	}
	skew := v.cfg.MaxClockSkew
	if p.Timestamp > now+skew || p.Timestamp+skew < now {
		return protocol.NewRuleError(protocol.ErrMalformed,
			"proposal timestamp %d outside +/-%ds of local clock %d", p.Timestamp, skew, now)
	}
	if !state.IsParticipant(p.Proposer) {
		return protocol.NewRuleError(protocol.ErrMalformed, "proposer %s is not a participant", p.Proposer)
	}
	pub, ok := v.cfg.ParticipantKeys[p.Proposer]
	if !ok || !p.VerifySignature(pub) {
		return protocol.NewRuleError(protocol.ErrMalformed, "bad proposal signature from %s", p.Proposer)
	}
	for i, op := range p.Operations {
		if !op.Kind.Valid() {
			return protocol.NewOpRuleError(protocol.ErrMalformed, i, "unknown operation kind %d", op.Kind)
		}
		if !state.IsParticipant(op.Player) {
			return protocol.NewOpRuleError(protocol.ErrMalformed, i,
				"operation issuer %s is not a participant", op.Player)
		}
		// Operations are not individually signed; the proposal signature
		// is the only authentication. An issuer other than the signer
		// would let a proposer move someone else's tokens or block
		// their dice commitment.
		if op.Player != p.Proposer {
			return protocol.NewOpRuleError(protocol.ErrMalformed, i,
				"operation issued by %s inside a proposal signed by %s", op.Player, p.Proposer)
		}
	}
	return nil
}

// semantic validates every operation against the head state, tracking a
// scratch balance map so a proposal cannot spend the same tokens twice
// within itself. balances must be a private copy; semantic mutates it.
func (v *validator) semantic(p *protocol.Proposal, state *protocol.GameState, balances map[protocol.PeerID]uint64) error {
	if p.Sequence != state.Sequence+1 {
		if p.Sequence <= state.Sequence {
			return protocol.NewRuleError(protocol.ErrStale,
				"proposal at seq %d, head is %d", p.Sequence, state.Sequence)
		}
		return protocol.NewRuleError(protocol.ErrMissingAncestor,
			"proposal at seq %d skips ahead of head %d", p.Sequence, state.Sequence)
	}
	if p.ParentHash != state.HeadHash {
		return protocol.NewRuleError(protocol.ErrMissingAncestor,
			"proposal extends unknown parent %s", p.ParentHash)
	}

	// Scratch dice bookkeeping so duplicate commits or reveals inside
	// one proposal are caught the same way as against the state.
	phase := state.Phase
	commitments := make(map[protocol.PeerID]protocol.StateHash, len(state.Commitments))
	for k, c := range state.Commitments {
		commitments[k] = c
	}
	reveals := make(map[protocol.PeerID]protocol.Entropy, len(state.Reveals))
	for k, r := range state.Reveals {
		reveals[k] = r
	}
	participants := len(state.Participants)
	rollNonce := state.RollNonce

	for i, op := range p.Operations {
		switch op.Kind {
		case protocol.OpPlaceBet:
			if err := v.checkBet(i, op, balances); err != nil {
				return err
			}

		case protocol.OpCommitDice:
			// A commit for the next nonce abandons a roll stuck in its
			// commit or reveal phase and starts a fresh round.
			if op.RollNonce == rollNonce+1 &&
				(phase == protocol.PhaseCommitted || phase == protocol.PhaseRevealed) {
				rollNonce++
				commitments = make(map[protocol.PeerID]protocol.StateHash)
				reveals = make(map[protocol.PeerID]protocol.Entropy)
				phase = protocol.PhaseIdle
			}
			if op.RollNonce != rollNonce {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"dice commit for nonce %d, current roll is %d", op.RollNonce, rollNonce)
			}
			if phase != protocol.PhaseIdle && phase != protocol.PhaseCommitted {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"dice commit during %s phase", phase)
			}
			if prev, ok := commitments[op.Player]; ok {
				if prev == op.Commitment {
					return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
						"duplicate dice commit from %s", op.Player)
				}
				return protocol.NewOpRuleError(protocol.ErrEquivocation, i,
					"conflicting dice commit from %s for nonce %d", op.Player, op.RollNonce)
			}
			commitments[op.Player] = op.Commitment
			phase = protocol.PhaseCommitted

		case protocol.OpRevealDice:
			if op.RollNonce != rollNonce {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"dice reveal for nonce %d, current roll is %d", op.RollNonce, rollNonce)
			}
			if phase != protocol.PhaseCommitted && phase != protocol.PhaseRevealed {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"dice reveal during %s phase", phase)
			}
			commitment, ok := commitments[op.Player]
			if !ok {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"reveal from %s without a commitment", op.Player)
			}
			if _, dup := reveals[op.Player]; dup {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"duplicate reveal from %s", op.Player)
			}
			if protocol.DiceCommitment(op.Entropy, op.Player, op.RollNonce) != commitment {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"reveal from %s does not match commitment", op.Player)
			}
			reveals[op.Player] = op.Entropy
			phase = protocol.PhaseRevealed

		case protocol.OpResolveRoll:
			if op.RollNonce != rollNonce {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"roll resolution for nonce %d, current roll is %d", op.RollNonce, rollNonce)
			}
			if phase != protocol.PhaseRevealed {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"roll resolution during %s phase", phase)
			}
			if !op.Roll.Valid() {
				return protocol.NewOpRuleError(protocol.ErrMalformed, i, "dice out of range")
			}
			entropies := make([]protocol.Entropy, 0, len(reveals))
			for _, e := range reveals {
				entropies = append(entropies, e)
			}
			derived, err := dice.RollFromReveals(entropies)
			if err != nil {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"roll resolution with %d reveals", len(entropies))
			}
			if derived != op.Roll {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"claimed roll %d+%d does not match derived %d+%d",
					op.Roll.D1, op.Roll.D2, derived.D1, derived.D2)
			}
			phase = protocol.PhaseIdle

		case protocol.OpTransfer:
			if err := debit(balances, op.Player, op.Amount, i); err != nil {
				return err
			}
			if err := credit(balances, op.To, op.Amount, i); err != nil {
				return err
			}

		case protocol.OpUpdateMembership:
			if len(op.Added) == 0 && len(op.Removed) == 0 {
				return protocol.NewOpRuleError(protocol.ErrMalformed, i, "empty membership update")
			}
			for _, added := range op.Added {
				if state.IsParticipant(added) {
					return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
						"adding existing participant %s", added)
				}
				participants++
			}
			for _, removed := range op.Removed {
				if !state.IsParticipant(removed) {
					return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
						"removing unknown participant %s", removed)
				}
				participants--
			}
			if participants < 2 {
				return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
					"membership update would leave %d participants", participants)
			}
		}
	}
	return nil
}

// checkBet applies the bet bounds and escrows the stake in the scratch
// balances.
func (v *validator) checkBet(i int, op protocol.GameOperation, balances map[protocol.PeerID]uint64) error {
	if !op.BetKind.Valid() {
		return protocol.NewOpRuleError(protocol.ErrMalformed, i, "unknown bet kind %d", op.BetKind)
	}
	if !op.BetKind.ValidNumber(op.BetNumber) {
		return protocol.NewOpRuleError(protocol.ErrMalformed, i,
			"bet number %d invalid for %s", op.BetNumber, op.BetKind)
	}
	if op.BetKind.NeedsNumber() && op.BetNumber == 0 {
		return protocol.NewOpRuleError(protocol.ErrMalformed, i, "%s bet needs a box number", op.BetKind)
	}
	if op.Amount < v.cfg.MinBet || op.Amount > v.cfg.MaxBet {
		return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
			"bet of %d outside [%d, %d]", op.Amount, v.cfg.MinBet, v.cfg.MaxBet)
	}
	return debit(balances, op.Player, op.Amount, i)
}

func debit(balances map[protocol.PeerID]uint64, p protocol.PeerID, amount uint64, i int) error {
	if balances[p] < amount {
		return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
			"account %s has %d, operation needs %d", p, balances[p], amount)
	}
	balances[p] -= amount
	return nil
}

func credit(balances map[protocol.PeerID]uint64, p protocol.PeerID, amount uint64, i int) error {
	if balances[p] > math.MaxUint64-amount {
		return protocol.NewOpRuleError(protocol.ErrInvalidAgainstState, i,
			"credit of %d would overflow account %s", amount, p)
	}
	balances[p] += amount
	return nil
}
