package consensus

import (
	"github.com/bitcraps/bitcraps/craps"
	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/protocol"
)

// applyOperations derives the post-commit state from the head state and
// a validated operation batch, plus the ledger entries that realize its
// balance effects. It never touches the engine's head: the caller swaps
// the new state in only after the ledger batch succeeds.
//
// Semantic validation has already accepted the batch against the same
// state, so structural failures here are internal invariant violations,
// not adversarial input.
func applyOperations(state *protocol.GameState, ops []protocol.GameOperation) (*protocol.GameState, []ledger.Entry, error) {
	next := state.Clone()
	var entries []ledger.Entry

	for _, op := range ops {
		switch op.Kind {
		case protocol.OpPlaceBet:
			entries = append(entries, ledger.Entry{
				From: op.Player, To: ledger.Treasury, Amount: op.Amount,
			})
			next.Bets = protocol.SortBets(append(next.Bets, protocol.OpenBet{
				Player: op.Player,
				Kind:   op.BetKind,
				Number: op.BetNumber,
				Amount: op.Amount,
			}))

		case protocol.OpCommitDice:
			if op.RollNonce == next.RollNonce+1 {
				// Restart of a stuck roll under a fresh nonce.
				next.RollNonce++
				next.Commitments = make(map[protocol.PeerID]protocol.StateHash)
				next.Reveals = make(map[protocol.PeerID]protocol.Entropy)
			}
			next.Commitments[op.Player] = op.Commitment
			next.Phase = protocol.PhaseCommitted

		case protocol.OpRevealDice:
			next.Reveals[op.Player] = op.Entropy
			next.Phase = protocol.PhaseRevealed

		case protocol.OpResolveRoll:
			result := craps.Evaluate(next.Point, next.Bets, op.Roll)
			for _, r := range result.Resolutions {
				if r.Payout > 0 {
					entries = append(entries, ledger.Entry{
						From: ledger.Treasury, To: r.Bet.Player, Amount: r.Payout,
					})
				}
			}
			next.Bets = result.Remaining
			next.Point = result.NewPoint
			next.LastRoll = op.Roll
			next.Phase = protocol.PhaseIdle
			next.RollNonce++
			next.Commitments = make(map[protocol.PeerID]protocol.StateHash)
			next.Reveals = make(map[protocol.PeerID]protocol.Entropy)

		case protocol.OpTransfer:
			entries = append(entries, ledger.Entry{
				From: op.Player, To: op.To, Amount: op.Amount,
			})

		case protocol.OpUpdateMembership:
			for _, p := range op.Added {
				next.AddParticipant(p)
			}
			for _, p := range op.Removed {
				next.RemoveParticipant(p)
			}

		default:
			return nil, nil, protocol.NewRuleError(protocol.ErrInternalInvariant,
				"apply reached unknown operation kind %d", op.Kind)
		}
	}
	return next, entries, nil
}
