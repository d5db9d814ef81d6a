package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/protocol"
)

// proposeRaw builds and signs a proposal from peer i over the current
// head of engine 0 without registering it anywhere.
func (c *cluster) proposeRaw(i int, ops ...protocol.GameOperation) *protocol.Proposal {
	head := c.engines[0].Head()
	p := &protocol.Proposal{
		Proposer:   c.peer(i),
		GameID:     head.GameID,
		ParentHash: head.HeadHash,
		Sequence:   head.Sequence + 1,
		Operations: ops,
		Timestamp:  c.clock.Now(),
	}
	p.Sign(c.ids[i].Priv)
	return p
}

func TestValidatorSyntactic(t *testing.T) {
	c := newCluster(t, 3, 1000)
	eng := c.engines[0]
	v := &eng.val
	now := c.clock.Now()
	head := eng.Head()

	// Empty operations array.
	p := c.proposeRaw(1)
	require.ErrorIs(t, v.syntactic(p, head, now), protocol.ErrMalformed)

	// Too many operations.
	ops := make([]protocol.GameOperation, eng.cfg.MaxOpsPerProposal+1)
	for i := range ops {
		ops[i] = protocol.NewTransfer(c.peer(1), c.peer(0), 1)
	}
	p = c.proposeRaw(1, ops...)
	require.ErrorIs(t, v.syntactic(p, head, now), protocol.ErrMalformed)

	// Timestamp far in the past.
	p = c.proposeRaw(1, protocol.NewTransfer(c.peer(1), c.peer(0), 1))
	p.Timestamp = now - eng.cfg.MaxClockSkew - 1
	p.Sign(c.ids[1].Priv)
	require.ErrorIs(t, v.syntactic(p, head, now), protocol.ErrMalformed)

	// Signature by the wrong key.
	p = c.proposeRaw(1, protocol.NewTransfer(c.peer(1), c.peer(0), 1))
	p.Signature = c.proposeRaw(2, protocol.NewTransfer(c.peer(2), c.peer(0), 1)).Signature
	require.ErrorIs(t, v.syntactic(p, head, now), protocol.ErrMalformed)

	// A clean proposal passes.
	p = c.proposeRaw(1, protocol.NewTransfer(c.peer(1), c.peer(0), 1))
	require.NoError(t, v.syntactic(p, head, now))
}

func TestValidatorSemanticBets(t *testing.T) {
	c := newCluster(t, 3, 1000)
	eng := c.engines[0]
	v := &eng.val
	head := eng.Head()

	check := func(op protocol.GameOperation) error {
		p := c.proposeRaw(1, op)
		return v.semantic(p, head, eng.ldg.Snapshot())
	}

	// Below minimum and above maximum.
	require.ErrorIs(t,
		check(protocol.NewPlaceBet(c.peer(1), protocol.BetPass, 0, 0)),
		protocol.ErrInvalidAgainstState)
	require.ErrorIs(t,
		check(protocol.NewPlaceBet(c.peer(1), protocol.BetPass, 0, eng.cfg.MaxBet+1)),
		protocol.ErrInvalidAgainstState)

	// Hardway needs a legal box number.
	require.ErrorIs(t,
		check(protocol.NewPlaceBet(c.peer(1), protocol.BetHardway, 5, 10)),
		protocol.ErrMalformed)

	// Overdraft.
	require.ErrorIs(t,
		check(protocol.NewPlaceBet(c.peer(1), protocol.BetPass, 0, 2000)),
		protocol.ErrInvalidAgainstState)

	// A proposal cannot spend the same balance twice.
	p := c.proposeRaw(1,
		protocol.NewPlaceBet(c.peer(1), protocol.BetPass, 0, 600),
		protocol.NewPlaceBet(c.peer(1), protocol.BetField, 0, 600),
	)
	err := v.semantic(p, head, eng.ldg.Snapshot())
	require.ErrorIs(t, err, protocol.ErrInvalidAgainstState)
	var rule protocol.RuleError
	require.ErrorAs(t, err, &rule)
	require.Equal(t, 1, rule.OpIndex)

	// A clean bet passes.
	require.NoError(t, check(protocol.NewPlaceBet(c.peer(1), protocol.BetPass, 0, 100)))
}

func TestValidatorSemanticDice(t *testing.T) {
	c := newCluster(t, 3, 1000)
	eng := c.engines[0]
	v := &eng.val
	head := eng.Head()
	peer := c.peer(1)
	entropy := protocol.Entropy{0xAA}

	// Wrong roll nonce.
	p := c.proposeRaw(1, protocol.NewCommitDice(peer, 5, protocol.DiceCommitment(entropy, peer, 5)))
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)

	// Reveal without commitment.
	p = c.proposeRaw(1, protocol.NewRevealDice(peer, 0, entropy))
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)

	// Commit then mismatched reveal inside one batch.
	p = c.proposeRaw(1,
		protocol.NewCommitDice(peer, 0, protocol.DiceCommitment(entropy, peer, 0)),
		protocol.NewRevealDice(peer, 0, protocol.Entropy{0xBB}),
	)
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)

	// Two conflicting commits inside one batch is equivocation.
	p = c.proposeRaw(1,
		protocol.NewCommitDice(peer, 0, protocol.DiceCommitment(protocol.Entropy{1}, peer, 0)),
		protocol.NewCommitDice(peer, 0, protocol.DiceCommitment(protocol.Entropy{2}, peer, 0)),
	)
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrEquivocation)

	// Resolving without reveals fails.
	p = c.proposeRaw(1, protocol.NewResolveRoll(peer, 0, protocol.DiceRoll{D1: 3, D2: 4}))
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)
}

func TestValidatorSemanticMembership(t *testing.T) {
	c := newCluster(t, 3, 1000)
	eng := c.engines[0]
	v := &eng.val
	head := eng.Head()

	// Removing two of three would leave one participant.
	p := c.proposeRaw(0, protocol.NewUpdateMembership(c.peer(0), nil,
		[]protocol.PeerID{c.peer(1), c.peer(2)}))
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)

	// Adding an existing participant.
	p = c.proposeRaw(0, protocol.NewUpdateMembership(c.peer(0),
		[]protocol.PeerID{c.peer(1)}, nil))
	require.ErrorIs(t, v.semantic(p, head, eng.ldg.Snapshot()), protocol.ErrInvalidAgainstState)

	// Removing one of three is fine.
	p = c.proposeRaw(0, protocol.NewUpdateMembership(c.peer(0), nil,
		[]protocol.PeerID{c.peer(2)}))
	require.NoError(t, v.semantic(p, head, eng.ldg.Snapshot()))
}
