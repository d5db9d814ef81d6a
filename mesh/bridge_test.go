package mesh

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/dice"
	"github.com/bitcraps/bitcraps/protocol"
)

// testnet is a full in-memory deployment: engines wired to bridges over
// a MemTransport.
type testnet struct {
	t        *testing.T
	mesh     *MemTransport
	ids      []*crypto.Identity
	engines  []*consensus.Engine
	bridges  []*Bridge
	mu       sync.Mutex
	commits  map[int][]consensus.StateCommitted
	shutdown func()
}

func newTestnet(t *testing.T, n int) *testnet {
	t.Helper()

	tn := &testnet{
		t:       t,
		mesh:    NewMemTransport(),
		commits: make(map[int][]consensus.StateCommitted),
	}
	keys := make(map[protocol.PeerID]ed25519.PublicKey, n)
	balances := make(map[protocol.PeerID]uint64, n)
	for i := 0; i < n; i++ {
		id, err := crypto.GenerateIdentity(0)
		require.NoError(t, err)
		tn.ids = append(tn.ids, id)
		keys[protocol.PeerID(id.PeerID)] = id.Pub
		balances[protocol.PeerID(id.PeerID)] = 1000
	}

	var gameID protocol.GameID
	copy(gameID[:], "bridge-test-game")

	ctx, cancel := context.WithCancel(context.Background())
	tn.shutdown = cancel
	for i := 0; i < n; i++ {
		ecfg := consensus.DefaultConfig()
		ecfg.GameID = gameID
		ecfg.Identity = tn.ids[i]
		ecfg.ParticipantKeys = keys
		ecfg.InitialSupply = uint64(n+1) * 1000
		ecfg.InitialBalances = balances
		eng, err := consensus.NewEngine(ecfg)
		require.NoError(t, err)
		tn.engines = append(tn.engines, eng)

		bcfg := DefaultBridgeConfig()
		bcfg.GameID = gameID
		bcfg.Identity = tn.ids[i]
		bcfg.Keys = keys
		bcfg.MaintenanceInterval = 50 * time.Millisecond
		idx := i
		bcfg.OnCommit = func(sc consensus.StateCommitted) {
			tn.mu.Lock()
			tn.commits[idx] = append(tn.commits[idx], sc)
			tn.mu.Unlock()
		}
		bridge, err := NewBridge(eng, tn.mesh.Endpoint(protocol.PeerID(tn.ids[i].PeerID)), bcfg)
		require.NoError(t, err)
		tn.bridges = append(tn.bridges, bridge)
		bridge.Start(ctx)
	}
	t.Cleanup(func() {
		cancel()
		for _, b := range tn.bridges {
			b.Stop()
		}
	})
	return tn
}

func (tn *testnet) peer(i int) protocol.PeerID {
	return protocol.PeerID(tn.ids[i].PeerID)
}

// submit proposes ops on peer i and pushes the proposal onto the wire,
// the way the game manager does.
func (tn *testnet) submit(i int, ops ...protocol.GameOperation) {
	tn.t.Helper()
	p, out, err := tn.engines[i].Propose(ops)
	require.NoError(tn.t, err)
	require.NoError(tn.t, tn.bridges[i].BroadcastProposal(p))
	tn.bridges[i].dispatchOutbound(out)
}

func (tn *testnet) waitForSeq(seq uint64, peers ...int) {
	tn.t.Helper()
	require.Eventually(tn.t, func() bool {
		for _, i := range peers {
			if tn.engines[i].Head().Sequence < seq {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "peers never reached seq %d", seq)
}

func TestBridgeCommitsAcrossMesh(t *testing.T) {
	tn := newTestnet(t, 3)

	tn.submit(0, protocol.NewTransfer(tn.peer(0), tn.peer(1), 50))
	tn.waitForSeq(1, 0, 1, 2)

	// All heads identical, balances moved, commit callbacks fired.
	head := tn.engines[0].Head()
	for i := 1; i < 3; i++ {
		require.Equal(t, head.HeadHash, tn.engines[i].Head().HeadHash)
	}
	require.EqualValues(t, 950, tn.engines[2].Balance(tn.peer(0)))
	require.EqualValues(t, 1050, tn.engines[2].Balance(tn.peer(1)))

	tn.mu.Lock()
	defer tn.mu.Unlock()
	for i := 0; i < 3; i++ {
		require.NotEmpty(t, tn.commits[i], "peer %d saw no commit", i)
	}
}

func TestBridgeSequentialRounds(t *testing.T) {
	tn := newTestnet(t, 3)

	for round := uint64(1); round <= 3; round++ {
		src := int(round-1) % 3
		tn.submit(src, protocol.NewTransfer(tn.peer(src), tn.peer((src+1)%3), 10))
		tn.waitForSeq(round, 0, 1, 2)
	}

	head := tn.engines[0].Head()
	require.EqualValues(t, 3, head.Sequence)
	for i := 1; i < 3; i++ {
		require.Equal(t, head.HeadHash, tn.engines[i].Head().HeadHash)
	}
}

func TestBridgePartitionHeal(t *testing.T) {
	tn := newTestnet(t, 4)

	// Cut peer 3 off completely.
	for i := 0; i < 3; i++ {
		tn.mesh.Cut(tn.peer(i), tn.peer(3))
	}

	// The majority keeps committing; quorum for 4 peers is 3.
	tn.submit(0, protocol.NewTransfer(tn.peer(0), tn.peer(1), 10))
	tn.waitForSeq(1, 0, 1, 2)
	tn.submit(1, protocol.NewTransfer(tn.peer(1), tn.peer(2), 10))
	tn.waitForSeq(2, 0, 1, 2)
	require.EqualValues(t, 0, tn.engines[3].Head().Sequence)

	// Heal and sync: the laggard fast-forwards deterministically.
	for i := 0; i < 3; i++ {
		tn.mesh.Heal(tn.peer(i), tn.peer(3))
	}
	require.NoError(t, tn.bridges[3].RequestSync())
	tn.waitForSeq(2, 3)

	a := protocol.EncodeSnapshot(tn.engines[0].Head(), nil)
	b := protocol.EncodeSnapshot(tn.engines[3].Head(), nil)
	require.Equal(t, a, b)
}

func TestBridgeDiceRoundOverMesh(t *testing.T) {
	tn := newTestnet(t, 3)

	// Bet, then a full commit-reveal-resolve cycle, all over the mesh.
	tn.submit(0, protocol.NewPlaceBet(tn.peer(0), protocol.BetPass, 0, 100))
	tn.waitForSeq(1, 0, 1, 2)

	entropies := map[int]protocol.Entropy{}
	seq := uint64(1)
	for i := 0; i < 3; i++ {
		var e protocol.Entropy
		e[0] = byte(0x10 + i)
		entropies[i] = e
		tn.submit(i, protocol.NewCommitDice(tn.peer(i), 0, protocol.DiceCommitment(e, tn.peer(i), 0)))
		seq++
		tn.waitForSeq(seq, 0, 1, 2)
	}

	for i := 0; i < 3; i++ {
		tn.submit(i, protocol.NewRevealDice(tn.peer(i), 0, entropies[i]))
		seq++
		tn.waitForSeq(seq, 0, 1, 2)
	}

	// Any peer can now derive and propose the resolution.
	head := tn.engines[0].Head()
	reveals := make([]protocol.Entropy, 0, 3)
	for _, e := range head.Reveals {
		reveals = append(reveals, e)
	}
	roll, err := dice.RollFromReveals(reveals)
	require.NoError(t, err)
	tn.submit(0, protocol.NewResolveRoll(tn.peer(0), 0, roll))
	tn.waitForSeq(seq+1, 0, 1, 2)

	final := tn.engines[1].Head()
	require.EqualValues(t, 1, final.RollNonce)
	require.Equal(t, protocol.PhaseIdle, final.Phase)
}
