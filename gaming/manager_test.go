package gaming

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/protocol"
	"github.com/bitcraps/bitcraps/storage"
)

// table is a set of managers sharing one in-memory mesh, each with its
// own store.
type table struct {
	t        *testing.T
	ids      []*crypto.Identity
	keys     map[protocol.PeerID]ed25519.PublicKey
	balances map[protocol.PeerID]uint64
	stores   []*storage.MemoryStore
	managers []*Manager
}

func newTable(t *testing.T, n int) *table {
	t.Helper()
	tb := &table{
		t:        t,
		keys:     make(map[protocol.PeerID]ed25519.PublicKey),
		balances: make(map[protocol.PeerID]uint64),
	}
	net := mesh.NewMemTransport()
	for i := 0; i < n; i++ {
		id, err := crypto.GenerateIdentity(0)
		require.NoError(t, err)
		tb.ids = append(tb.ids, id)
		tb.keys[protocol.PeerID(id.PeerID)] = id.Pub
		tb.balances[protocol.PeerID(id.PeerID)] = 1000
	}
	for i := 0; i < n; i++ {
		store := storage.NewMemoryStore()
		tb.stores = append(tb.stores, store)

		cfg := DefaultManagerConfig()
		cfg.Identity = tb.ids[i]
		cfg.Transport = net.Endpoint(protocol.PeerID(tb.ids[i].PeerID))
		cfg.Store = store
		cfg.InitialSupply = uint64(n+1) * 1000
		cfg.CommitDeadline = 500 * time.Millisecond
		cfg.RevealDeadline = 500 * time.Millisecond
		mgr, err := NewManager(cfg)
		require.NoError(t, err)
		tb.managers = append(tb.managers, mgr)
	}
	t.Cleanup(func() {
		for _, m := range tb.managers {
			_ = m.Close()
		}
	})
	return tb
}

func (tb *table) peer(i int) protocol.PeerID {
	return protocol.PeerID(tb.ids[i].PeerID)
}

// startGame creates the game on manager 0 and joins the rest.
func (tb *table) startGame() protocol.GameID {
	tb.t.Helper()
	gameID, err := tb.managers[0].CreateGame(tb.keys, tb.balances)
	require.NoError(tb.t, err)
	for _, m := range tb.managers[1:] {
		require.NoError(tb.t, m.JoinGame(gameID, tb.keys, tb.balances))
	}
	return gameID
}

func (tb *table) waitForSeq(gameID protocol.GameID, seq uint64) {
	tb.t.Helper()
	require.Eventually(tb.t, func() bool {
		for _, m := range tb.managers {
			state, err := m.CurrentState(gameID)
			if err != nil || state.Sequence < seq {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)
}

func TestGameLifecycle(t *testing.T) {
	tb := newTable(t, 3)
	gameID := tb.startGame()

	events, cancel, err := tb.managers[0].SubscribeEvents(gameID)
	require.NoError(t, err)
	defer cancel()

	// Place a pass-line bet.
	require.NoError(t, tb.managers[0].SubmitOperation(gameID,
		protocol.NewPlaceBet(tb.peer(0), protocol.BetPass, 0, 100)))
	tb.waitForSeq(gameID, 1)

	state, err := tb.managers[1].CurrentState(gameID)
	require.NoError(t, err)
	require.Len(t, state.Bets, 1)
	require.EqualValues(t, 900, state.Balance(tb.peer(0)))

	// One peer opens the roll; the rest join automatically, reveal,
	// and the designated resolver settles it.
	require.NoError(t, tb.managers[0].StartRoll(gameID))
	require.Eventually(t, func() bool {
		for _, m := range tb.managers {
			st, err := m.CurrentState(gameID)
			if err != nil || st.RollNonce != 1 || st.Phase != protocol.PhaseIdle {
				return false
			}
		}
		return true
	}, 15*time.Second, 20*time.Millisecond, "roll never resolved")

	// All heads byte-identical; money conserved.
	base, err := tb.managers[0].CurrentState(gameID)
	require.NoError(t, err)
	raw := protocol.EncodeSnapshot(base, nil)
	var total uint64
	for _, b := range base.Balances {
		total += b
	}
	require.EqualValues(t, 4000, total)
	for _, m := range tb.managers[1:] {
		st, err := m.CurrentState(gameID)
		require.NoError(t, err)
		require.Equal(t, raw, protocol.EncodeSnapshot(st, nil))
	}

	// The subscriber saw commits and the roll resolution.
	var sawCommit, sawRoll bool
	deadline := time.After(2 * time.Second)
	for !(sawCommit && sawRoll) {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventCommitted:
				sawCommit = true
			case EventRollResolved:
				sawRoll = true
			}
		case <-deadline:
			t.Fatalf("events missing: commit=%v roll=%v", sawCommit, sawRoll)
		}
	}

	// Snapshots were persisted on every peer.
	for i, store := range tb.stores {
		_, seq, ok, err := store.LoadLatest(gameID)
		require.NoError(t, err)
		require.True(t, ok, "peer %d persisted nothing", i)
		require.Equal(t, base.Sequence, seq)
	}
}

func TestCompleteGamePersistsFinalSnapshot(t *testing.T) {
	tb := newTable(t, 2)
	gameID := tb.startGame()

	require.NoError(t, tb.managers[0].SubmitOperation(gameID,
		protocol.NewTransfer(tb.peer(0), tb.peer(1), 25)))
	tb.waitForSeq(gameID, 1)

	events, cancel, err := tb.managers[0].SubscribeEvents(gameID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tb.managers[0].CompleteGame(gameID))

	// The in-memory game is gone; the snapshot survives.
	_, err = tb.managers[0].CurrentState(gameID)
	require.ErrorIs(t, err, ErrUnknownGame)

	raw, seq, ok, err := tb.stores[0].LoadLatest(gameID)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, seq)

	state, _, err := protocol.DecodeSnapshot(gameID, raw)
	require.NoError(t, err)
	require.EqualValues(t, 975, state.Balance(tb.peer(0)))
	require.EqualValues(t, 1025, state.Balance(tb.peer(1)))

	var sawCompleted bool
	timeout := time.After(time.Second)
	for !sawCompleted {
		select {
		case ev := <-events:
			sawCompleted = ev.Type == EventCompleted
		case <-timeout:
			t.Fatal("no completion event")
		}
	}
}

func TestSubmitUnknownGame(t *testing.T) {
	tb := newTable(t, 2)
	err := tb.managers[0].SubmitOperation(protocol.GameID{0xFF},
		protocol.NewTransfer(tb.peer(0), tb.peer(1), 1))
	require.ErrorIs(t, err, ErrUnknownGame)
}

func TestStatsTrackActivity(t *testing.T) {
	tb := newTable(t, 2)
	gameID := tb.startGame()

	require.NoError(t, tb.managers[0].SubmitOperation(gameID,
		protocol.NewTransfer(tb.peer(0), tb.peer(1), 5)))
	tb.waitForSeq(gameID, 1)

	stats := tb.managers[0].Stats()
	require.EqualValues(t, 1, stats.GamesCreated)
	require.Equal(t, 1, stats.ActiveGames)
	require.NotZero(t, stats.OperationsSubmitted)
	require.NotZero(t, stats.OperationsCommitted)

	// The treasury keeps the part of the supply not funded to players.
	state, err := tb.managers[0].CurrentState(gameID)
	require.NoError(t, err)
	require.NotZero(t, state.Balance(ledger.Treasury))
}
