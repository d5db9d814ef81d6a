// Command bitcraps-sim runs a full craps consensus session between
// in-process peers over the in-memory mesh: bets, a commit-reveal dice
// round, and resolution, rendered as the game commits.
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/decred/slog"
	"github.com/pterm/pterm"

	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/gaming"
	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/protocol"
	"github.com/bitcraps/bitcraps/storage"
)

const (
	numPeers     = 3
	startBalance = 1000
	powBits      = 8
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run() error {
	pterm.DefaultHeader.WithFullWidth().Println("BitCraps consensus simulation")

	backend := slog.NewBackend(os.Stderr)
	logger := backend.Logger("SIM")
	logger.SetLevel(slog.LevelWarn)

	// Identities with a real proof-of-work stamp, like a phone would.
	names := make(map[protocol.PeerID]string)
	keys := make(map[protocol.PeerID]ed25519.PublicKey)
	balances := make(map[protocol.PeerID]uint64)
	ids := make([]*crypto.Identity, numPeers)
	for i := range ids {
		id, err := crypto.GenerateIdentity(powBits)
		if err != nil {
			return err
		}
		ids[i] = id
		peer := protocol.PeerID(id.PeerID)
		names[peer] = fmt.Sprintf("player-%d", i+1)
		keys[peer] = id.Pub
		balances[peer] = startBalance
	}
	pterm.Success.Printfln("generated %d identities at difficulty %d", numPeers, powBits)

	net := mesh.NewMemTransport()
	managers := make([]*gaming.Manager, numPeers)
	for i, id := range ids {
		cfg := gaming.DefaultManagerConfig()
		cfg.Identity = id
		cfg.Transport = net.Endpoint(protocol.PeerID(id.PeerID))
		cfg.Store = storage.NewMemoryStore()
		cfg.InitialSupply = startBalance * (numPeers + 1)
		cfg.CommitDeadline = 2 * time.Second
		cfg.RevealDeadline = 2 * time.Second
		cfg.Logger = logger
		mgr, err := gaming.NewManager(cfg)
		if err != nil {
			return err
		}
		managers[i] = mgr
		defer mgr.Close()
	}

	gameID, err := managers[0].CreateGame(keys, balances)
	if err != nil {
		return err
	}
	for _, m := range managers[1:] {
		if err := m.JoinGame(gameID, keys, balances); err != nil {
			return err
		}
	}
	pterm.Success.Printfln("game %s created with %d players", gameID, numPeers)

	self := protocol.PeerID(ids[0].PeerID)

	// Round one: two players bet the line and one the field, then the
	// dice decide.
	bets := []protocol.GameOperation{
		protocol.NewPlaceBet(protocol.PeerID(ids[0].PeerID), protocol.BetPass, 0, 100),
		protocol.NewPlaceBet(protocol.PeerID(ids[1].PeerID), protocol.BetDontPass, 0, 50),
		protocol.NewPlaceBet(protocol.PeerID(ids[2].PeerID), protocol.BetField, 0, 25),
	}
	for i, op := range bets {
		if err := managers[i].SubmitOperation(gameID, op); err != nil {
			return err
		}
		if err := waitForSeq(managers, gameID, uint64(i+1)); err != nil {
			return err
		}
	}
	state, err := managers[0].CurrentState(gameID)
	if err != nil {
		return err
	}
	printState(names, state, self)

	before := state
	rolls := 0
	for rolls < 3 && len(before.Bets) > 0 {
		if err := managers[0].StartRoll(gameID); err != nil {
			return err
		}
		after, err := waitForRoll(managers, gameID, before.RollNonce+1)
		if err != nil {
			return err
		}
		printResolution(names, before, after)
		before = after
		rolls++
	}
	printState(names, before, self)

	if err := managers[0].CompleteGame(gameID); err != nil {
		return err
	}
	pterm.Success.Printfln("game complete at seq %d; final snapshot persisted", before.Sequence)
	return nil
}

func waitForSeq(managers []*gaming.Manager, gameID protocol.GameID, seq uint64) error {
	return waitFor(managers, gameID, func(s *protocol.GameState) bool {
		return s.Sequence >= seq
	})
}

func waitForRoll(managers []*gaming.Manager, gameID protocol.GameID, nonce uint64) (*protocol.GameState, error) {
	err := waitFor(managers, gameID, func(s *protocol.GameState) bool {
		return s.RollNonce >= nonce && s.Phase == protocol.PhaseIdle
	})
	if err != nil {
		return nil, err
	}
	return managers[0].CurrentState(gameID)
}

func waitFor(managers []*gaming.Manager, gameID protocol.GameID, done func(*protocol.GameState) bool) error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		ok := true
		for _, m := range managers {
			state, err := m.CurrentState(gameID)
			if err != nil || !done(state) {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for game %s to make progress", gameID)
}
