package gaming

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/bitcraps/bitcraps/common"
	"github.com/bitcraps/bitcraps/consensus"
	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/dice"
	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/metrics"
	"github.com/bitcraps/bitcraps/protocol"
	"github.com/bitcraps/bitcraps/storage"
)

// ErrUnknownGame is returned for operations on games this manager does
// not run.
var ErrUnknownGame = errors.New("gaming: unknown game")

// Config tunes a Manager.
type Config struct {
	// Identity is this peer's keypair, shared by every game.
	Identity *crypto.Identity

	// Transport is the shared mesh substrate; traffic is scoped per
	// game id inside it.
	Transport mesh.Transport

	// Store receives committed snapshots.
	Store storage.Store

	// CommitDeadline is how long a roll waits for dice commitments
	// before the committed peers reveal without the stragglers.
	CommitDeadline time.Duration

	// RevealDeadline is how long the reveal phase waits before the roll
	// is resolved with whatever valid reveals exist, or restarted when
	// fewer than two arrived.
	RevealDeadline time.Duration

	// IdleTimeout completes a game with no open bets and no commits for
	// this long.
	IdleTimeout time.Duration

	// EventBuffer bounds each subscriber channel. Overflow drops the
	// oldest event with a logged warning.
	EventBuffer int

	// MinBet, MaxBet and InitialSupply parameterize each game's
	// consensus engine.
	MinBet        uint64
	MaxBet        uint64
	InitialSupply uint64

	// Breaker opens a game's submission path after consecutive failed
	// submissions (a proposal the local engine refuses, or a failed
	// broadcast) and forces a sync before resuming. Proposals that fail
	// at commit time are not counted.
	Breaker common.CircuitBreakerConfig

	Clock   common.Clock
	Logger  slog.Logger
	Metrics *metrics.Metrics
}

// DefaultManagerConfig returns the standard tuning. Callers fill in
// identity, transport and store.
func DefaultManagerConfig() Config {
	return Config{
		CommitDeadline: 30 * time.Second,
		RevealDeadline: 30 * time.Second,
		IdleTimeout:    10 * time.Minute,
		EventBuffer:    64,
		MinBet:         1,
		MaxBet:         1_000_000,
		InitialSupply:  1 << 40,
		Breaker:        common.DefaultCircuitBreakerConfig(),
		Clock:          common.SystemClock{},
		Logger:         slog.Disabled,
		Metrics:        metrics.NewNop(),
	}
}

// game bundles one game's engine, bridge and roll bookkeeping.
type game struct {
	id      protocol.GameID
	engine  *consensus.Engine
	bridge  *mesh.Bridge
	breaker *common.CircuitBreaker

	mu         sync.Mutex
	subs       map[int]chan Event
	nextSub    int
	ownEntropy map[uint64]protocol.Entropy
	lastNonce  uint64
	lastCommit time.Time
	completed  bool
	timers     []*time.Timer
}

// Manager orchestrates every game this peer participates in.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	games map[protocol.GameID]*game
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager validates the configuration and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Identity == nil || cfg.Transport == nil || cfg.Store == nil {
		return nil, errors.New("gaming: manager needs identity, transport and store")
	}
	if cfg.Clock == nil {
		cfg.Clock = common.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Disabled
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		games:  make(map[protocol.GameID]*game),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Self returns this peer's id.
func (m *Manager) Self() protocol.PeerID {
	return protocol.PeerID(m.cfg.Identity.PeerID)
}

// CreateGame starts a new game with the given participants and funding
// and returns its fresh id. Every other participant must JoinGame with
// the identical parameters or their genesis states diverge.
func (m *Manager) CreateGame(keys map[protocol.PeerID]ed25519.PublicKey, balances map[protocol.PeerID]uint64) (protocol.GameID, error) {
	var gameID protocol.GameID
	if _, err := rand.Read(gameID[:]); err != nil {
		return gameID, err
	}
	if err := m.startGame(gameID, keys, balances); err != nil {
		return protocol.GameID{}, err
	}
	return gameID, nil
}

// JoinGame attaches this peer to an existing game.
func (m *Manager) JoinGame(gameID protocol.GameID, keys map[protocol.PeerID]ed25519.PublicKey, balances map[protocol.PeerID]uint64) error {
	return m.startGame(gameID, keys, balances)
}

func (m *Manager) startGame(gameID protocol.GameID, keys map[protocol.PeerID]ed25519.PublicKey, balances map[protocol.PeerID]uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.games[gameID]; dup {
		return fmt.Errorf("gaming: game %s already running", gameID)
	}

	ecfg := consensus.DefaultConfig()
	ecfg.GameID = gameID
	ecfg.Identity = m.cfg.Identity
	ecfg.ParticipantKeys = keys
	ecfg.InitialSupply = m.cfg.InitialSupply
	ecfg.InitialBalances = balances
	ecfg.MinBet = m.cfg.MinBet
	ecfg.MaxBet = m.cfg.MaxBet
	ecfg.Clock = m.cfg.Clock
	ecfg.Logger = m.cfg.Logger
	ecfg.Metrics = m.cfg.Metrics
	engine, err := consensus.NewEngine(ecfg)
	if err != nil {
		return err
	}

	g := &game{
		id:         gameID,
		engine:     engine,
		breaker:    common.NewCircuitBreaker(m.cfg.Breaker),
		subs:       make(map[int]chan Event),
		ownEntropy: make(map[uint64]protocol.Entropy),
		lastCommit: time.Now(),
	}

	bcfg := mesh.DefaultBridgeConfig()
	bcfg.GameID = gameID
	bcfg.Identity = m.cfg.Identity
	bcfg.Keys = keys
	bcfg.Clock = m.cfg.Clock
	bcfg.Logger = m.cfg.Logger
	bcfg.Metrics = m.cfg.Metrics
	bcfg.OnCommit = func(sc consensus.StateCommitted) { m.handleCommit(g, sc) }
	bcfg.OnEvidence = func(ev *protocol.EvidenceRecord) {
		g.publish(Event{Type: EventEvidence, GameID: gameID, Evidence: ev}, m.cfg.Logger)
	}
	bridge, err := mesh.NewBridge(engine, m.cfg.Transport, bcfg)
	if err != nil {
		return err
	}
	g.bridge = bridge

	m.games[gameID] = g
	m.stats.GamesCreated++
	bridge.Start(m.ctx)
	go m.idleLoop(g)

	m.cfg.Logger.Infof("game %s: started with %d participants", gameID, len(keys))
	return nil
}

// SubmitOperation proposes op for this game and pushes it onto the
// wire. While the circuit breaker is open, submissions fail fast and a
// sync runs instead.
func (m *Manager) SubmitOperation(gameID protocol.GameID, op protocol.GameOperation) error {
	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	return m.submit(g, op)
}

func (m *Manager) submit(g *game, ops ...protocol.GameOperation) error {
	if err := g.breaker.Allow(); err != nil {
		// Force a resync before accepting new work.
		if serr := g.bridge.RequestSync(); serr != nil {
			m.cfg.Logger.Warnf("game %s: sync during open circuit failed: %v", g.id, serr)
		}
		return err
	}

	p, out, err := g.engine.Propose(ops)
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}
	if err := g.bridge.BroadcastProposal(p); err != nil {
		g.breaker.RecordFailure()
		return err
	}
	g.bridge.Publish(out)

	m.mu.Lock()
	m.stats.OperationsSubmitted += uint64(len(ops))
	m.mu.Unlock()
	return nil
}

// StartRoll opens a commit-reveal round: it draws this peer's entropy,
// submits the commitment, and schedules the commit and reveal deadline
// actions. Other participants commit when they observe the phase
// change.
func (m *Manager) StartRoll(gameID protocol.GameID) error {
	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	head := g.engine.Head()
	nonce := head.RollNonce
	if head.Phase == protocol.PhaseCommitted || head.Phase == protocol.PhaseRevealed {
		// A round is already running; join it instead.
		return m.CommitEntropy(gameID)
	}
	return m.commitEntropy(g, nonce)
}

// CommitEntropy contributes this peer's entropy to the current roll
// round, if it has not already.
func (m *Manager) CommitEntropy(gameID protocol.GameID) error {
	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	head := g.engine.Head()
	return m.commitEntropy(g, head.RollNonce)
}

func (m *Manager) commitEntropy(g *game, nonce uint64) error {
	self := m.Self()
	head := g.engine.Head()
	if head.RollNonce == nonce {
		if _, done := head.Commitments[self]; done {
			return nil // our commitment is already on the chain
		}
	}

	g.mu.Lock()
	entropy, have := g.ownEntropy[nonce]
	if !have {
		entropy = dice.GenerateEntropy()
		g.ownEntropy[nonce] = entropy
	}
	g.mu.Unlock()

	commitment := protocol.DiceCommitment(entropy, self, nonce)
	if err := m.submit(g, protocol.NewCommitDice(self, nonce, commitment)); err != nil {
		return err
	}

	if !have {
		// Deadline actions only enqueue further operations into
		// consensus; the committed chain stays the sole driver of state.
		g.addTimer(time.AfterFunc(m.cfg.CommitDeadline, func() {
			m.maybeReveal(g, nonce)
		}))
		g.addTimer(time.AfterFunc(m.cfg.CommitDeadline+m.cfg.RevealDeadline, func() {
			m.finishOrRestart(g, nonce)
		}))
	}
	return nil
}

// CurrentState returns a clone of the committed head.
func (m *Manager) CurrentState(gameID protocol.GameID) (*protocol.GameState, error) {
	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	return g.engine.Head(), nil
}

// Evidence returns the game's evidence log.
func (m *Manager) Evidence(gameID protocol.GameID) ([]protocol.EvidenceRecord, error) {
	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	return g.engine.Evidence(), nil
}

// SubscribeEvents returns a bounded event stream for a game plus a
// cancel function.
func (m *Manager) SubscribeEvents(gameID protocol.GameID) (<-chan Event, func(), error) {
	g, err := m.game(gameID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, m.cfg.EventBuffer)
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
	return ch, cancel, nil
}

// Stats returns a snapshot of manager activity.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.ActiveGames = len(m.games)
	return s
}

// CompleteGame tears a game down: final snapshot to the store, a
// completion event, bridge stopped, in-memory state discarded.
func (m *Manager) CompleteGame(gameID protocol.GameID) error {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if ok {
		delete(m.games, gameID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownGame
	}

	g.mu.Lock()
	g.completed = true
	for _, t := range g.timers {
		t.Stop()
	}
	g.mu.Unlock()

	head := g.engine.Head()
	snapshot := protocol.EncodeSnapshot(head, g.engine.Evidence())
	if err := m.cfg.Store.Save(gameID, head.Sequence, snapshot); err != nil {
		m.cfg.Logger.Errorf("game %s: final snapshot save failed: %v", gameID, err)
	}
	g.publish(Event{
		Type:     EventCompleted,
		GameID:   gameID,
		Sequence: head.Sequence,
		State:    head,
	}, m.cfg.Logger)
	g.bridge.Stop()
	m.cfg.Logger.Infof("game %s: completed at seq %d", gameID, head.Sequence)
	return nil
}

// Close tears down every game.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]protocol.GameID, 0, len(m.games))
	for id := range m.games {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.CompleteGame(id); err != nil && !errors.Is(err, ErrUnknownGame) {
			return err
		}
	}
	m.cancel()
	return nil
}

func (m *Manager) game(gameID protocol.GameID) (*game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrUnknownGame
	}
	return g, nil
}

// handleCommit runs on the bridge goroutine for every head advance:
// persist, notify, and drive the roll state machine forward.
func (m *Manager) handleCommit(g *game, sc consensus.StateCommitted) {
	m.mu.Lock()
	m.stats.OperationsCommitted++
	m.mu.Unlock()

	g.mu.Lock()
	g.lastCommit = time.Now()
	rolled := sc.State.RollNonce > g.lastNonce
	if rolled {
		g.lastNonce = sc.State.RollNonce
	}
	g.mu.Unlock()
	g.breaker.RecordSuccess()

	snapshot := protocol.EncodeSnapshot(sc.State, g.engine.Evidence())
	if err := m.cfg.Store.Save(sc.GameID, sc.Sequence, snapshot); err != nil {
		m.cfg.Logger.Errorf("game %s: snapshot save failed: %v", sc.GameID, err)
	}

	g.publish(Event{
		Type:     EventCommitted,
		GameID:   sc.GameID,
		Sequence: sc.Sequence,
		State:    sc.State,
	}, m.cfg.Logger)
	if rolled {
		m.mu.Lock()
		m.stats.RollsResolved++
		m.mu.Unlock()
		g.publish(Event{
			Type:     EventRollResolved,
			GameID:   sc.GameID,
			Sequence: sc.Sequence,
			State:    sc.State,
		}, m.cfg.Logger)
	}

	switch sc.State.Phase {
	case protocol.PhaseCommitted:
		// Join a round someone else opened, then reveal once everyone
		// has committed (the deadline timer covers stragglers).
		if err := m.commitEntropy(g, sc.State.RollNonce); err != nil {
			m.cfg.Logger.Debugf("game %s: entropy commit skipped: %v", sc.GameID, err)
		}
		if len(sc.State.Commitments) == len(sc.State.Participants) {
			m.maybeReveal(g, sc.State.RollNonce)
		}
	case protocol.PhaseRevealed:
		// Re-submit a reveal that lost a fork race, then resolve once
		// every committed peer has revealed.
		m.maybeReveal(g, sc.State.RollNonce)
		if len(sc.State.Reveals) == len(sc.State.Commitments) {
			m.maybeResolve(g, sc.State)
		}
	}
}

// maybeReveal submits this peer's reveal for nonce if its commitment
// is on the committed chain and the reveal has not been sent yet.
func (m *Manager) maybeReveal(g *game, nonce uint64) {
	head := g.engine.Head()
	if head.RollNonce != nonce {
		return
	}
	if head.Phase != protocol.PhaseCommitted && head.Phase != protocol.PhaseRevealed {
		return
	}
	self := m.Self()
	if _, committed := head.Commitments[self]; !committed {
		return // we missed this roll's commit window
	}
	if _, alreadyRevealed := head.Reveals[self]; alreadyRevealed {
		return
	}

	g.mu.Lock()
	entropy, ok := g.ownEntropy[nonce]
	g.mu.Unlock()
	if !ok {
		return
	}

	// Submission is retried off the committed chain: if this proposal
	// loses a fork race the next commit at PhaseRevealed re-triggers it.
	if err := m.submit(g, protocol.NewRevealDice(self, nonce, entropy)); err != nil {
		m.cfg.Logger.Debugf("game %s: reveal not submitted: %v", g.id, err)
	}
}

// maybeResolve derives and proposes the roll when this peer is the
// designated resolver (the smallest participant id).
func (m *Manager) maybeResolve(g *game, state *protocol.GameState) {
	if len(state.Participants) == 0 || state.Participants[0] != m.Self() {
		return
	}
	m.resolveRoll(g, state)
}

func (m *Manager) resolveRoll(g *game, state *protocol.GameState) {
	reveals := make([]protocol.Entropy, 0, len(state.Reveals))
	for _, e := range state.Reveals {
		reveals = append(reveals, e)
	}
	roll, err := dice.RollFromReveals(reveals)
	if err != nil {
		m.cfg.Logger.Warnf("game %s: roll %d cannot resolve: %v", g.id, state.RollNonce, err)
		return
	}
	if err := m.submit(g, protocol.NewResolveRoll(m.Self(), state.RollNonce, roll)); err != nil {
		m.cfg.Logger.Warnf("game %s: roll resolution failed: %v", g.id, err)
	}
}

// finishOrRestart fires at the reveal deadline: resolve with whatever
// valid reveals exist, or restart the round under a fresh nonce when
// fewer than two arrived. A restart leaves the open bets in place.
func (m *Manager) finishOrRestart(g *game, nonce uint64) {
	head := g.engine.Head()
	if head.RollNonce != nonce || head.Phase == protocol.PhaseIdle {
		return // already resolved or restarted
	}
	if len(head.Reveals) >= dice.MinReveals {
		m.resolveRoll(g, head)
		return
	}
	m.cfg.Logger.Warnf("game %s: roll %d failed with %d reveals, restarting",
		g.id, nonce, len(head.Reveals))
	if err := m.commitEntropy(g, nonce+1); err != nil {
		m.cfg.Logger.Warnf("game %s: roll restart failed: %v", g.id, err)
	}
}

// idleLoop completes a quiet game: no open bets, idle phase, nothing
// committed for IdleTimeout.
func (m *Manager) idleLoop(g *game) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			idleFor := time.Since(g.lastCommit)
			completed := g.completed
			g.mu.Unlock()
			if completed {
				return
			}
			if idleFor < m.cfg.IdleTimeout {
				continue
			}
			head := g.engine.Head()
			if len(head.Bets) != 0 || head.Phase != protocol.PhaseIdle {
				continue
			}
			if err := m.CompleteGame(g.id); err == nil {
				return
			}
		}
	}
}

// publish fans an event to every subscriber without blocking: a full
// channel loses its oldest event, with a warning.
func (g *game) publish(ev Event, logger slog.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
			logger.Warnf("game %s: subscriber %d lagging, dropped oldest event", g.id, id)
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (g *game) addTimer(t *time.Timer) {
	g.mu.Lock()
	if g.completed {
		t.Stop()
	} else {
		g.timers = append(g.timers, t)
	}
	g.mu.Unlock()
}
