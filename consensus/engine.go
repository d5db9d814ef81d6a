package consensus

import (
	"errors"
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/ledger"
	"github.com/bitcraps/bitcraps/protocol"
)

// reputationPenalty is debited for each offense; peers start at 1.0.
const reputationPenalty = 0.1

// maxOrphanVotes bounds votes held for proposals we have not seen yet.
const maxOrphanVotes = 1024

// StateCommitted notifies that the head advanced. State is a private
// clone; receivers may keep it.
type StateCommitted struct {
	GameID     protocol.GameID
	Sequence   uint64
	HeadHash   protocol.StateHash
	ProposalID protocol.StateHash
	Proposer   protocol.PeerID
	State      *protocol.GameState
}

// Outbound collects everything a handler produced that must reach the
// network or the application: votes to broadcast, evidence to gossip,
// and commit notifications.
type Outbound struct {
	Votes     []*protocol.Vote
	Evidence  []*protocol.EvidenceRecord
	Committed []StateCommitted
}

func (o *Outbound) merge(other *Outbound) {
	if other == nil {
		return
	}
	o.Votes = append(o.Votes, other.Votes...)
	o.Evidence = append(o.Evidence, other.Evidence...)
	o.Committed = append(o.Committed, other.Committed...)
}

type voteKey struct {
	voter protocol.PeerID
	seq   uint64
}

type slotKey struct {
	proposer protocol.PeerID
	seq      uint64
}

type pendingProposal struct {
	proposal *protocol.Proposal
	votes    map[protocol.PeerID]*protocol.Vote
	arrival  uint64
}

// Engine is the per-game consensus state machine. All methods are safe
// for concurrent use; internally a single mutex forms the critical
// section, so only one proposal is ever in the commit path at a time
// for a given game.
type Engine struct {
	mu sync.Mutex

	cfg  Config
	val  validator
	self protocol.PeerID

	state *protocol.GameState
	ldg   *ledger.TokenLedger

	pending map[protocol.StateHash]*pendingProposal
	forks   map[uint64]map[protocol.StateHash]struct{}
	slots   map[slotKey]*protocol.Proposal
	votesAt map[voteKey]*protocol.Vote
	votedAt map[uint64]protocol.StateHash
	orphans map[protocol.StateHash]map[protocol.PeerID]*protocol.Vote

	evidence     []protocol.EvidenceRecord
	evidenceSeen map[protocol.StateHash]struct{}
	banned       map[protocol.PeerID]bool
	reputation   map[protocol.PeerID]float64

	committed    []protocol.CommitBundle
	lastProgress uint64
}

// NewEngine builds the genesis state and ledger for one game. Every
// participant must construct its engine from the same configuration or
// the genesis heads diverge and nothing ever commits.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	participants := make([]protocol.PeerID, 0, len(cfg.ParticipantKeys))
	for p := range cfg.ParticipantKeys {
		participants = append(participants, p)
	}

	ldg := ledger.New(cfg.InitialSupply)
	for _, p := range protocol.SortPeers(participants) {
		if amount := cfg.InitialBalances[p]; amount > 0 {
			if err := ldg.Transfer(ledger.Treasury, p, amount); err != nil {
				return nil, err
			}
		}
	}

	state := protocol.NewGenesisState(cfg.GameID, participants)
	state.Balances = ldg.Snapshot()

	e := &Engine{
		cfg:          cfg,
		val:          validator{cfg: &cfg},
		self:         protocol.PeerID(cfg.Identity.PeerID),
		state:        state,
		ldg:          ldg,
		pending:      make(map[protocol.StateHash]*pendingProposal),
		forks:        make(map[uint64]map[protocol.StateHash]struct{}),
		slots:        make(map[slotKey]*protocol.Proposal),
		votesAt:      make(map[voteKey]*protocol.Vote),
		votedAt:      make(map[uint64]protocol.StateHash),
		orphans:      make(map[protocol.StateHash]map[protocol.PeerID]*protocol.Vote),
		evidenceSeen: make(map[protocol.StateHash]struct{}),
		banned:       make(map[protocol.PeerID]bool),
		reputation:   make(map[protocol.PeerID]float64),
	}
	for _, p := range state.Participants {
		e.reputation[p] = 1.0
	}
	e.lastProgress = cfg.Clock.Now()
	e.cfg.Metrics.LedgerTotalSupply.Set(float64(ldg.TotalSupply()))
	return e, nil
}

// Self returns this peer's id.
func (e *Engine) Self() protocol.PeerID { return e.self }

// Head returns a clone of the committed head state.
func (e *Engine) Head() *protocol.GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Balance returns the committed balance of peer.
func (e *Engine) Balance(peer protocol.PeerID) uint64 { return e.ldg.Balance(peer) }

// TotalSupply returns the game economy's constant supply.
func (e *Engine) TotalSupply() uint64 { return e.ldg.TotalSupply() }

// Evidence returns a copy of the evidence log.
func (e *Engine) Evidence() []protocol.EvidenceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.EvidenceRecord(nil), e.evidence...)
}

// Reputation returns peer's current score; unknown peers score zero.
func (e *Engine) Reputation(peer protocol.PeerID) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reputation[peer]
}

// Propose builds, signs and registers a proposal extending the head
// with ops. It validates locally first: a proposer that would be voted
// down aborts instead of broadcasting. The returned Outbound carries
// the proposer's own Accept vote.
func (e *Engine) Propose(ops []protocol.GameOperation) (*protocol.Proposal, *Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Clock.Now()
	seq := e.state.Sequence + 1

	if _, dup := e.slots[slotKey{e.self, seq}]; dup {
		return nil, nil, protocol.NewRuleError(protocol.ErrEquivocation,
			"already proposed at seq %d; a second proposal would be equivocation", seq)
	}

	p := &protocol.Proposal{
		Proposer:   e.self,
		GameID:     e.cfg.GameID,
		ParentHash: e.state.HeadHash,
		Sequence:   seq,
		Operations: ops,
		Timestamp:  now,
	}
	p.Sign(e.cfg.Identity.Priv)

	if err := e.val.syntactic(p, e.state, now); err != nil {
		return nil, nil, err
	}
	if err := e.val.semantic(p, e.state, e.ldg.Snapshot()); err != nil {
		return nil, nil, err
	}

	e.insertPendingLocked(p, now)
	e.cfg.Metrics.ProposalsSubmitted.Inc()
	e.cfg.Logger.Debugf("game %s: proposing %s at seq %d (%d ops)",
		e.cfg.GameID, p.ID, seq, len(ops))

	out := &Outbound{}
	if vote := e.castVoteLocked(p, protocol.VoteAccept, now); vote != nil {
		out.Votes = append(out.Votes, vote)
	}
	e.tryCommitLocked(now, out)
	return p, out, nil
}

// HandleProposal processes a proposal received from the mesh. The
// returned error classifies drops: ErrStale proposals are discarded
// silently, ErrMalformed ones cost the sender reputation, and
// ErrMissingAncestor asks the caller to sync before voting.
func (e *Engine) HandleProposal(p *protocol.Proposal, now uint64) (*Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p == nil {
		return nil, protocol.NewRuleError(protocol.ErrMalformed, "nil proposal")
	}
	if p.Sequence <= e.state.Sequence {
		return nil, protocol.NewRuleError(protocol.ErrStale,
			"proposal at seq %d, head is %d", p.Sequence, e.state.Sequence)
	}
	if _, seen := e.pending[p.ID]; seen {
		return nil, nil
	}

	if err := e.val.syntactic(p, e.state, now); err != nil {
		if !errors.Is(err, protocol.ErrStale) {
			e.penalizeLocked(p.Proposer)
		}
		return nil, err
	}

	out := &Outbound{}

	// A second proposal by the same proposer for the same slot is
	// equivocation. Both stay pending (the fork record) until one side
	// reaches quorum, but the evidence goes out immediately.
	if prev, ok := e.slots[slotKey{p.Proposer, p.Sequence}]; ok && prev.ID != p.ID {
		ev := buildProposalEvidence(prev, p, now)
		e.recordEvidenceLocked(ev)
		out.Evidence = append(out.Evidence, ev)
	}

	e.insertPendingLocked(p, now)

	if p.Sequence > e.state.Sequence+1 {
		// Can't validate against a head we don't have yet.
		return out, protocol.NewRuleError(protocol.ErrMissingAncestor,
			"proposal at seq %d extends past head %d", p.Sequence, e.state.Sequence)
	}
	if p.ParentHash != e.state.HeadHash {
		return out, protocol.NewRuleError(protocol.ErrMissingAncestor,
			"proposal extends unknown parent %s", p.ParentHash)
	}

	decision := protocol.VoteAccept
	if err := e.val.semantic(p, e.state, e.ldg.Snapshot()); err != nil {
		decision = protocol.VoteReject
		e.penalizeLocked(p.Proposer)
		e.cfg.Metrics.ProposalsRejected.Inc()
		e.cfg.Logger.Debugf("game %s: rejecting %s: %v", e.cfg.GameID, p.ID, err)
	}
	if vote := e.castVoteLocked(p, decision, now); vote != nil {
		out.Votes = append(out.Votes, vote)
	}
	e.tryCommitLocked(now, out)
	return out, nil
}

// HandleVote processes a vote received from the mesh.
func (e *Engine) HandleVote(v *protocol.Vote, now uint64) (*Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v == nil {
		return nil, protocol.NewRuleError(protocol.ErrMalformed, "nil vote")
	}
	if v.GameID != e.cfg.GameID || v.Sequence <= e.state.Sequence {
		return nil, protocol.NewRuleError(protocol.ErrStale,
			"vote at seq %d, head is %d", v.Sequence, e.state.Sequence)
	}
	if !e.state.IsParticipant(v.Voter) {
		e.penalizeLocked(v.Voter)
		return nil, protocol.NewRuleError(protocol.ErrMalformed, "vote from non-participant %s", v.Voter)
	}
	pub, ok := e.cfg.ParticipantKeys[v.Voter]
	if !ok || !v.VerifySignature(pub) {
		e.penalizeLocked(v.Voter)
		return nil, protocol.NewRuleError(protocol.ErrMalformed, "bad vote signature from %s", v.Voter)
	}

	out := &Outbound{}

	key := voteKey{v.Voter, v.Sequence}
	if prev, ok := e.votesAt[key]; ok {
		if prev.ProposalID == v.ProposalID && prev.Decision == v.Decision {
			return nil, nil // idempotent duplicate
		}
		// Two conflicting signed votes at one height: equivocation.
		ev := buildVoteEvidence(prev, v, now)
		e.recordEvidenceLocked(ev)
		out.Evidence = append(out.Evidence, ev)
		return out, protocol.NewRuleError(protocol.ErrEquivocation,
			"voter %s equivocated at seq %d", v.Voter, v.Sequence)
	}
	e.votesAt[key] = v

	if pp, ok := e.pending[v.ProposalID]; ok {
		pp.votes[v.Voter] = v
	} else {
		e.stashOrphanLocked(v)
	}

	e.tryCommitLocked(now, out)
	return out, nil
}

// AddEvidence records evidence gossiped by another peer after
// re-verifying it locally. Valid evidence schedules the offender's
// exclusion at the next commit boundary.
func (e *Engine) AddEvidence(ev *protocol.EvidenceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := VerifyEvidence(ev, e.cfg.ParticipantKeys); err != nil {
		return err
	}
	e.recordEvidenceLocked(ev)
	return nil
}

// MaybeViewChange checks for a stalled round. When the round timeout
// has elapsed and this peer has the smallest id among the connected
// participants, it becomes the designated proposer and emits a proposal
// carrying ops (or a harmless no-op when none are queued) to restart
// progress.
func (e *Engine) MaybeViewChange(now uint64, connected []protocol.PeerID, ops []protocol.GameOperation) (*protocol.Proposal, *Outbound, error) {
	e.mu.Lock()
	stalled := now-e.lastProgress >= e.cfg.RoundTimeout
	leader, found := e.smallestConnectedLocked(connected)
	alreadyProposed := false
	if _, dup := e.slots[slotKey{e.self, e.state.Sequence + 1}]; dup {
		alreadyProposed = true
	}
	e.mu.Unlock()

	if !stalled || !found || leader != e.self || alreadyProposed {
		return nil, nil, nil
	}
	if len(ops) == 0 {
		ops = []protocol.GameOperation{protocol.NewTransfer(e.self, e.self, 0)}
	}
	e.cfg.Logger.Infof("game %s: view change, proposing as smallest connected peer", e.cfg.GameID)
	return e.Propose(ops)
}

func (e *Engine) smallestConnectedLocked(connected []protocol.PeerID) (protocol.PeerID, bool) {
	var best protocol.PeerID
	found := false
	for _, p := range connected {
		if !e.state.IsParticipant(p) {
			continue
		}
		if !found || p.Less(best) {
			best = p
			found = true
		}
	}
	return best, found
}

// EvictStale drops pending proposals older than the TTL and returns
// their ids so the bridge can re-request ones that may still matter.
func (e *Engine) EvictStale(now uint64) []protocol.StateHash {
	e.mu.Lock()
	defer e.mu.Unlock()

	var evicted []protocol.StateHash
	for id, pp := range e.pending {
		if now-pp.arrival > e.cfg.ProposalTTL {
			delete(e.pending, id)
			if pp.proposal.Sequence > e.state.Sequence {
				evicted = append(evicted, id)
			}
		}
	}
	return evicted
}

// BuildSyncResponse serves committed proposals to a lagging peer.
func (e *Engine) BuildSyncResponse(req *protocol.SyncRequest) *protocol.SyncResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := &protocol.SyncResponse{GameID: e.cfg.GameID}
	if req.GameID != e.cfg.GameID {
		return resp
	}
	for _, bundle := range e.committed {
		seq := bundle.Proposal.Sequence
		if seq < req.FromSeq {
			continue
		}
		if req.UpToSeq != 0 && seq > req.UpToSeq {
			break
		}
		resp.Entries = append(resp.Entries, bundle)
		if len(resp.Entries) >= e.cfg.SyncBatchSize {
			break
		}
	}
	return resp
}

// ApplySynced replays an ordered run of committed proposals fetched
// from a neighbor. Entries at or below the head are skipped as stale
// (commit idempotence); any inconsistency aborts the sync with the
// state untouched past the last good entry.
func (e *Engine) ApplySynced(entries []protocol.CommitBundle, now uint64) (*Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := &Outbound{}
	for _, en := range entries {
		p := en.Proposal
		if p == nil {
			return out, protocol.NewRuleError(protocol.ErrMalformed, "sync entry without proposal")
		}
		if p.Sequence <= e.state.Sequence {
			continue
		}
		if p.Sequence != e.state.Sequence+1 {
			return out, protocol.NewRuleError(protocol.ErrMissingAncestor,
				"sync gap: got seq %d, expected %d", p.Sequence, e.state.Sequence+1)
		}
		pub, ok := e.cfg.ParticipantKeys[p.Proposer]
		if !ok || !p.VerifySignature(pub) {
			return out, protocol.NewRuleError(protocol.ErrMalformed, "bad proposal signature in sync")
		}
		if err := e.verifyQuorumLocked(p, en.Votes); err != nil {
			return out, err
		}
		pp := &pendingProposal{proposal: p, votes: make(map[protocol.PeerID]*protocol.Vote), arrival: now}
		committed, err := e.commitProposalLocked(pp, en.Votes, now)
		if err != nil {
			return out, err
		}
		out.Committed = append(out.Committed, *committed)
	}
	// Local pending proposals may have become votable or committable.
	e.voteDeferredLocked(now, out)
	e.tryCommitLocked(now, out)
	return out, nil
}

// verifyQuorumLocked checks that votes form a valid Accept quorum for p.
func (e *Engine) verifyQuorumLocked(p *protocol.Proposal, votes []protocol.Vote) error {
	accepts := make(map[protocol.PeerID]bool)
	for i := range votes {
		v := &votes[i]
		if v.ProposalID != p.ID || v.Sequence != p.Sequence || v.Decision != protocol.VoteAccept {
			continue
		}
		if !e.state.IsParticipant(v.Voter) {
			continue
		}
		pub, ok := e.cfg.ParticipantKeys[v.Voter]
		if !ok || !v.VerifySignature(pub) {
			continue
		}
		accepts[v.Voter] = true
	}
	if len(accepts) < e.state.Quorum() {
		return protocol.NewRuleError(protocol.ErrMalformed,
			"sync entry carries %d valid accepts, quorum is %d", len(accepts), e.state.Quorum())
	}
	return nil
}

// --- internals ---

func (e *Engine) insertPendingLocked(p *protocol.Proposal, now uint64) {
	pp := &pendingProposal{
		proposal: p,
		votes:    make(map[protocol.PeerID]*protocol.Vote),
		arrival:  now,
	}
	e.pending[p.ID] = pp
	e.slots[slotKey{p.Proposer, p.Sequence}] = p

	forkSet, ok := e.forks[p.Sequence]
	if !ok {
		forkSet = make(map[protocol.StateHash]struct{})
		e.forks[p.Sequence] = forkSet
	}
	forkSet[p.ID] = struct{}{}
	if len(forkSet) > 1 {
		e.cfg.Metrics.ForksObserved.Inc()
		e.cfg.Logger.Warnf("game %s: %d competing proposals at seq %d",
			e.cfg.GameID, len(forkSet), p.Sequence)
	}

	// Attach any votes that arrived before the proposal.
	if stash, ok := e.orphans[p.ID]; ok {
		for voter, v := range stash {
			pp.votes[voter] = v
		}
		delete(e.orphans, p.ID)
	}
}

// castVoteLocked emits this peer's single vote for a height. It returns
// nil when a vote for this height was already cast: voting twice would
// be our own equivocation.
func (e *Engine) castVoteLocked(p *protocol.Proposal, decision protocol.VoteDecision, now uint64) *protocol.Vote {
	if _, voted := e.votedAt[p.Sequence]; voted {
		return nil
	}
	v := &protocol.Vote{
		ProposalID: p.ID,
		GameID:     p.GameID,
		Sequence:   p.Sequence,
		Voter:      e.self,
		Decision:   decision,
		Timestamp:  now,
	}
	v.Sign(e.cfg.Identity.Priv)
	e.votedAt[p.Sequence] = p.ID
	e.votesAt[voteKey{e.self, p.Sequence}] = v
	if pp, ok := e.pending[p.ID]; ok {
		pp.votes[e.self] = v
	}
	return v
}

func (e *Engine) stashOrphanLocked(v *protocol.Vote) {
	total := 0
	for _, m := range e.orphans {
		total += len(m)
	}
	if total >= maxOrphanVotes {
		e.cfg.Logger.Warnf("game %s: orphan vote stash full, dropping vote from %s",
			e.cfg.GameID, v.Voter)
		return
	}
	stash, ok := e.orphans[v.ProposalID]
	if !ok {
		stash = make(map[protocol.PeerID]*protocol.Vote)
		e.orphans[v.ProposalID] = stash
	}
	stash[v.Voter] = v
}

func (e *Engine) penalizeLocked(peer protocol.PeerID) {
	score := e.reputation[peer] - reputationPenalty
	if score < 0 {
		score = 0
	}
	e.reputation[peer] = score
}

func (e *Engine) recordEvidenceLocked(ev *protocol.EvidenceRecord) {
	id := ev.ID()
	if _, seen := e.evidenceSeen[id]; seen {
		return
	}
	e.evidenceSeen[id] = struct{}{}
	e.evidence = append(e.evidence, *ev)
	e.banned[ev.Offender] = true
	e.penalizeLocked(ev.Offender)
	e.cfg.Metrics.EquivocationsDetected.Inc()
	e.cfg.Logger.Warnf("game %s: %s evidence against %s at seq %d",
		e.cfg.GameID, ev.Kind, ev.Offender, ev.Sequence)
}

// voteDeferredLocked votes on pending proposals that became votable
// after the head advanced.
func (e *Engine) voteDeferredLocked(now uint64, out *Outbound) {
	for _, pp := range e.pending {
		p := pp.proposal
		if p.Sequence != e.state.Sequence+1 || p.ParentHash != e.state.HeadHash {
			continue
		}
		if _, voted := e.votedAt[p.Sequence]; voted {
			continue
		}
		decision := protocol.VoteAccept
		if err := e.val.semantic(p, e.state, e.ldg.Snapshot()); err != nil {
			decision = protocol.VoteReject
		}
		if v := e.castVoteLocked(p, decision, now); v != nil {
			out.Votes = append(out.Votes, v)
		}
	}
}

// tryCommitLocked drains every committable height. At each height the
// candidates holding a quorum of accepts are resolved deterministically
// by smallest proposal id, so simultaneous quorums (only possible with
// double-counted Byzantine votes) cannot split honest peers.
func (e *Engine) tryCommitLocked(now uint64, out *Outbound) {
	for {
		seq := e.state.Sequence + 1
		var winner *pendingProposal
		for id := range e.forks[seq] {
			pp, ok := e.pending[id]
			if !ok {
				continue
			}
			if e.acceptCountLocked(pp) < e.state.Quorum() {
				continue
			}
			if winner == nil || less(pp.proposal.ID, winner.proposal.ID) {
				winner = pp
			}
		}
		if winner == nil {
			return
		}

		votes := acceptVotes(winner)
		committed, err := e.commitProposalLocked(winner, votes, now)
		if err != nil {
			// The proposal gathered a quorum but produced an
			// inconsistent state: discard it and slash the proposer.
			e.cfg.Logger.Errorf("game %s: commit of %s failed: %v",
				e.cfg.GameID, winner.proposal.ID, err)
			e.slashFailedCommitLocked(winner, now, out)
			continue
		}
		out.Committed = append(out.Committed, *committed)
		e.voteDeferredLocked(now, out)
	}
}

func (e *Engine) acceptCountLocked(pp *pendingProposal) int {
	n := 0
	for voter, v := range pp.votes {
		if v.Decision == protocol.VoteAccept && e.state.IsParticipant(voter) {
			n++
		}
	}
	return n
}

func acceptVotes(pp *pendingProposal) []protocol.Vote {
	out := make([]protocol.Vote, 0, len(pp.votes))
	for _, v := range pp.votes {
		if v.Decision == protocol.VoteAccept {
			out = append(out, *v)
		}
	}
	return out
}

func less(a, b protocol.StateHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// slashFailedCommitLocked handles a proposal that passed votes but
// failed the commit re-checks: it is removed, its proposer slashed, and
// overdraft evidence published.
func (e *Engine) slashFailedCommitLocked(pp *pendingProposal, now uint64, out *Outbound) {
	p := pp.proposal
	delete(e.pending, p.ID)
	if set, ok := e.forks[p.Sequence]; ok {
		delete(set, p.ID)
	}
	e.cfg.Metrics.ProposalsRejected.Inc()
	ev := &protocol.EvidenceRecord{
		Kind:      protocol.EvidenceOverdraft,
		Offender:  p.Proposer,
		GameID:    p.GameID,
		Sequence:  p.Sequence,
		First:     protocol.EncodeProposal(p),
		Timestamp: now,
	}
	e.recordEvidenceLocked(ev)
	out.Evidence = append(out.Evidence, ev)
}

// commitProposalLocked is the single critical section that advances the
// head: re-validate, apply through the ledger, verify the hash chain
// and conservation, then swap the state and clean up the height.
func (e *Engine) commitProposalLocked(pp *pendingProposal, votes []protocol.Vote, now uint64) (*StateCommitted, error) {
	p := pp.proposal
	start := time.Now()

	if err := e.val.semantic(p, e.state, e.ldg.Snapshot()); err != nil {
		return nil, err
	}
	next, entries, err := applyOperations(e.state, p.Operations)
	if err != nil {
		return nil, err
	}
	if err := e.ldg.BatchApply(entries); err != nil {
		return nil, err
	}
	if !e.ldg.Conserved() {
		// Unreachable unless the apply path itself is buggy.
		return nil, protocol.NewRuleError(protocol.ErrInternalInvariant,
			"ledger conservation broken after seq %d", p.Sequence)
	}

	next.Sequence = p.Sequence
	next.HeadHash = protocol.HashOperations(e.state.HeadHash, p.Operations)
	next.Balances = e.ldg.Snapshot()

	// Exclusions take effect at the commit boundary.
	for offender := range e.banned {
		next.RemoveParticipant(offender)
		e.cfg.Logger.Infof("game %s: excluding %s at seq %d", e.cfg.GameID, offender, p.Sequence)
	}
	e.banned = make(map[protocol.PeerID]bool)

	e.state = next
	e.committed = append(e.committed, protocol.CommitBundle{Proposal: p, Votes: votes})
	e.lastProgress = now

	// Discard the losing forks and clean the height.
	for id := range e.forks[p.Sequence] {
		if id == p.ID {
			continue
		}
		if loser, ok := e.pending[id]; ok {
			e.penalizeLocked(loser.proposal.Proposer)
		}
		delete(e.pending, id)
	}
	delete(e.pending, p.ID)
	delete(e.forks, p.Sequence)
	for key := range e.votesAt {
		if key.seq <= p.Sequence {
			delete(e.votesAt, key)
		}
	}
	for key := range e.slots {
		if key.seq <= p.Sequence {
			delete(e.slots, key)
		}
	}
	for seq := range e.votedAt {
		if seq <= p.Sequence {
			delete(e.votedAt, seq)
		}
	}
	delete(e.orphans, p.ID)

	e.cfg.Metrics.ProposalsAccepted.Inc()
	e.cfg.Metrics.CommitLatency.Observe(float64(time.Since(start).Milliseconds()))
	e.cfg.Metrics.LedgerTotalSupply.Set(float64(e.ldg.TotalSupply()))
	e.cfg.Logger.Infof("game %s: committed seq %d head %s (%d ops)",
		e.cfg.GameID, next.Sequence, next.HeadHash, len(p.Operations))

	return &StateCommitted{
		GameID:     e.cfg.GameID,
		Sequence:   next.Sequence,
		HeadHash:   next.HeadHash,
		ProposalID: p.ID,
		Proposer:   p.Proposer,
		State:      next.Clone(),
	}, nil
}
