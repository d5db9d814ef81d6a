package protocol

import (
	"sort"

	"github.com/bitcraps/bitcraps/crypto"
)

// genesisTag seeds the head hash of every new game.
const genesisTag = "BITCRAPS-GENESIS"

// DicePhase is the stage of the current commit–reveal roll round.
type DicePhase uint8

// Dice phases. The maps referenced by Committed and Revealed live on the
// GameState itself.
const (
	PhaseIdle DicePhase = iota
	PhaseCommitted
	PhaseRevealed
	PhaseRolled
)

var dicePhaseNames = [...]string{"idle", "committed", "revealed", "rolled"}

// String returns the phase name for logs.
func (p DicePhase) String() string {
	if int(p) < len(dicePhaseNames) {
		return dicePhaseNames[p]
	}
	return "unknown"
}

// GameState is the per-game committed state. It is a pure function of
// the committed proposal chain from genesis; only the consensus engine
// mutates it, inside a single critical section per commit.
type GameState struct {
	GameID   GameID
	Sequence uint64
	HeadHash StateHash

	Balances map[PeerID]uint64

	Phase       DicePhase
	RollNonce   uint64
	Commitments map[PeerID]StateHash
	Reveals     map[PeerID]Entropy
	LastRoll    DiceRoll // meaningful while Phase == PhaseRolled

	Point uint8 // 0 means come-out
	Bets  []OpenBet

	Participants []PeerID // sorted ascending
}

// GenesisHash derives head_hash_0 for a new game:
// H("BITCRAPS-GENESIS" || game_id || canonical(participants)).
func GenesisHash(gameID GameID, participants []PeerID) StateHash {
	sorted := SortPeers(participants)
	var e encoder
	e.peers(sorted)
	return StateHash(crypto.Hash([]byte(genesisTag), gameID[:], e.bytes()))
}

// NewGenesisState builds the sequence-zero state of a game. Balances
// come from the ledger at commit time, so the genesis map is empty until
// the game's funding transfers commit.
func NewGenesisState(gameID GameID, participants []PeerID) *GameState {
	sorted := SortPeers(participants)
	return &GameState{
		GameID:       gameID,
		Sequence:     0,
		HeadHash:     GenesisHash(gameID, sorted),
		Balances:     make(map[PeerID]uint64),
		Phase:        PhaseIdle,
		RollNonce:    0,
		Commitments:  make(map[PeerID]StateHash),
		Reveals:      make(map[PeerID]Entropy),
		Participants: sorted,
	}
}

// Clone returns a deep copy. External readers always get copies; the
// engine's own head is never shared mutable.
func (s *GameState) Clone() *GameState {
	out := *s
	out.Balances = make(map[PeerID]uint64, len(s.Balances))
	for p, b := range s.Balances {
		out.Balances[p] = b
	}
	out.Commitments = make(map[PeerID]StateHash, len(s.Commitments))
	for p, c := range s.Commitments {
		out.Commitments[p] = c
	}
	out.Reveals = make(map[PeerID]Entropy, len(s.Reveals))
	for p, r := range s.Reveals {
		out.Reveals[p] = r
	}
	out.Bets = append([]OpenBet(nil), s.Bets...)
	out.Participants = append([]PeerID(nil), s.Participants...)
	return &out
}

// IsParticipant reports whether p may propose and vote in this game.
func (s *GameState) IsParticipant(p PeerID) bool {
	for _, q := range s.Participants {
		if q == p {
			return true
		}
	}
	return false
}

// Quorum returns the Byzantine quorum threshold 2n/3 + 1 for the current
// participant set.
func (s *GameState) Quorum() int {
	return 2*len(s.Participants)/3 + 1
}

// Balance returns p's committed balance, zero for unknown accounts.
func (s *GameState) Balance(p PeerID) uint64 { return s.Balances[p] }

// TotalBalances sums every account. Used by the conservation check.
func (s *GameState) TotalBalances() uint64 {
	var total uint64
	for _, b := range s.Balances {
		total += b
	}
	return total
}

// AddParticipant inserts p keeping the set sorted. No-op if present.
func (s *GameState) AddParticipant(p PeerID) {
	if s.IsParticipant(p) {
		return
	}
	s.Participants = append(s.Participants, p)
	s.Participants = SortPeers(s.Participants)
}

// RemoveParticipant deletes p from the set. No-op if absent.
func (s *GameState) RemoveParticipant(p PeerID) {
	for i, q := range s.Participants {
		if q == p {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return
		}
	}
}

// SortPeers returns a sorted copy of ids with duplicates removed.
func SortPeers(ids []PeerID) []PeerID {
	out := append([]PeerID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	dedup := out[:0]
	for i, p := range out {
		if i == 0 || p != out[i-1] {
			dedup = append(dedup, p)
		}
	}
	return dedup
}

// SortBets returns a canonically ordered copy of bets.
func SortBets(bets []OpenBet) []OpenBet {
	out := append([]OpenBet(nil), bets...)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// SortEvidence returns a canonically ordered copy of records.
func SortEvidence(evs []EvidenceRecord) []EvidenceRecord {
	out := append([]EvidenceRecord(nil), evs...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		return a.less(&b)
	})
	return out
}
