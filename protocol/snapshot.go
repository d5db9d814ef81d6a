package protocol

import "sort"

// A snapshot is the canonical persisted form of a committed state plus
// the evidence log: {head_hash, seq, balances, dice_phase, point,
// open_bets, participants, evidence}, every collection sorted. The
// persistence collaborator treats it as opaque bytes keyed by
// (game_id, seq); two honest peers at the same head produce identical
// snapshots byte for byte.

// EncodeSnapshot serializes state and evidence canonically.
func EncodeSnapshot(s *GameState, evidence []EvidenceRecord) []byte {
	var e encoder
	e.hash(s.HeadHash)
	e.u64(s.Sequence)

	peers := make([]PeerID, 0, len(s.Balances))
	for p := range s.Balances {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Less(peers[j]) })
	e.u16(uint16(len(peers)))
	for _, p := range peers {
		e.peer(p)
		e.u64(s.Balances[p])
	}

	e.u8(uint8(s.Phase))
	e.u64(s.RollNonce)

	committers := make([]PeerID, 0, len(s.Commitments))
	for p := range s.Commitments {
		committers = append(committers, p)
	}
	sort.Slice(committers, func(i, j int) bool { return committers[i].Less(committers[j]) })
	e.u16(uint16(len(committers)))
	for _, p := range committers {
		e.peer(p)
		e.hash(s.Commitments[p])
	}

	revealers := make([]PeerID, 0, len(s.Reveals))
	for p := range s.Reveals {
		revealers = append(revealers, p)
	}
	sort.Slice(revealers, func(i, j int) bool { return revealers[i].Less(revealers[j]) })
	e.u16(uint16(len(revealers)))
	for _, p := range revealers {
		e.peer(p)
		e.entropy(s.Reveals[p])
	}

	e.u8(s.LastRoll.D1)
	e.u8(s.LastRoll.D2)
	e.u8(s.Point)

	bets := SortBets(s.Bets)
	e.u16(uint16(len(bets)))
	for _, b := range bets {
		e.peer(b.Player)
		e.u8(uint8(b.Kind))
		e.u8(b.Number)
		e.u64(b.Amount)
	}

	e.peers(SortPeers(s.Participants))

	evs := SortEvidence(evidence)
	e.u16(uint16(len(evs)))
	for i := range evs {
		e.vbytes(EncodeEvidence(&evs[i]))
	}

	return e.bytes()
}

// DecodeSnapshot parses a canonical snapshot back into a state and its
// evidence log. The game id is the store key, not part of the snapshot,
// so the caller supplies it.
func DecodeSnapshot(gameID GameID, b []byte) (*GameState, []EvidenceRecord, error) {
	d := newDecoder(b)
	s := &GameState{
		GameID:      gameID,
		Balances:    make(map[PeerID]uint64),
		Commitments: make(map[PeerID]StateHash),
		Reveals:     make(map[PeerID]Entropy),
	}

	s.HeadHash = d.hash()
	s.Sequence = d.u64()

	nBalances := d.u16()
	for i := 0; i < int(nBalances) && d.err == nil; i++ {
		p := d.peer()
		s.Balances[p] = d.u64()
	}

	s.Phase = DicePhase(d.u8())
	s.RollNonce = d.u64()

	nCommits := d.u16()
	for i := 0; i < int(nCommits) && d.err == nil; i++ {
		p := d.peer()
		s.Commitments[p] = d.hash()
	}

	nReveals := d.u16()
	for i := 0; i < int(nReveals) && d.err == nil; i++ {
		p := d.peer()
		s.Reveals[p] = d.entropy()
	}

	s.LastRoll.D1 = d.u8()
	s.LastRoll.D2 = d.u8()
	s.Point = d.u8()

	nBets := d.u16()
	for i := 0; i < int(nBets) && d.err == nil; i++ {
		var bet OpenBet
		bet.Player = d.peer()
		bet.Kind = BetKind(d.u8())
		bet.Number = d.u8()
		bet.Amount = d.u64()
		s.Bets = append(s.Bets, bet)
	}

	s.Participants = d.peers()

	var evidence []EvidenceRecord
	nEvs := d.u16()
	for i := 0; i < int(nEvs) && d.err == nil; i++ {
		raw := d.vbytes()
		if d.err != nil {
			break
		}
		ev, err := DecodeEvidence(raw)
		if err != nil {
			return nil, nil, err
		}
		evidence = append(evidence, *ev)
	}

	if err := d.done(); err != nil {
		return nil, nil, err
	}
	if s.Phase > PhaseRolled {
		return nil, nil, NewRuleError(ErrMalformed, "unknown dice phase %d", s.Phase)
	}
	return s, evidence, nil
}
