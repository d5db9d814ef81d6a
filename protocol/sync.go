package protocol

// SyncRequest asks neighbors for the committed proposals a lagging peer
// is missing.
type SyncRequest struct {
	GameID    GameID
	KnownHead StateHash
	FromSeq   uint64 // first sequence wanted
	UpToSeq   uint64 // inclusive; 0 means "as far as you have"
}

// EncodeSyncRequest returns the canonical wire encoding of r.
func EncodeSyncRequest(r *SyncRequest) []byte {
	var e encoder
	e.game(r.GameID)
	e.hash(r.KnownHead)
	e.u64(r.FromSeq)
	e.u64(r.UpToSeq)
	return e.bytes()
}

// DecodeSyncRequest parses a canonical sync request.
func DecodeSyncRequest(b []byte) (*SyncRequest, error) {
	d := newDecoder(b)
	var r SyncRequest
	r.GameID = d.game()
	r.KnownHead = d.hash()
	r.FromSeq = d.u64()
	r.UpToSeq = d.u64()
	if err := d.done(); err != nil {
		return nil, err
	}
	return &r, nil
}

// CommitBundle is one committed proposal plus the vote quorum that
// committed it, replayable by any peer.
type CommitBundle struct {
	Proposal *Proposal
	Votes    []Vote
}

// SyncResponse carries an ordered run of committed proposals.
type SyncResponse struct {
	GameID  GameID
	Entries []CommitBundle
}

// EncodeSyncResponse returns the canonical wire encoding of r.
func EncodeSyncResponse(r *SyncResponse) []byte {
	var e encoder
	e.game(r.GameID)
	e.u16(uint16(len(r.Entries)))
	for _, en := range r.Entries {
		e.vbytes(EncodeProposal(en.Proposal))
		e.u16(uint16(len(en.Votes)))
		for i := range en.Votes {
			e.vbytes(EncodeVote(&en.Votes[i]))
		}
	}
	return e.bytes()
}

// DecodeSyncResponse parses a canonical sync response.
func DecodeSyncResponse(b []byte) (*SyncResponse, error) {
	d := newDecoder(b)
	var r SyncResponse
	r.GameID = d.game()
	n := d.u16()
	if d.err == nil && n > maxListLen {
		return nil, NewRuleError(ErrMalformed, "sync entry count %d exceeds bound", n)
	}
	for i := 0; i < int(n) && d.err == nil; i++ {
		var en CommitBundle
		praw := d.vbytes()
		if d.err != nil {
			break
		}
		p, err := DecodeProposal(praw)
		if err != nil {
			return nil, err
		}
		en.Proposal = p
		nv := d.u16()
		if d.err == nil && nv > maxListLen {
			return nil, NewRuleError(ErrMalformed, "sync vote count %d exceeds bound", nv)
		}
		for j := 0; j < int(nv) && d.err == nil; j++ {
			vraw := d.vbytes()
			if d.err != nil {
				break
			}
			v, err := DecodeVote(vraw)
			if err != nil {
				return nil, err
			}
			en.Votes = append(en.Votes, *v)
		}
		r.Entries = append(r.Entries, en)
	}
	if err := d.done(); err != nil {
		return nil, err
	}
	return &r, nil
}
