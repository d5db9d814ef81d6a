// Package ledger implements the conservation-preserving token ledger.
// Balances only change through committed consensus operations; the total
// supply minted at construction never changes.
package ledger

import (
	"math"
	"sync"

	"github.com/bitcraps/bitcraps/protocol"
)

// Treasury is the designated account holding the initial supply. All
// other accounts start at zero and are funded only by transfers out of
// an existing account. Bet escrow also flows through it.
var Treasury = protocol.PeerID{'T', 'R', 'E', 'A', 'S', 'U', 'R', 'Y'}

// TokenLedger tracks account balances for one game economy. All
// arithmetic is checked; the ledger rejects rather than wraps or
// saturates. The consensus commit path owns mutation; everyone else
// reads point-in-time snapshots.
type TokenLedger struct {
	mu       sync.RWMutex
	balances map[protocol.PeerID]uint64
	supply   uint64
}

// New creates a ledger with initialSupply minted to the treasury.
func New(initialSupply uint64) *TokenLedger {
	return &TokenLedger{
		balances: map[protocol.PeerID]uint64{Treasury: initialSupply},
		supply:   initialSupply,
	}
}

// Balance returns the balance of peer, zero for unknown accounts.
func (l *TokenLedger) Balance(peer protocol.PeerID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[peer]
}

// TotalSupply returns the constant total supply.
func (l *TokenLedger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// Snapshot returns a copy of every balance.
func (l *TokenLedger) Snapshot() map[protocol.PeerID]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[protocol.PeerID]uint64, len(l.balances))
	for p, b := range l.balances {
		out[p] = b
	}
	return out
}

// Transfer atomically moves amount from one account to another. It
// fails with ErrInsufficientFunds or ErrLedgerOverflow before any
// mutation. A zero-amount transfer is a no-op that still validates the
// debit side.
func (l *TokenLedger) Transfer(from, to protocol.PeerID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

func (l *TokenLedger) transferLocked(from, to protocol.PeerID, amount uint64) error {
	src := l.balances[from]
	if src < amount {
		return ledgerError(ErrInsufficientFunds, "account %s has %d, needs %d", from, src, amount)
	}
	if from == to {
		return nil
	}
	dst := l.balances[to]
	if dst > math.MaxUint64-amount {
		return ledgerError(ErrLedgerOverflow, "credit of %d would overflow account %s", amount, to)
	}
	l.balances[from] = src - amount
	l.balances[to] = dst + amount
	return nil
}

// Entry is one balance movement inside a batch.
type Entry struct {
	From   protocol.PeerID
	To     protocol.PeerID
	Amount uint64
}

// BatchApply applies every entry or none. The consensus commit path
// uses it so a proposal's balance effects are atomic: on the first
// failing entry all prior entries are rolled back and the error is
// returned, the head does not advance, and no balances change.
func (l *TokenLedger) BatchApply(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	created := make(map[protocol.PeerID]bool)
	for i, en := range entries {
		for _, p := range []protocol.PeerID{en.From, en.To} {
			if _, ok := l.balances[p]; !ok {
				created[p] = true
			}
		}
		if err := l.transferLocked(en.From, en.To, en.Amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				undo := entries[j]
				if rerr := l.transferLocked(undo.To, undo.From, undo.Amount); rerr != nil {
					// Undoing a transfer that just applied cannot fail.
					panic("ledger: rollback failed: " + rerr.Error())
				}
			}
			// Accounts first seen in this batch are back at zero; drop
			// them so the account map is exactly as it was.
			for p := range created {
				delete(l.balances, p)
			}
			return err
		}
	}
	return nil
}

// Conserved reports whether the sum of all balances equals the supply.
// The engine checks it after every commit; a mismatch is a local code
// bug, not an adversarial condition.
func (l *TokenLedger) Conserved() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, b := range l.balances {
		total += b
	}
	return total == l.supply
}
