package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/protocol"
)

func pid(b byte) protocol.PeerID {
	var p protocol.PeerID
	for i := range p {
		p[i] = b
	}
	return p
}

func TestTransfer(t *testing.T) {
	l := New(3000)
	a, b := pid(1), pid(2)

	require.NoError(t, l.Transfer(Treasury, a, 1000))
	require.NoError(t, l.Transfer(Treasury, b, 1000))
	require.EqualValues(t, 1000, l.Balance(a))
	require.EqualValues(t, 1000, l.Balance(Treasury))

	require.NoError(t, l.Transfer(a, b, 250))
	require.EqualValues(t, 750, l.Balance(a))
	require.EqualValues(t, 1250, l.Balance(b))
	require.True(t, l.Conserved())
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := New(100)
	a, b := pid(1), pid(2)
	require.NoError(t, l.Transfer(Treasury, a, 50))

	err := l.Transfer(a, b, 51)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	require.EqualValues(t, 50, l.Balance(a))
	require.EqualValues(t, 0, l.Balance(b))
	require.True(t, l.Conserved())
}

func TestTransferOverflowRejectedNotSaturated(t *testing.T) {
	l := New(math.MaxUint64)
	a := pid(1)
	require.NoError(t, l.Transfer(Treasury, a, math.MaxUint64-1))

	// Seed a rogue balance directly, simulating the corrupt arithmetic a
	// Byzantine proposal would need, to prove the credit side rejects.
	l.balances[pid(2)] = 2

	err := l.Transfer(pid(2), a, 2)
	require.ErrorIs(t, err, ErrLedgerOverflow)
	require.EqualValues(t, uint64(math.MaxUint64-1), l.Balance(a))
	require.EqualValues(t, 2, l.Balance(pid(2)))
}

func TestSelfTransferIsNoop(t *testing.T) {
	l := New(100)
	a := pid(1)
	require.NoError(t, l.Transfer(Treasury, a, 60))
	require.NoError(t, l.Transfer(a, a, 60))
	require.EqualValues(t, 60, l.Balance(a))

	require.ErrorIs(t, l.Transfer(a, a, 61), ErrInsufficientFunds)
}

func TestBatchApplyAllOrNothing(t *testing.T) {
	l := New(1000)
	a, b := pid(1), pid(2)
	require.NoError(t, l.Transfer(Treasury, a, 100))

	before := l.Snapshot()
	err := l.BatchApply([]Entry{
		{From: a, To: b, Amount: 80},  // fine on its own
		{From: b, To: a, Amount: 200}, // fails: b only has 80
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, before, l.Snapshot())
	require.True(t, l.Conserved())
}

func TestBatchApplyCommits(t *testing.T) {
	l := New(1000)
	a, b := pid(1), pid(2)
	require.NoError(t, l.Transfer(Treasury, a, 500))

	require.NoError(t, l.BatchApply([]Entry{
		{From: a, To: b, Amount: 100},
		{From: b, To: Treasury, Amount: 40},
	}))
	require.EqualValues(t, 400, l.Balance(a))
	require.EqualValues(t, 60, l.Balance(b))
	require.EqualValues(t, 540, l.Balance(Treasury))
	require.True(t, l.Conserved())
}

func TestTotalSupplyConstant(t *testing.T) {
	l := New(777)
	require.EqualValues(t, 777, l.TotalSupply())
	require.NoError(t, l.Transfer(Treasury, pid(1), 300))
	require.NoError(t, l.Transfer(pid(1), pid(2), 150))
	require.EqualValues(t, 777, l.TotalSupply())
	require.True(t, l.Conserved())
}
