package dice

import (
	"bytes"
	"sort"

	"go.dedis.ch/kyber/v4/util/random"

	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/protocol"
)

// MinReveals is the minimum number of valid reveals for a roll to
// complete. Below it the round fails and restarts under a fresh nonce.
const MinReveals = 2

// GenerateEntropy draws a uniformly random 32-byte contribution.
func GenerateEntropy() protocol.Entropy {
	var e protocol.Entropy
	random.Bytes(e[:], random.New())
	return e
}

// CombineSeed hashes the sorted concatenation of the revealed entropies
// into the roll seed. Sorting makes the seed independent of reveal
// arrival order.
func CombineSeed(reveals []protocol.Entropy) [32]byte {
	sorted := append([]protocol.Entropy(nil), reveals...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	chunks := make([][]byte, len(sorted))
	for i := range sorted {
		chunks[i] = sorted[i][:]
	}
	return crypto.Hash(chunks...)
}

// DeriveRoll maps a seed to two dice: d = (seed byte mod 6) + 1.
func DeriveRoll(seed [32]byte) protocol.DiceRoll {
	return protocol.DiceRoll{
		D1: seed[0]%6 + 1,
		D2: seed[1]%6 + 1,
	}
}

// RollFromReveals is the full derivation used at commit time: combine
// the valid reveals and derive the dice. It fails when fewer than
// MinReveals entropies are present.
func RollFromReveals(reveals []protocol.Entropy) (protocol.DiceRoll, error) {
	if len(reveals) < MinReveals {
		return protocol.DiceRoll{}, errTooFewReveals(len(reveals))
	}
	return DeriveRoll(CombineSeed(reveals)), nil
}
