package protocol

import "fmt"

// BetKind enumerates the craps wagers the engine resolves.
type BetKind uint8

// Bet kinds. Place, Buy, Lay and Hardway carry a box number in the bet's
// Number field; Come and Don't Come record their travelled point there
// once established.
const (
	BetPass BetKind = iota
	BetDontPass
	BetCome
	BetDontCome
	BetField
	BetPlace
	BetBuy
	BetLay
	BetHardway
	BetAny7
	BetAnyCraps

	numBetKinds
)

var betKindNames = map[BetKind]string{
	BetPass:     "pass",
	BetDontPass: "dont-pass",
	BetCome:     "come",
	BetDontCome: "dont-come",
	BetField:    "field",
	BetPlace:    "place",
	BetBuy:      "buy",
	BetLay:      "lay",
	BetHardway:  "hardway",
	BetAny7:     "any7",
	BetAnyCraps: "any-craps",
}

// String returns the bet kind name for logs.
func (k BetKind) String() string {
	if s, ok := betKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("betkind-%d", uint8(k))
}

// Valid reports whether k is a known bet kind.
func (k BetKind) Valid() bool { return k < numBetKinds }

// NeedsNumber reports whether the kind requires a box number at placement.
func (k BetKind) NeedsNumber() bool {
	switch k {
	case BetPlace, BetBuy, BetLay:
		return true
	case BetHardway:
		return true
	default:
		return false
	}
}

// ValidNumber reports whether n is a legal box number for kind k.
// Place, Buy and Lay work the point numbers; hardways only the doubles.
func (k BetKind) ValidNumber(n uint8) bool {
	switch k {
	case BetPlace, BetBuy, BetLay:
		switch n {
		case 4, 5, 6, 8, 9, 10:
			return true
		}
		return false
	case BetHardway:
		switch n {
		case 4, 6, 8, 10:
			return true
		}
		return false
	case BetCome, BetDontCome:
		// Zero until the come point is established by a roll.
		if n == 0 {
			return true
		}
		switch n {
		case 4, 5, 6, 8, 9, 10:
			return true
		}
		return false
	default:
		return n == 0
	}
}

// OpenBet is a wager sitting on the table awaiting resolution. The stake
// has already been escrowed to the treasury by the committed PlaceBet
// operation; resolution pays out of the treasury.
type OpenBet struct {
	Player PeerID
	Kind   BetKind
	Number uint8
	Amount uint64
}

// less orders open bets canonically by (player, kind, number, amount).
func (b OpenBet) less(o OpenBet) bool {
	if b.Player != o.Player {
		return b.Player.Less(o.Player)
	}
	if b.Kind != o.Kind {
		return b.Kind < o.Kind
	}
	if b.Number != o.Number {
		return b.Number < o.Number
	}
	return b.Amount < o.Amount
}
