package craps

import "github.com/bitcraps/bitcraps/protocol"

// Outcome is the fate of one open bet for one roll.
type Outcome uint8

// Outcomes. Carry means the bet stays on the table.
const (
	OutcomeWin Outcome = iota
	OutcomeLose
	OutcomePush
	OutcomeCarry
)

var outcomeNames = [...]string{"win", "lose", "push", "carry"}

// String returns the outcome name for logs.
func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// BetResolution records what one roll did to one bet. Payout is the
// total amount returned to the player out of escrow: stake plus
// winnings on a win, the bare stake on a push, zero on a loss or carry.
type BetResolution struct {
	Bet     protocol.OpenBet
	Outcome Outcome
	Payout  uint64
}

// Result is the full effect of one roll on the table.
type Result struct {
	Resolutions []BetResolution
	Remaining   []protocol.OpenBet // still open after the roll, canonical order
	NewPoint    uint8              // 0 when no point is on
}

// Evaluate resolves every open bet against one roll. It is pure and
// deterministic; callers pass the committed point and bets and apply the
// returned payouts through the ledger.
//
// Come-out (point == 0): 7 and 11 win the pass line, 2, 3 and 12 lose
// it; 12 pushes the don't-pass line rather than winning it; any other
// total establishes the point. Point phase: the point repeats before a
// 7 to win the pass line; a 7 wins the don't side and clears the point.
// Field, Any7 and Any Craps resolve on every roll. Hardways, place, buy
// and lay bets work on every roll. Come and don't-come travel to their
// own point after their first roll.
func Evaluate(point uint8, bets []protocol.OpenBet, roll protocol.DiceRoll) Result {
	total := roll.Total()
	res := Result{NewPoint: nextPoint(point, total)}

	for _, bet := range bets {
		r := resolveBet(point, bet, roll)
		if r.Outcome == OutcomeCarry {
			res.Remaining = append(res.Remaining, r.Bet)
			continue
		}
		res.Resolutions = append(res.Resolutions, r)
	}
	res.Remaining = protocol.SortBets(res.Remaining)
	return res
}

// nextPoint computes the point after a roll.
func nextPoint(point, total uint8) uint8 {
	if point == 0 {
		switch total {
		case 4, 5, 6, 8, 9, 10:
			return total
		default:
			return 0
		}
	}
	if total == point || total == 7 {
		return 0
	}
	return point
}

// resolveBet resolves one bet. The returned resolution carries the bet
// back so come-bet travel (a changed Number) survives a carry.
func resolveBet(point uint8, bet protocol.OpenBet, roll protocol.DiceRoll) BetResolution {
	total := roll.Total()

	switch bet.Kind {
	case protocol.BetPass:
		return resolvePassLine(point, bet, total)

	case protocol.BetDontPass:
		return resolveDontPassLine(point, bet, total)

	case protocol.BetCome:
		if bet.Number == 0 {
			// A fresh come bet sees its own come-out roll.
			switch {
			case total == 7 || total == 11:
				return win(bet, evenMoney)
			case total == 2 || total == 3 || total == 12:
				return lose(bet)
			default:
				bet.Number = total
				return carry(bet)
			}
		}
		if total == bet.Number {
			return win(bet, evenMoney)
		}
		if total == 7 {
			return lose(bet)
		}
		return carry(bet)

	case protocol.BetDontCome:
		if bet.Number == 0 {
			switch {
			case total == 7 || total == 11:
				return lose(bet)
			case total == 2 || total == 3:
				return win(bet, evenMoney)
			case total == 12:
				return push(bet) // bar twelve
			default:
				bet.Number = total
				return carry(bet)
			}
		}
		if total == 7 {
			return win(bet, evenMoney)
		}
		if total == bet.Number {
			return lose(bet)
		}
		return carry(bet)

	case protocol.BetField:
		if p, ok := fieldPayout(total); ok {
			return win(bet, p)
		}
		return lose(bet)

	case protocol.BetHardway:
		if total == 7 {
			return lose(bet)
		}
		if total == bet.Number {
			if roll.IsHard() {
				return win(bet, hardwayPayout[bet.Number])
			}
			return lose(bet) // the easy way
		}
		return carry(bet)

	case protocol.BetPlace:
		if total == bet.Number {
			return win(bet, placePayout[bet.Number])
		}
		if total == 7 {
			return lose(bet)
		}
		return carry(bet)

	case protocol.BetBuy:
		if total == bet.Number {
			return win(bet, buyPayout[bet.Number])
		}
		if total == 7 {
			return lose(bet)
		}
		return carry(bet)

	case protocol.BetLay:
		if total == 7 {
			return win(bet, layPayout[bet.Number])
		}
		if total == bet.Number {
			return lose(bet)
		}
		return carry(bet)

	case protocol.BetAny7:
		if total == 7 {
			return win(bet, any7Payout)
		}
		return lose(bet)

	case protocol.BetAnyCraps:
		if total == 2 || total == 3 || total == 12 {
			return win(bet, anyCrapsPayout)
		}
		return lose(bet)
	}

	// Unknown kinds cannot reach commit; the validator rejects them.
	return lose(bet)
}

func resolvePassLine(point uint8, bet protocol.OpenBet, total uint8) BetResolution {
	if point == 0 {
		switch {
		case total == 7 || total == 11:
			return win(bet, evenMoney)
		case total == 2 || total == 3 || total == 12:
			return lose(bet)
		default:
			return carry(bet)
		}
	}
	if total == point {
		return win(bet, evenMoney)
	}
	if total == 7 {
		return lose(bet)
	}
	return carry(bet)
}

func resolveDontPassLine(point uint8, bet protocol.OpenBet, total uint8) BetResolution {
	if point == 0 {
		switch {
		case total == 7 || total == 11:
			return lose(bet)
		case total == 2 || total == 3:
			return win(bet, evenMoney)
		case total == 12:
			return push(bet) // bar twelve
		default:
			return carry(bet)
		}
	}
	if total == 7 {
		return win(bet, evenMoney)
	}
	if total == point {
		return lose(bet)
	}
	return carry(bet)
}

func win(bet protocol.OpenBet, p payout) BetResolution {
	return BetResolution{Bet: bet, Outcome: OutcomeWin, Payout: winPayout(bet.Kind, bet.Amount, p)}
}

func lose(bet protocol.OpenBet) BetResolution {
	return BetResolution{Bet: bet, Outcome: OutcomeLose}
}

func push(bet protocol.OpenBet) BetResolution {
	return BetResolution{Bet: bet, Outcome: OutcomePush, Payout: bet.Amount}
}

func carry(bet protocol.OpenBet) BetResolution {
	return BetResolution{Bet: bet, Outcome: OutcomeCarry}
}
