package craps

import "github.com/bitcraps/bitcraps/protocol"

// payout is a rational winnings multiplier: a winning stake earns
// floor(stake*num/den) on top of its returned stake. The house edge of
// the game is encoded entirely in this table's asymmetry; there is no
// separate house fee.
type payout struct {
	num uint64
	den uint64
}

// commissionDen is the vigorish divisor for buy and lay bets: a winning
// bet pays floor(stake/20) (5%) back to the treasury, subtracted from
// the winnings.
const commissionDen = 20

// Flat even-money payouts.
var evenMoney = payout{1, 1}

// fieldPayout returns the field multiplier for a total, and whether the
// field wins at all. 3, 4, 9, 10 and 11 pay even money; 2 and 12 pay
// double.
func fieldPayout(total uint8) (payout, bool) {
	switch total {
	case 3, 4, 9, 10, 11:
		return payout{1, 1}, true
	case 2, 12:
		return payout{2, 1}, true
	default:
		return payout{}, false
	}
}

// hardwayPayout returns the multiplier for a hardway on its box number.
var hardwayPayout = map[uint8]payout{
	4:  {7, 1},
	10: {7, 1},
	6:  {9, 1},
	8:  {9, 1},
}

// placePayout returns the multiplier for a place bet on its box number.
var placePayout = map[uint8]payout{
	4:  {9, 5},
	10: {9, 5},
	5:  {7, 5},
	9:  {7, 5},
	6:  {7, 6},
	8:  {7, 6},
}

// buyPayout pays true odds, less commission.
var buyPayout = map[uint8]payout{
	4:  {2, 1},
	10: {2, 1},
	5:  {3, 2},
	9:  {3, 2},
	6:  {6, 5},
	8:  {6, 5},
}

// layPayout pays true odds against the number, less commission.
var layPayout = map[uint8]payout{
	4:  {1, 2},
	10: {1, 2},
	5:  {2, 3},
	9:  {2, 3},
	6:  {5, 6},
	8:  {5, 6},
}

// Single-roll proposition payouts.
var (
	any7Payout     = payout{4, 1}
	anyCrapsPayout = payout{7, 1}
)

// winnings returns floor(stake*num/den). Stakes are bounded well below
// the overflow range by the validator's max-bet check, and the ledger
// re-checks every credit at commit, so plain u64 arithmetic is safe
// here.
func (p payout) winnings(stake uint64) uint64 {
	return stake * p.num / p.den
}

// commission returns the vigorish owed on a winning buy or lay stake.
func commission(stake uint64) uint64 {
	return stake / commissionDen
}

// winPayout is the total returned to the player for a winning bet:
// stake plus winnings, less commission where the kind charges one.
func winPayout(kind protocol.BetKind, stake uint64, p payout) uint64 {
	total := stake + p.winnings(stake)
	if kind == protocol.BetBuy || kind == protocol.BetLay {
		total -= commission(stake)
	}
	return total
}
