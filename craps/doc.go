// Package craps implements the deterministic bet resolution rules that
// drive state transitions at commit time.
//
// # Determinism
//
// Evaluate is a pure function: the same point, bets and dice always
// produce the same resolutions, byte for byte, on every peer. All
// payouts are integer arithmetic over a fixed rational table; odd
// divisions round down, so the bettor receives floor(stake*num/den).
// No floating point is used anywhere.
//
// # Escrow model
//
// A committed PlaceBet moves the stake from the player to the treasury.
// Resolution pays winners out of the treasury (stake plus winnings),
// returns stakes on a push, and keeps lost stakes. The ledger's
// conservation invariant holds across every resolution because every
// token stays inside the same supply.
package craps
