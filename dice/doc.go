// Package dice implements fair two-dice generation from multi-party
// entropy via commit–reveal.
//
// Every participant first publishes H(entropy || peer_id || roll_nonce),
// then reveals the entropy. The combined seed is the hash of the sorted
// concatenation of all valid reveals, so no single peer can bias the
// outcome: the last revealer would need a preimage of everyone else's
// commitments to steer the dice.
//
// A reveal that does not match its commitment, or a second distinct
// commitment for the same roll nonce, produces a misbehavior evidence
// record. A roll round with fewer than two valid reveals fails; open
// bets stay open and a new round starts under a fresh nonce.
package dice
