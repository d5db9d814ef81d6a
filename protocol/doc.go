// Package protocol defines the data model shared by every component of
// the distributed craps engine: peer and game identifiers, game
// operations, proposals and votes, misbehavior evidence, the per-game
// state, and the canonical byte encoding of all of them.
//
// # Canonical Encoding
//
// Two peers encoding the same logical value must produce identical
// bytes, because state hashes and signatures are computed over these
// encodings. The rules are fixed-width big-endian integers,
// length-prefixed byte strings, and map entries sorted by key. No
// floating point appears anywhere on the wire. Encoders are written by
// rule, never by reflection.
//
// # State
//
// GameState is a pure function of the committed proposal chain from
// genesis: replaying the same proposals from the same genesis always
// reproduces a byte-identical snapshot. The head hash chains each
// committed batch of operations onto the previous head.
package protocol
