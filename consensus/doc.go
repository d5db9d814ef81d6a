// Package consensus implements the Byzantine fault tolerant state
// machine that lets untrusted peers agree on the sequence of bets and
// dice outcomes of a craps game without a coordinator.
//
// # Architecture
//
// The engine sits between the game manager and the mesh bridge,
// validating and committing operations through a voting mechanism. Each
// proposal must receive a quorum of signed Accept votes before being
// applied to the ledger and the game state.
//
// # Consensus Protocol Flow
//
// 1. Propose: a local operation batch becomes a signed Proposal
// extending the committed head at the next sequence number.
//
// 2. Validate: each peer independently runs the two-phase validator —
// cheap syntactic checks first, then semantic checks against the head
// state. Two honest peers always agree on whether a proposal is valid
// against a given state.
//
// 3. Vote: each peer emits exactly one signed Accept or Reject per
// height. A second conflicting vote from the same voter at the same
// height is equivocation evidence.
//
// 4. Commit: at quorum (2n/3 + 1 accepts) the proposal is re-validated,
// applied atomically through the ledger, and the head advances.
// Competing proposals at the height are discarded and their proposers'
// reputation debited.
//
// # Byzantine Fault Tolerance
//
// The protocol tolerates up to f Byzantine peers where f < n/3. Safety
// is preferred over liveness: during a partition the minority side
// stalls at its last committed head and fast-forwards via sync on heal.
//
// # Accountability
//
// Every vote and proposal is signed. Conflicting signed statements at
// the same height become content-addressed EvidenceRecords, gossiped to
// all peers; the offender is removed from the participant set at the
// next commit boundary.
package consensus
