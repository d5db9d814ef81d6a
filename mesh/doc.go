// Package mesh carries consensus messages across an unreliable
// broadcast substrate whose only guarantees are "may deliver, may
// duplicate, may reorder, may drop".
//
// # What the bridge does
//
// Frames are versioned, signed envelopes. Messages larger than the
// frame limit are fragmented and reassembled by message id. A bounded
// LRU absorbs duplicates; resends after eviction are harmless because
// every consensus message is idempotent. Each unseen frame is forwarded
// to all neighbors except its immediate sender, rate-limited per
// neighbor and per game by a token bucket — excess is dropped, never
// queued unboundedly.
//
// When a proposal references an unknown parent state the bridge emits a
// SyncRequest; peers answer with ordered committed proposals that the
// engine replays.
//
// # What the bridge does not do
//
// No ordering: the consensus engine orders by (parent hash, sequence).
// No reliability: the engine re-requests whatever it still needs, so
// cancelling an in-flight send has no visible effect on consensus.
package mesh
