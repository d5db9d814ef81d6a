// Package gaming is the per-game façade over the consensus engine and
// the mesh bridge. The manager owns game lifecycles, schedules the
// commit and reveal deadlines of dice rounds as consensus operations,
// persists committed snapshots, and surfaces state updates and evidence
// to the application as bounded event streams.
//
// # Game lifecycle
//
// Lobby -> Active -> (CommitPhase -> RevealPhase -> Resolved)* ->
// Completed. Transitions are driven by committed operations, never by
// the local clock; deadline timers only enqueue further operations into
// consensus.
package gaming
