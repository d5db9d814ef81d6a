// Package storage defines the persistence collaborator for committed
// snapshots and provides the in-memory and file-backed implementations
// used by tests and the simulator. Snapshots are opaque bytes keyed by
// (game id, sequence); the canonical encoding lives in package protocol.
package storage

import "github.com/bitcraps/bitcraps/protocol"

// Store persists committed snapshots.
type Store interface {
	// Save records the snapshot for (gameID, seq). Saving the same key
	// twice overwrites; snapshots are deterministic so the bytes match.
	Save(gameID protocol.GameID, seq uint64, snapshot []byte) error

	// LoadLatest returns the highest-sequence snapshot for gameID, or
	// ok == false when none exists.
	LoadLatest(gameID protocol.GameID) (snapshot []byte, seq uint64, ok bool, err error)
}
