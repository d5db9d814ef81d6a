package storage

import (
	"sync"

	"github.com/bitcraps/bitcraps/protocol"
)

// MemoryStore keeps snapshots in a map. It is the default store for
// tests and the simulator.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[protocol.GameID]map[uint64][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[protocol.GameID]map[uint64][]byte)}
}

// Save records the snapshot for (gameID, seq).
func (m *MemoryStore) Save(gameID protocol.GameID, seq uint64, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs, ok := m.games[gameID]
	if !ok {
		seqs = make(map[uint64][]byte)
		m.games[gameID] = seqs
	}
	seqs[seq] = append([]byte(nil), snapshot...)
	return nil
}

// LoadLatest returns the highest-sequence snapshot for gameID.
func (m *MemoryStore) LoadLatest(gameID protocol.GameID) ([]byte, uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seqs, ok := m.games[gameID]
	if !ok || len(seqs) == 0 {
		return nil, 0, false, nil
	}
	var best uint64
	found := false
	for seq := range seqs {
		if !found || seq > best {
			best = seq
			found = true
		}
	}
	return append([]byte(nil), seqs[best]...), best, true, nil
}
