package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitcraps/bitcraps/protocol"
)

// FileStore persists each snapshot as one file named
// <game-hex>-<seq>.snap under its directory.
type FileStore struct {
	dir string
}

// NewFileStore creates (if needed) and opens a snapshot directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(gameID protocol.GameID, seq uint64) string {
	name := fmt.Sprintf("%s-%d.snap", hex.EncodeToString(gameID[:]), seq)
	return filepath.Join(f.dir, name)
}

// Save writes the snapshot through a temp file and rename so a crash
// never leaves a torn snapshot behind.
func (f *FileStore) Save(gameID protocol.GameID, seq uint64, snapshot []byte) error {
	final := f.path(gameID, seq)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("storage: rename %s: %w", final, err)
	}
	return nil
}

// LoadLatest scans the directory for the game's highest sequence.
func (f *FileStore) LoadLatest(gameID protocol.GameID) ([]byte, uint64, bool, error) {
	prefix := hex.EncodeToString(gameID[:]) + "-"
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, 0, false, fmt.Errorf("storage: read %s: %w", f.dir, err)
	}

	var best uint64
	var bestPath string
	for _, en := range entries {
		name := en.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".snap") {
			continue
		}
		seqStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".snap")
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}
		if bestPath == "" || seq > best {
			best = seq
			bestPath = filepath.Join(f.dir, name)
		}
	}
	if bestPath == "" {
		return nil, 0, false, nil
	}
	data, err := os.ReadFile(bestPath)
	if err != nil {
		return nil, 0, false, fmt.Errorf("storage: read %s: %w", bestPath, err)
	}
	return data, best, true, nil
}
