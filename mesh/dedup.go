package mesh

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bitcraps/bitcraps/protocol"
)

// frameKey identifies one frame: fragments of the same message are
// distinct frames and must each survive dedup once.
type frameKey struct {
	id   MsgID
	frag uint16
}

// deduper absorbs duplicate frames with one bounded LRU per game, so a
// chatty game cannot evict another game's recent ids. Resends after
// eviction are harmless because consensus messages are idempotent.
type deduper struct {
	mu      sync.Mutex
	size    int
	perGame map[protocol.GameID]*lru.Cache[frameKey, struct{}]
}

func newDeduper(size int) *deduper {
	if size <= 0 {
		size = 4096
	}
	return &deduper{
		size:    size,
		perGame: make(map[protocol.GameID]*lru.Cache[frameKey, struct{}]),
	}
}

// seen records the frame and reports whether it was already present.
func (d *deduper) seen(gameID protocol.GameID, id MsgID, frag uint16) bool {
	d.mu.Lock()
	cache, ok := d.perGame[gameID]
	if !ok {
		// lru.New only fails on a non-positive size.
		cache, _ = lru.New[frameKey, struct{}](d.size)
		d.perGame[gameID] = cache
	}
	d.mu.Unlock()

	key := frameKey{id: id, frag: frag}
	if _, dup := cache.Get(key); dup {
		return true
	}
	cache.Add(key, struct{}{})
	return false
}

// drop forgets a game's cache entirely, for teardown.
func (d *deduper) drop(gameID protocol.GameID) {
	d.mu.Lock()
	delete(d.perGame, gameID)
	d.mu.Unlock()
}
