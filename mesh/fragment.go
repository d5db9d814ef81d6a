package mesh

import (
	"crypto/ed25519"
	"sync"

	"github.com/bitcraps/bitcraps/protocol"
)

// maxReassemblies bounds partially received messages; the oldest entry
// is evicted when the table is full, which at worst costs a re-request.
const maxReassemblies = 256

// fragmentMessage splits a complete payload into signed frames of at
// most maxFrame payload bytes. Every fragment shares the message id of
// the whole payload.
func fragmentMessage(kind MsgKind, sender protocol.PeerID, gameID protocol.GameID,
	payload []byte, maxFrame int, priv ed25519.PrivateKey) []*Envelope {

	if maxFrame <= 0 {
		maxFrame = 1024
	}
	msgID := ComputeMsgID(payload)
	count := (len(payload) + maxFrame - 1) / maxFrame
	if count == 0 {
		count = 1
	}

	frames := make([]*Envelope, 0, count)
	for i := 0; i < count; i++ {
		lo := i * maxFrame
		hi := lo + maxFrame
		if hi > len(payload) {
			hi = len(payload)
		}
		env := &Envelope{
			Version:   EnvelopeVersion,
			Kind:      kind,
			FragIndex: uint16(i),
			FragCount: uint16(count),
			MsgID:     msgID,
			Sender:    sender,
			GameID:    gameID,
			Payload:   payload[lo:hi],
		}
		env.Sign(priv)
		frames = append(frames, env)
	}
	return frames
}

type reassembly struct {
	kind      MsgKind
	sender    protocol.PeerID
	parts     [][]byte
	received  int
	firstSeen uint64
}

// reassembler collects fragments keyed by message id until a message is
// complete.
type reassembler struct {
	mu      sync.Mutex
	pending map[MsgID]*reassembly
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[MsgID]*reassembly)}
}

// add stores one fragment. When the message completes, the full payload
// is returned and the entry dropped. Fragments that disagree with the
// first-seen shape of the message are discarded.
func (r *reassembler) add(env *Envelope, now uint64) ([]byte, bool) {
	if env.FragCount == 1 {
		// Fast path: unfragmented messages skip the table.
		if ComputeMsgID(env.Payload) != env.MsgID {
			return nil, false
		}
		return env.Payload, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[env.MsgID]
	if !ok {
		if len(r.pending) >= maxReassemblies {
			r.evictOldestLocked()
		}
		entry = &reassembly{
			kind:      env.Kind,
			sender:    env.Sender,
			parts:     make([][]byte, env.FragCount),
			firstSeen: now,
		}
		r.pending[env.MsgID] = entry
	}
	if entry.kind != env.Kind || entry.sender != env.Sender ||
		len(entry.parts) != int(env.FragCount) {
		return nil, false
	}
	if entry.parts[env.FragIndex] != nil {
		return nil, false // duplicate fragment
	}
	entry.parts[env.FragIndex] = env.Payload
	entry.received++

	if entry.received < len(entry.parts) {
		return nil, false
	}
	delete(r.pending, env.MsgID)

	var payload []byte
	for _, part := range entry.parts {
		payload = append(payload, part...)
	}
	// The id binds the fragments to the advertised whole.
	if ComputeMsgID(payload) != env.MsgID {
		return nil, false
	}
	return payload, true
}

func (r *reassembler) evictOldestLocked() {
	var oldest MsgID
	var oldestSeen uint64
	first := true
	for id, entry := range r.pending {
		if first || entry.firstSeen < oldestSeen {
			oldest = id
			oldestSeen = entry.firstSeen
			first = false
		}
	}
	if !first {
		delete(r.pending, oldest)
	}
}
