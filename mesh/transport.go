package mesh

import (
	"sync"

	"github.com/bitcraps/bitcraps/protocol"
)

// InboundFrame is one raw frame delivered by the substrate, tagged with
// the immediate sender (the neighbor it arrived from, not necessarily
// the originator).
type InboundFrame struct {
	From  protocol.PeerID
	Bytes []byte
}

// Transport is the physical substrate collaborator (BLE, TCP, WebRTC).
// It may deliver, duplicate, reorder or drop; the bridge tolerates all
// four.
type Transport interface {
	// Broadcast sends a frame to every current neighbor of the game.
	Broadcast(gameID protocol.GameID, frame []byte) error

	// Send delivers a frame to one neighbor, used for gossip fan-out
	// and targeted sync responses.
	Send(to protocol.PeerID, gameID protocol.GameID, frame []byte) error

	// Incoming returns the stream of frames for a game. The channel is
	// bounded; the transport drops newest on overflow.
	Incoming(gameID protocol.GameID) <-chan InboundFrame

	// Neighbors lists the peers currently reachable for a game.
	Neighbors(gameID protocol.GameID) []protocol.PeerID

	// Close releases transport resources.
	Close() error
}

// incomingBuffer is the bound on each peer's inbound frame queue.
const incomingBuffer = 512

// MemTransport is an in-memory mesh for tests and the simulator. Links
// are symmetric and can be cut and healed to model partitions.
type MemTransport struct {
	mu    sync.RWMutex
	peers map[protocol.PeerID]*memEndpoint
	cut   map[[2]protocol.PeerID]bool
}

type memEndpoint struct {
	id     protocol.PeerID
	mesh   *MemTransport
	mu     sync.Mutex
	queues map[protocol.GameID]chan InboundFrame
	closed bool
}

// NewMemTransport creates an empty in-memory mesh.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		peers: make(map[protocol.PeerID]*memEndpoint),
		cut:   make(map[[2]protocol.PeerID]bool),
	}
}

// Endpoint registers a peer and returns its Transport handle.
func (m *MemTransport) Endpoint(id protocol.PeerID) Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.peers[id]
	if !ok {
		ep = &memEndpoint{
			id:     id,
			mesh:   m,
			queues: make(map[protocol.GameID]chan InboundFrame),
		}
		m.peers[id] = ep
	}
	return ep
}

func linkKey(a, b protocol.PeerID) [2]protocol.PeerID {
	if b.Less(a) {
		a, b = b, a
	}
	return [2]protocol.PeerID{a, b}
}

// Cut severs the link between two peers in both directions.
func (m *MemTransport) Cut(a, b protocol.PeerID) {
	m.mu.Lock()
	m.cut[linkKey(a, b)] = true
	m.mu.Unlock()
}

// Heal restores a previously cut link.
func (m *MemTransport) Heal(a, b protocol.PeerID) {
	m.mu.Lock()
	delete(m.cut, linkKey(a, b))
	m.mu.Unlock()
}

func (m *MemTransport) connected(a, b protocol.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.cut[linkKey(a, b)]
}

func (m *MemTransport) neighborsOf(id protocol.PeerID) []*memEndpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*memEndpoint, 0, len(m.peers))
	for pid, ep := range m.peers {
		if pid == id || m.cut[linkKey(id, pid)] {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func (ep *memEndpoint) queue(gameID protocol.GameID) chan InboundFrame {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	q, ok := ep.queues[gameID]
	if !ok {
		q = make(chan InboundFrame, incomingBuffer)
		ep.queues[gameID] = q
	}
	return q
}

// deliver enqueues a frame, dropping newest when the queue is full —
// the substrate promises nothing, and the bridge re-requests.
func (ep *memEndpoint) deliver(from protocol.PeerID, gameID protocol.GameID, frame []byte) {
	ep.mu.Lock()
	closed := ep.closed
	ep.mu.Unlock()
	if closed {
		return
	}
	select {
	case ep.queue(gameID) <- InboundFrame{From: from, Bytes: append([]byte(nil), frame...)}:
	default:
	}
}

// Broadcast sends to every connected neighbor.
func (ep *memEndpoint) Broadcast(gameID protocol.GameID, frame []byte) error {
	for _, other := range ep.mesh.neighborsOf(ep.id) {
		other.deliver(ep.id, gameID, frame)
	}
	return nil
}

// Send delivers to one neighbor if the link is up; a cut link is a
// silent drop, exactly like radio.
func (ep *memEndpoint) Send(to protocol.PeerID, gameID protocol.GameID, frame []byte) error {
	if !ep.mesh.connected(ep.id, to) {
		return nil
	}
	ep.mesh.mu.RLock()
	other, ok := ep.mesh.peers[to]
	ep.mesh.mu.RUnlock()
	if ok {
		other.deliver(ep.id, gameID, frame)
	}
	return nil
}

// Incoming returns the game's inbound queue.
func (ep *memEndpoint) Incoming(gameID protocol.GameID) <-chan InboundFrame {
	return ep.queue(gameID)
}

// Neighbors lists currently connected peers.
func (ep *memEndpoint) Neighbors(gameID protocol.GameID) []protocol.PeerID {
	others := ep.mesh.neighborsOf(ep.id)
	out := make([]protocol.PeerID, 0, len(others))
	for _, o := range others {
		out = append(out, o.id)
	}
	return protocol.SortPeers(out)
}

// Close marks the endpoint dead; subsequent deliveries are dropped.
func (ep *memEndpoint) Close() error {
	ep.mu.Lock()
	ep.closed = true
	ep.mu.Unlock()
	return nil
}
