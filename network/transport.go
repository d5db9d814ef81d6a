package network

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/mesh"
	"github.com/bitcraps/bitcraps/protocol"
)

// framePath is where peers POST frames to each other.
const framePath = "/frame"

// maxFrameBody bounds an accepted request body.
const maxFrameBody = 1 << 20

// incomingBuffer bounds each game's inbound queue; overflow drops
// newest, like any lossy substrate.
const incomingBuffer = 512

// HTTPTransport carries mesh frames between peers with known HTTP
// addresses. It satisfies mesh.Transport.
type HTTPTransport struct {
	self    protocol.PeerID
	server  *http.Server
	client  *http.Client
	timeout time.Duration

	mu        sync.RWMutex
	addresses map[protocol.PeerID]string
	queues    map[protocol.GameID]chan mesh.InboundFrame
	closed    bool
}

// NewHTTPTransport starts serving on l and returns the transport.
// addresses maps every peer (including self) to its host:port.
func NewHTTPTransport(self protocol.PeerID, addresses map[protocol.PeerID]string, l net.Listener, timeout time.Duration) *HTTPTransport {
	t := &HTTPTransport{
		self:      self,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		addresses: make(map[protocol.PeerID]string, len(addresses)),
		queues:    make(map[protocol.GameID]chan mesh.InboundFrame),
	}
	for p, addr := range addresses {
		t.addresses[p] = addr
	}
	t.server = &http.Server{Handler: t}
	go func() {
		if err := t.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
	return t
}

// ServeHTTP accepts one frame per POST. The sending peer and game ride
// in headers; the body is the raw frame.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != framePath {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	from, err := peerFromHeader(r.Header.Get("X-Bitcraps-Peer"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	game, err := gameFromHeader(r.Header.Get("X-Bitcraps-Game"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBody))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	select {
	case t.queue(game) <- mesh.InboundFrame{From: from, Bytes: body}:
	default:
		// Full queue: drop newest, the substrate promises nothing.
	}
	w.WriteHeader(http.StatusAccepted)
}

// Broadcast posts the frame to every other known peer. Unreachable
// peers are skipped; the consensus layer re-requests what it misses.
func (t *HTTPTransport) Broadcast(gameID protocol.GameID, frame []byte) error {
	for _, peer := range t.Neighbors(gameID) {
		if err := t.Send(peer, gameID, frame); err != nil {
			return err
		}
	}
	return nil
}

// Send posts the frame to one peer.
func (t *HTTPTransport) Send(to protocol.PeerID, gameID protocol.GameID, frame []byte) error {
	t.mu.RLock()
	addr, ok := t.addresses[to]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errors.New("network: transport closed")
	}
	if !ok {
		return fmt.Errorf("network: no address for peer %s", to)
	}

	req, err := http.NewRequest(http.MethodPost,
		"http://"+addr+framePath, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("X-Bitcraps-Peer", hex.EncodeToString(t.self[:]))
	req.Header.Set("X-Bitcraps-Game", hex.EncodeToString(gameID[:]))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil // unreachable peer: best-effort drop
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Incoming returns the inbound queue for a game.
func (t *HTTPTransport) Incoming(gameID protocol.GameID) <-chan mesh.InboundFrame {
	return t.queue(gameID)
}

// Neighbors lists every other known peer.
func (t *HTTPTransport) Neighbors(gameID protocol.GameID) []protocol.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.PeerID, 0, len(t.addresses))
	for p := range t.addresses {
		if p != t.self {
			out = append(out, p)
		}
	}
	return protocol.SortPeers(out)
}

// Close shuts the server down and refuses further sends.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.server.Shutdown(ctx)
}

func (t *HTTPTransport) queue(gameID protocol.GameID) chan mesh.InboundFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[gameID]
	if !ok {
		q = make(chan mesh.InboundFrame, incomingBuffer)
		t.queues[gameID] = q
	}
	return q
}

func peerFromHeader(h string) (protocol.PeerID, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return protocol.PeerID{}, err
	}
	p, ok := protocol.PeerIDFromBytes(raw)
	if !ok {
		return protocol.PeerID{}, fmt.Errorf("network: bad peer header %q", h)
	}
	return p, nil
}

func gameFromHeader(h string) (protocol.GameID, error) {
	var g protocol.GameID
	raw, err := hex.DecodeString(h)
	if err != nil || len(raw) != len(g) {
		return g, fmt.Errorf("network: bad game header %q", h)
	}
	copy(g[:], raw)
	return g, nil
}

// CreateListeners opens n loopback listeners and returns them with
// their addresses, for wiring test clusters.
func CreateListeners(n int) ([]net.Listener, []string, error) {
	listeners := make([]net.Listener, 0, n)
	addresses := make([]string, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			return nil, nil, err
		}
		listeners = append(listeners, l)
		addresses = append(addresses, l.Addr().String())
	}
	return listeners, addresses, nil
}
