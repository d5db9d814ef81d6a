// Package discovery finds other BitCraps peers on the local network by
// probing a well-known port range over HTTP. Each peer serves a small
// announcement naming its peer id, its transport address and the game
// it is hosting; lobbies are formed from the collected entries before
// consensus starts.
package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bitcraps/bitcraps/protocol"
)

// Announcement is what a peer publishes while it waits for players.
type Announcement struct {
	PeerID protocol.PeerID
	GameID protocol.GameID
	Addr   string // transport address other peers should dial
}

// encode renders the announcement as peer/game/addr in hex fields.
func (a Announcement) encode() string {
	return fmt.Sprintf("%s/%s/%s",
		hex.EncodeToString(a.PeerID[:]), hex.EncodeToString(a.GameID[:]), a.Addr)
}

// parseAnnouncement is the inverse of encode.
func parseAnnouncement(s string) (Announcement, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return Announcement{}, fmt.Errorf("discovery: malformed announcement %q", s)
	}
	var a Announcement
	peerBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(peerBytes) != len(a.PeerID) {
		return Announcement{}, fmt.Errorf("discovery: bad peer id in %q", s)
	}
	copy(a.PeerID[:], peerBytes)
	gameBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(gameBytes) != len(a.GameID) {
		return Announcement{}, fmt.Errorf("discovery: bad game id in %q", s)
	}
	copy(a.GameID[:], gameBytes)
	a.Addr = parts[2]
	return a, nil
}

// Discover announces this peer and collects announcements from the
// port range. Entries carries every peer found, own announcement
// excluded.
type Discover struct {
	Entries chan Announcement

	self      Announcement
	port      uint16
	startPort uint16
	endPort   uint16
	attempts  uint
	server    *http.Server
}

type option func(Discover) Discover

// WithPortRange probes ports start through end inclusive.
func WithPortRange(startPort, endPort uint16) option {
	return func(d Discover) Discover {
		d.startPort = startPort
		d.endPort = endPort
		return d
	}
}

// WithPort pins announcement and probing to a single port.
func WithPort(port uint16) option {
	return WithPortRange(port, port)
}

// WithAttempts sets how many probe sweeps run, one second apart.
func WithAttempts(attempts uint) option {
	return func(d Discover) Discover {
		d.attempts = attempts
		return d
	}
}

// New starts announcing and probing. The first free port in the range
// hosts the announcement server.
func New(self Announcement, opts ...option) (*Discover, error) {
	d := Discover{
		Entries:   make(chan Announcement),
		self:      self,
		startPort: 9000,
		endPort:   9010,
		attempts:  1,
	}
	for _, opt := range opts {
		d = opt(d)
	}

	var l net.Listener
	var err error
	for port := d.startPort; port <= d.endPort; port++ {
		l, err = net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err == nil {
			d.port = port
			break
		}
	}
	if l == nil {
		return nil, fmt.Errorf("discovery: no free port in %d-%d: %w", d.startPort, d.endPort, err)
	}

	d.server = &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", d.port),
		Handler: handler{info: self.encode()},
	}
	go func() {
		if err := d.server.Serve(l); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	go func() {
		for range d.attempts {
			d.search()
			time.Sleep(time.Second)
		}
	}()
	return &d, nil
}

// Close stops the announcement server.
func (d *Discover) Close() error {
	return d.server.Shutdown(context.Background())
}

func (d *Discover) search() {
	for port := d.startPort; port <= d.endPort; port++ {
		if port == d.port {
			continue
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d", port))
		if err != nil {
			continue
		}
		buf, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		a, err := parseAnnouncement(string(buf))
		if err != nil || a.PeerID == d.self.PeerID {
			continue
		}
		d.Entries <- a
	}
}

type handler struct {
	info string
}

func (h handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte(h.info)); err != nil {
		panic(err)
	}
}
