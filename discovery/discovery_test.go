package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/protocol"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	a := Announcement{
		PeerID: protocol.PeerID{1, 2, 3},
		GameID: protocol.GameID{9, 9},
		Addr:   "localhost:1234",
	}
	parsed, err := parseAnnouncement(a.encode())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = parseAnnouncement("garbage")
	require.Error(t, err)
	_, err = parseAnnouncement("zz/zz/addr")
	require.Error(t, err)
}

func TestDiscover(t *testing.T) {
	n := 4
	var game protocol.GameID
	copy(game[:], "discovery-game-0")

	fatal := make(chan error, n)
	for i := 0; i < n; i++ {
		self := Announcement{GameID: game, Addr: "localhost:0"}
		self.PeerID[0] = byte(i + 1)
		go func(self Announcement) {
			discover, err := New(self,
				WithPortRange(9200, 9220), WithAttempts(3))
			if err != nil {
				fatal <- err
				return
			}
			defer discover.Close()
			seen := make(map[protocol.PeerID]bool)
			for len(seen) < n-1 {
				entry := <-discover.Entries
				if entry.GameID != game {
					fatal <- nil
					return
				}
				seen[entry.PeerID] = true
			}
			fatal <- nil
		}(self)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-fatal)
	}
}
