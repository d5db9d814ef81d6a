package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraps/bitcraps/crypto"
	"github.com/bitcraps/bitcraps/protocol"
)

func testIdentity(t *testing.T) *crypto.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity(0)
	require.NoError(t, err)
	return id
}

func gid(b byte) protocol.GameID {
	var g protocol.GameID
	for i := range g {
		g[i] = b
	}
	return g
}

func TestEnvelopeRoundTrip(t *testing.T) {
	id := testIdentity(t)
	env := &Envelope{
		Version:   EnvelopeVersion,
		Kind:      MsgVote,
		FragIndex: 0,
		FragCount: 1,
		MsgID:     ComputeMsgID([]byte("payload")),
		Sender:    protocol.PeerID(id.PeerID),
		GameID:    gid(1),
		Payload:   []byte("payload"),
	}
	env.Sign(id.Priv)

	decoded, err := DecodeEnvelope(env.Encode())
	require.NoError(t, err)
	require.Equal(t, env, decoded)
	require.True(t, decoded.VerifySignature(id.Pub))
}

func TestEnvelopeTamperDetected(t *testing.T) {
	id := testIdentity(t)
	env := &Envelope{
		Version:   EnvelopeVersion,
		Kind:      MsgProposal,
		FragCount: 1,
		MsgID:     ComputeMsgID([]byte("x")),
		Sender:    protocol.PeerID(id.PeerID),
		GameID:    gid(2),
		Payload:   []byte("x"),
	}
	env.Sign(id.Priv)

	raw := env.Encode()
	raw[3] ^= 0xff // flip a header byte
	decoded, err := DecodeEnvelope(raw)
	if err == nil {
		require.False(t, decoded.VerifySignature(id.Pub))
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope(nil)
	require.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = DecodeEnvelope([]byte{0, 1, 2})
	require.ErrorIs(t, err, protocol.ErrMalformed)

	// Zero fragment count.
	id := testIdentity(t)
	env := &Envelope{
		Version:   EnvelopeVersion,
		Kind:      MsgVote,
		FragCount: 1,
		MsgID:     ComputeMsgID([]byte("y")),
		Sender:    protocol.PeerID(id.PeerID),
		GameID:    gid(1),
		Payload:   []byte("y"),
	}
	env.Sign(id.Priv)
	raw := env.Encode()
	raw[5], raw[6] = 0, 0 // fragment_count = 0
	_, err = DecodeEnvelope(raw)
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestFragmentationRoundTrip(t *testing.T) {
	id := testIdentity(t)
	sender := protocol.PeerID(id.PeerID)

	payload := make([]byte, 10_000)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := fragmentMessage(MsgSyncResponse, sender, gid(1), payload, 1024, id.Priv)
	require.Equal(t, 10, len(frames))
	for _, f := range frames {
		require.True(t, f.VerifySignature(id.Pub))
		require.Equal(t, frames[0].MsgID, f.MsgID)
	}

	// Reassemble out of order with duplicates sprinkled in.
	r := newReassembler()
	order := []int{3, 1, 1, 9, 0, 2, 8, 4, 7, 5, 3}
	for _, i := range order {
		payloadOut, done := r.add(frames[i], 1)
		require.False(t, done)
		require.Nil(t, payloadOut)
	}
	payloadOut, done := r.add(frames[6], 1)
	require.True(t, done)
	require.Equal(t, payload, payloadOut)
}

func TestReassemblerRejectsForgedFragments(t *testing.T) {
	id := testIdentity(t)
	sender := protocol.PeerID(id.PeerID)
	frames := fragmentMessage(MsgVote, sender, gid(1), []byte("hello world, this fragments"), 8, id.Priv)
	require.Greater(t, len(frames), 2)

	// Tamper with one fragment's payload: the message id check fails
	// at completion and nothing is delivered.
	r := newReassembler()
	frames[1].Payload = []byte("evil bit")
	var done bool
	for _, f := range frames {
		_, done = r.add(f, 1)
	}
	require.False(t, done)
}

func TestDeduper(t *testing.T) {
	d := newDeduper(2)
	idA := ComputeMsgID([]byte("a"))
	idB := ComputeMsgID([]byte("b"))
	idC := ComputeMsgID([]byte("c"))

	require.False(t, d.seen(gid(1), idA, 0))
	require.True(t, d.seen(gid(1), idA, 0))

	// Different fragment of the same message is a different frame.
	require.False(t, d.seen(gid(1), idA, 1))

	// Games do not share caches.
	require.False(t, d.seen(gid(2), idA, 0))

	// Eviction forgets the oldest; a resend is absorbed upstream by
	// idempotent handling, not by the LRU.
	require.False(t, d.seen(gid(3), idA, 0))
	require.False(t, d.seen(gid(3), idB, 0))
	require.False(t, d.seen(gid(3), idC, 0))
	require.False(t, d.seen(gid(3), idA, 0))
}

func TestTokenBucket(t *testing.T) {
	b := newTokenBucket(0.0001, 2)
	require.True(t, b.allow())
	require.True(t, b.allow())
	require.False(t, b.allow(), "burst exhausted, near-zero refill")
}
