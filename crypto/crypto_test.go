package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("place bet 100 on pass")
	sig := Sign(priv, msg)
	require.True(t, Verify(pub, msg, sig))
	require.False(t, Verify(pub, []byte("place bet 101 on pass"), sig))

	// Tampered signature must not verify.
	sig[0] ^= 0xff
	require.False(t, Verify(pub, msg, sig))
}

func TestVerifyMalformedInputs(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sig := Sign(priv, []byte("x"))

	require.False(t, Verify(pub[:16], []byte("x"), sig))
	require.False(t, Verify(pub, []byte("x"), sig[:10]))
	require.False(t, Verify(nil, []byte("x"), nil))
}

func TestSignaturesEqual(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	a := Sign(priv, []byte("a"))
	b := Sign(priv, []byte("a"))
	c := Sign(priv, []byte("c"))

	require.True(t, SignaturesEqual(a, b))
	require.False(t, SignaturesEqual(a, c))
	require.False(t, SignaturesEqual(a, a[:32]))
}

func TestHashIsConcatenation(t *testing.T) {
	joined := Hash([]byte("abc"), []byte("def"))
	single := Hash([]byte("abcdef"))
	require.Equal(t, single, joined)
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("secret"), []byte("salt"), []byte("game"), 32)
	require.NoError(t, err)
	require.Len(t, k1, 32)

	k2, err := DeriveKey([]byte("secret"), []byte("salt"), []byte("game"), 32)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKey([]byte("secret"), []byte("salt"), []byte("other"), 32)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	_, err = DeriveKey([]byte("secret"), nil, nil, 0)
	require.Error(t, err)
}

func TestGenerateIdentityPow(t *testing.T) {
	id, err := GenerateIdentity(8)
	require.NoError(t, err)
	require.True(t, id.VerifyPow(8))
	require.True(t, id.VerifyPow(0))

	require.Equal(t, Hash(id.Pub), id.PeerID)
}
