package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Identity is a peer identity: an Ed25519 keypair plus the proof-of-work
// nonce that stamps the derived peer id at a minimum difficulty.
//
// The peer id is Hash(public key) and is the ownership handle used across
// every component; it never changes after generation.
type Identity struct {
	PeerID   [HashSize]byte
	Pub      ed25519.PublicKey
	Priv     ed25519.PrivateKey
	PowNonce uint64
}

// GenerateIdentity creates a fresh identity whose proof-of-work stamp
// meets minDifficulty zero low-order bits. Difficulty 0 disables the stamp
// search, which is what tests use.
//
// The stamp binds the keypair to spent work: the low difficulty bits of
// Hash(peer_id || nonce) must be zero. Verification is a single hash.
func GenerateIdentity(minDifficulty uint8) (*Identity, error) {
	if minDifficulty > 64 {
		return nil, fmt.Errorf("crypto: difficulty %d out of range", minDifficulty)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	id := &Identity{
		PeerID: Hash(pub),
		Pub:    pub,
		Priv:   priv,
	}
	for nonce := uint64(0); ; nonce++ {
		if powDifficulty(id.PeerID, nonce) >= int(minDifficulty) {
			id.PowNonce = nonce
			return id, nil
		}
	}
}

// VerifyPow reports whether the identity's stamp meets minDifficulty.
func (id *Identity) VerifyPow(minDifficulty uint8) bool {
	return powDifficulty(id.PeerID, id.PowNonce) >= int(minDifficulty)
}

// powDifficulty returns the number of zero low-order bits of
// Hash(peerID || nonce), read as a big-endian number.
func powDifficulty(peerID [HashSize]byte, nonce uint64) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	digest := Hash(peerID[:], buf[:])
	zeros := 0
	for i := len(digest) - 1; i >= 0; i-- {
		b := digest[i]
		if b == 0 {
			zeros += 8
			continue
		}
		zeros += bits.TrailingZeros8(b)
		break
	}
	return zeros
}
