// Package crypto wraps the signature and hashing primitives used by the
// consensus protocol. All other packages go through these helpers so the
// choice of primitives stays in one place.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashSize is the size in bytes of all protocol hashes.
const HashSize = 32

// SignatureSize is the size in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Hash returns the SHA-256 digest of the concatenation of all chunks.
func Hash(chunks ...[]byte) [HashSize]byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign signs msg with the given Ed25519 private key.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid signature of msg under pub.
// Malformed keys or signatures verify as false, never panic.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// SignaturesEqual compares two signatures in constant time.
func SignaturesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DeriveKey derives n bytes of key material from secret using
// HKDF-SHA256 with the given salt and context info.
func DeriveKey(secret, salt, info []byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("crypto: non-positive key length")
	}
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
