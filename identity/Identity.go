/*
File Name:  Identity.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

The long-term identity of a peer is an Ed25519 key pair. The first 8 bytes of
the public key are the peer ID used on the wire; the SHA-256 of the full public
key is the fingerprint shown to users. An X25519 key pair for key exchange is
derived deterministically from the Ed25519 seed, so a single 32-byte seed
restores the full identity.
*/

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// SeedSize is the size of the persisted identity seed.
const SeedSize = ed25519.SeedSize

// PeerIDSize is the size of the wire peer ID, the first bytes of the public key.
const PeerIDSize = 8

// ErrInvalidSeed is returned when importing a seed of the wrong size.
var ErrInvalidSeed = errors.New("invalid identity seed")

// Identity is a peer's long-term key material.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey

	x25519Private [32]byte
	x25519Public  [32]byte
}

// Generate creates a new random identity.
func Generate() (id *Identity, err error) {
	seed := make([]byte, SeedSize)
	if _, err = rand.Read(seed); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// FromSeed restores an identity from its 32-byte seed.
func FromSeed(seed []byte) (id *Identity, err error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}

	id = &Identity{}
	id.private = ed25519.NewKeyFromSeed(seed)
	id.public = id.private.Public().(ed25519.PublicKey)

	// X25519 derivation: hash the seed with SHA-512 and clamp the low 32 bytes
	// into the private scalar.
	h := sha512.Sum512(seed)
	copy(id.x25519Private[:], h[0:32])
	id.x25519Private[0] &= 248
	id.x25519Private[31] &= 127
	id.x25519Private[31] |= 64

	public, err := curve25519.X25519(id.x25519Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(id.x25519Public[:], public)

	return id, nil
}

// ExportSeed returns a copy of the 32-byte seed for persistence.
func (id *Identity) ExportSeed() (seed []byte) {
	seed = make([]byte, SeedSize)
	copy(seed, id.private.Seed())
	return seed
}

// PublicKey returns the Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.public
}

// X25519PublicKey returns the derived X25519 public key for key exchange.
func (id *Identity) X25519PublicKey() (key [32]byte) {
	return id.x25519Public
}

// X25519Shared computes the X25519 shared secret with a remote public key.
func (id *Identity) X25519Shared(theirPublic [32]byte) (shared []byte, err error) {
	return curve25519.X25519(id.x25519Private[:], theirPublic[:])
}

// PeerIDBytes returns the first 8 bytes of the public key.
func (id *Identity) PeerIDBytes() (peerID []byte) {
	peerID = make([]byte, PeerIDSize)
	copy(peerID, id.public[0:PeerIDSize])
	return peerID
}

// PeerIDHex returns the peer ID as 16 hex characters.
func (id *Identity) PeerIDHex() string {
	return hex.EncodeToString(id.PeerIDBytes())
}

// Fingerprint returns the SHA-256 of the public key as colon-separated hex pairs.
func (id *Identity) Fingerprint() string {
	return FingerprintOf(id.public)
}

// FingerprintOf computes the fingerprint of any Ed25519 public key.
func FingerprintOf(publicKey ed25519.PublicKey) string {
	digest := sha256.Sum256(publicKey)

	parts := make([]string, len(digest))
	for n, b := range digest {
		parts[n] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

// Sign signs the data with the Ed25519 private key.
func (id *Identity) Sign(data []byte) (signature []byte) {
	return ed25519.Sign(id.private, data)
}

// Verify checks an Ed25519 signature against a public key.
func Verify(data []byte, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}
