package dmcrypto

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (privateKey []byte, publicX []byte) {
	t.Helper()

	key, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)

	privateKey = make([]byte, 32)
	key.D.FillBytes(privateKey)

	publicX, err = PublicKeyX(privateKey)
	require.NoError(t, err)
	return privateKey, publicX
}

func TestSharedSecretAgreement(t *testing.T) {
	alicePriv, alicePub := newKeyPair(t)
	bobPriv, bobPub := newKeyPair(t)

	secretA, err := SharedSecret(alicePriv, bobPub)
	require.NoError(t, err)
	secretB, err := SharedSecret(bobPriv, alicePub)
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)
	require.Len(t, secretA, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alicePriv, alicePub := newKeyPair(t)
	bobPriv, bobPub := newKeyPair(t)

	for _, plaintext := range []string{"", "hi", "a longer message across multiple AES blocks, with unicode: přeliv 🜁"} {
		encoded, err := Encrypt(plaintext, alicePriv, bobPub)
		require.NoError(t, err)
		require.Contains(t, encoded, "?iv=")

		decrypted, err := Decrypt(encoded, bobPriv, alicePub)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	alicePriv, _ := newKeyPair(t)
	bobPriv, bobPub := newKeyPair(t)
	malletPriv, malletPub := newKeyPair(t)

	encoded, err := Encrypt("secret", alicePriv, bobPub)
	require.NoError(t, err)

	_, err = Decrypt("not-valid", bobPriv, malletPub)
	require.Error(t, err)

	// wrong key pair
	if decrypted, err := Decrypt(encoded, malletPriv, malletPub); err == nil {
		require.NotEqual(t, "secret", decrypted)
	}
}

func TestSchnorrSignVerify(t *testing.T) {
	privateKey, publicX := newKeyPair(t)

	digest := sha256.Sum256([]byte("event payload"))
	signature, err := SchnorrSign(privateKey, digest[:])
	require.NoError(t, err)
	require.Len(t, signature, SchnorrSignatureSize)

	require.True(t, SchnorrVerify(publicX, digest[:], signature))

	// Any single bit flip must invalidate the signature.
	for _, bit := range []int{0, 100, 250, 511} {
		tampered := append([]byte{}, signature...)
		tampered[bit/8] ^= 1 << (bit % 8)
		require.False(t, SchnorrVerify(publicX, digest[:], tampered), "bit %d", bit)
	}

	// Flipping the message fails too.
	other := sha256.Sum256([]byte("other payload"))
	require.False(t, SchnorrVerify(publicX, other[:], signature))
}

func TestSchnorrRejectsOtherKeys(t *testing.T) {
	privateKey, publicX := newKeyPair(t)
	otherPriv, otherPub := newKeyPair(t)

	digest := sha256.Sum256([]byte("m"))
	signature, err := SchnorrSign(privateKey, digest[:])
	require.NoError(t, err)

	require.False(t, SchnorrVerify(otherPub, digest[:], signature))

	otherSig, err := SchnorrSign(otherPriv, digest[:])
	require.NoError(t, err)
	require.False(t, SchnorrVerify(publicX, digest[:], otherSig))
}
