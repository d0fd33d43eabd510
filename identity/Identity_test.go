package identity

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	restored, err := FromSeed(id.ExportSeed())
	require.NoError(t, err)

	require.Equal(t, id.PublicKey(), restored.PublicKey())
	require.Equal(t, id.X25519PublicKey(), restored.X25519PublicKey())
	require.Equal(t, id.PeerIDHex(), restored.PeerIDHex())

	_, err = FromSeed([]byte{1, 2, 3})
	require.Equal(t, ErrInvalidSeed, err)
}

func TestPeerIDAndFingerprint(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	peerID := id.PeerIDBytes()
	require.Len(t, peerID, PeerIDSize)
	require.True(t, bytes.Equal(peerID, []byte(id.PublicKey()[0:8])))
	require.Len(t, id.PeerIDHex(), 16)

	fingerprint := id.Fingerprint()
	require.Len(t, fingerprint, 32*2+31) // 32 hex pairs, colon separated
	require.Equal(t, 31, strings.Count(fingerprint, ":"))
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	data := []byte("attack at dawn")
	signature := id.Sign(data)
	require.Len(t, signature, 64)

	require.True(t, Verify(data, signature, id.PublicKey()))

	tampered := append([]byte{}, signature...)
	tampered[0] ^= 1
	require.False(t, Verify(data, tampered, id.PublicKey()))
	require.False(t, Verify([]byte("other"), signature, id.PublicKey()))
	require.False(t, Verify(data, signature[:10], id.PublicKey()))
}

func TestX25519Agreement(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	sharedA, err := a.X25519Shared(b.X25519PublicKey())
	require.NoError(t, err)
	sharedB, err := b.X25519Shared(a.X25519PublicKey())
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
	require.NotEqual(t, bytes.Repeat([]byte{0}, 32), sharedA)
}
