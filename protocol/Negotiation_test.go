package protocol

import (
	"testing"
)

func TestHelloRoundTrip(t *testing.T) {
	h := &Hello{Version: 2, MinVersion: 1, Features: FeatureMeshRelay | FeatureCompression}

	raw := h.Encode()
	if len(raw) != HelloSize {
		t.Fatalf("hello size: got %d want %d", len(raw), HelloSize)
	}

	decoded, err := DecodeHello(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *h {
		t.Errorf("round trip mismatch: got %+v want %+v", decoded, h)
	}

	if _, err := DecodeHello([]byte{0, 0, 0, 0, 0, 0, 0, 0}); err != ErrNotHello {
		t.Errorf("bad magic: got %v want ErrNotHello", err)
	}
}

func TestNegotiate(t *testing.T) {
	self := &Hello{Version: 2, MinVersion: 1, Features: FeatureCompression | FeatureMeshRelay}

	// Older peer, overlapping range: negotiate down.
	peer := &Hello{Version: 1, MinVersion: 1, Features: FeatureMeshRelay | FeatureStoreForward}
	version, features, err := Negotiate(self, peer)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if version != 1 {
		t.Errorf("version: got %d want 1", version)
	}
	if features != FeatureMeshRelay {
		t.Errorf("features: got %x want %x", features, FeatureMeshRelay)
	}

	// Peer requires a newer version than we support.
	peer = &Hello{Version: 3, MinVersion: 3}
	if _, _, err = Negotiate(self, peer); err != ErrIncompatibleVersions {
		t.Errorf("incompatible: got %v want ErrIncompatibleVersions", err)
	}

	// We require a newer version than the peer supports.
	self2 := &Hello{Version: 3, MinVersion: 3}
	peer2 := &Hello{Version: 2, MinVersion: 1}
	if _, _, err = Negotiate(self2, peer2); err != ErrIncompatibleVersions {
		t.Errorf("incompatible: got %v want ErrIncompatibleVersions", err)
	}
}
