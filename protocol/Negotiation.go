/*
File Name:  Negotiation.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Version negotiation on link establishment. Each side sends an 8-byte hello:
Offset  Size   Info
0       2      Magic 0xBC01, big endian
2       1      Highest supported version
3       1      Minimum accepted version
4       2      Feature bits, big endian
6       2      Reserved, zero
*/

package protocol

import (
	"encoding/binary"
	"errors"
)

// helloMagic identifies a hello frame.
const helloMagic = 0xBC01

// HelloSize is the exact size of a hello frame.
const HelloSize = 8

// Feature bits announced in the hello frame.
const (
	FeatureCompression  = 1 << 0
	FeatureNoise        = 1 << 1
	FeatureMeshRelay    = 1 << 2
	FeatureStoreForward = 1 << 3
	FeatureCoverTraffic = 1 << 4
	FeatureRelayBridge  = 1 << 5
	FeatureFileTransfer = 1 << 6
	FeatureVoiceNote    = 1 << 7
)

// Errors of the negotiation layer.
var (
	ErrNotHello             = errors.New("not a hello frame")
	ErrIncompatibleVersions = errors.New("incompatible protocol versions")
)

// Hello announces the supported protocol range and feature set of one side.
type Hello struct {
	Version    uint8  // Highest supported version.
	MinVersion uint8  // Minimum accepted version.
	Features   uint16 // Feature bits.
}

// Encode serializes the hello frame.
func (h *Hello) Encode() (raw []byte) {
	raw = make([]byte, HelloSize)
	binary.BigEndian.PutUint16(raw[0:2], helloMagic)
	raw[2] = h.Version
	raw[3] = h.MinVersion
	binary.BigEndian.PutUint16(raw[4:6], h.Features)
	return raw
}

// DecodeHello parses a hello frame.
func DecodeHello(raw []byte) (h *Hello, err error) {
	if len(raw) < HelloSize || binary.BigEndian.Uint16(raw[0:2]) != helloMagic {
		return nil, ErrNotHello
	}

	return &Hello{
		Version:    raw[2],
		MinVersion: raw[3],
		Features:   binary.BigEndian.Uint16(raw[4:6]),
	}, nil
}

// Negotiate intersects both hellos. The negotiated version is the smaller of
// the two maximums; it fails if either side falls below the other's minimum.
func Negotiate(self, peer *Hello) (version uint8, features uint16, err error) {
	if peer.Version < self.MinVersion || self.Version < peer.MinVersion {
		return 0, 0, ErrIncompatibleVersions
	}

	version = self.Version
	if peer.Version < version {
		version = peer.Version
	}

	return version, self.Features & peer.Features, nil
}
