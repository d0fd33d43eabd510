/*
File Name:  Announce.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Nickname gossip. The announce payload carries the full Ed25519 public key, the
derived X25519 key and the UTF-8 nickname. It is how peers learn the identity
behind a wire peer ID, so it is sent on every fresh link and re-broadcast
periodically.
*/

package core

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/meshchat/core/protocol"
)

// announcePayload is [32 bytes Ed25519 public key][32 bytes X25519 public key][nickname].
const announcePayloadMin = ed25519.PublicKeySize + 32

var errAnnounceMalformed = errors.New("malformed announce")

// encodeAnnounce builds the local announce payload.
func (backend *Backend) encodeAnnounce() (payload []byte) {
	noiseKey := backend.PeerIdentity.X25519PublicKey()

	payload = append(payload, backend.PeerIdentity.PublicKey()...)
	payload = append(payload, noiseKey[:]...)
	payload = append(payload, []byte(backend.Config.Nickname)...)
	return payload
}

// decodeAnnounce parses an announce payload.
func decodeAnnounce(payload []byte) (publicKey ed25519.PublicKey, noiseKey [32]byte, nickname string, err error) {
	if len(payload) < announcePayloadMin {
		return nil, noiseKey, "", errAnnounceMalformed
	}

	publicKey = make([]byte, ed25519.PublicKeySize)
	copy(publicKey, payload[0:ed25519.PublicKeySize])
	copy(noiseKey[:], payload[ed25519.PublicKeySize:announcePayloadMin])
	nickname = string(payload[announcePayloadMin:])

	return publicKey, noiseKey, nickname, nil
}

// handleAnnounce records the announced identity. The sender's peer ID must
// match the public key in the payload, otherwise the announce is forged.
func (backend *Backend) handleAnnounce(packet *protocol.Packet, linkID string) {
	publicKey, noiseKey, nickname, err := decodeAnnounce(packet.Payload)
	if err != nil {
		backend.LogError("handleAnnounce", "from %s: %v", linkID, err)
		return
	}

	for n := 0; n < protocol.SenderIDSize; n++ {
		if packet.SenderID[n] != publicKey[n] {
			backend.LogError("handleAnnounce", "peer ID does not match announced key on %s", linkID)
			return
		}
	}

	backend.peerAnnounced(linkID, publicKey, noiseKey, nickname)
}

// autoAnnounce periodically re-broadcasts the announce packet.
func (backend *Backend) autoAnnounce() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-backend.terminateSignal:
			return
		case <-ticker.C:
			backend.sendPacket(&protocol.Packet{
				Version:   ProtocolVersion,
				Type:      protocol.TypeAnnounce,
				TTL:       defaultTTL,
				Timestamp: nowMilli(),
				SenderID:  backend.PeerIdentity.PeerIDBytes(),
				Payload:   backend.encodeAnnounce(),
			}, true)
		}
	}
}

// SetNickname changes the announced nickname and persists it.
func (backend *Backend) SetNickname(nickname string) {
	backend.Config.Nickname = nickname
	backend.saveConfig()

	backend.sendPacket(&protocol.Packet{
		Version:   ProtocolVersion,
		Type:      protocol.TypeAnnounce,
		TTL:       defaultTTL,
		Timestamp: nowMilli(),
		SenderID:  backend.PeerIdentity.PeerIDBytes(),
		Payload:   backend.encodeAnnounce(),
	}, true)
}
