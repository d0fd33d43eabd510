/*
File Name:  Relay Engine.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Flood relay. Every decoded, authentic, non-duplicate inbound packet with
enough TTL budget is re-emitted on all links except the one it arrived on.
The TTL is decremented; everything else, the signature included, is preserved.
The signature stays valid because the signing preimage excludes TTL and RSR.
*/

package core

import (
	"bytes"
	"sync/atomic"

	"github.com/meshchat/core/protocol"
)

// maybeRelay forwards one inbound packet. The caller guarantees the packet
// already passed decode, signature and dedup checks.
func (backend *Backend) maybeRelay(packet *protocol.Packet, arrivalLink string) {
	if packet.TTL <= 1 {
		return
	}

	// Never forward packets we originated.
	if bytes.Equal(packet.SenderID, backend.PeerIdentity.PeerIDBytes()) {
		return
	}

	if backend.manager == nil {
		return
	}

	forwarded := *packet
	forwarded.TTL = packet.TTL - 1

	frame, err := forwarded.EncodePadded()
	if err != nil {
		backend.LogError("maybeRelay", "re-encoding packet: %v", err)
		return
	}

	// Best effort fan-out. Per-link failures are counted inside the manager.
	sent := backend.manager.BroadcastExcept(frame, arrivalLink)

	atomic.AddUint64(&backend.CountRelayed, 1)
	backend.Filters.PacketRelayed(&forwarded, arrivalLink, sent)
}
