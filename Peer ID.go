/*
File Name:  Peer ID.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package core

import (
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"time"

	"github.com/meshchat/core/identity"
)

// initPeerID loads the identity seed from the config, or creates a new one.
func (backend *Backend) initPeerID() (status int, err error) {
	backend.peerList = make(map[string]*PeerInfo)
	backend.peerByID = make(map[string]*PeerInfo)

	// load existing seed from config, if available
	if len(backend.Config.IdentitySeed) > 0 {
		seed, err := hex.DecodeString(backend.Config.IdentitySeed)
		if err == nil {
			if backend.PeerIdentity, err = identity.FromSeed(seed); err == nil {
				return ExitSuccess, nil
			}
		}
		return ExitIdentityCorrupt, err
	}

	// if the seed is empty, create a new identity
	if backend.PeerIdentity, err = identity.Generate(); err != nil {
		return ExitIdentityCreate, err
	}

	// save the newly generated seed into the config
	backend.Config.IdentitySeed = hex.EncodeToString(backend.PeerIdentity.ExportSeed())
	backend.saveConfig()

	return ExitSuccess, nil
}

// PeerInfo stores information about a single remote peer
type PeerInfo struct {
	listKey     string            // Key in the peer list. Device ID for scanned peers, "peer:"+PeerID for peers learned through relayed announces.
	DeviceID    string            // Radio device ID of the link the peer was last seen on.
	PeerID      string            // 16 hex characters, first 8 bytes of the public key. Empty until announced.
	PublicKey   ed25519.PublicKey // Full public key, learned from the announce packet.
	NoiseKey    [32]byte          // X25519 key for key exchange, learned from the announce packet.
	Nickname    string            // Announced nickname.
	RSSI        int               // Last observed signal strength.
	LastSeen    time.Time         // Last scan result, packet or connect.
	IsConnected bool              // A live link exists.

	// statistics
	StatsPacketSent     uint64 // Count of packets sent
	StatsPacketReceived uint64 // Count of packets received
}

// IsStale reports whether the peer should be pruned.
func (peer *PeerInfo) IsStale() bool {
	return !peer.IsConnected && time.Since(peer.LastSeen) > stalePeerTimeout
}

var peerlistMutex sync.RWMutex

// PeerlistAdd adds a new peer to the peer list. If the peer is already added, it updates the RSSI and last-seen time.
func (backend *Backend) PeerlistAdd(deviceID string, rssi int) (peer *PeerInfo, added bool) {
	peerlistMutex.Lock()

	peer, ok := backend.peerList[deviceID]
	if ok {
		peer.RSSI = rssi
		peer.LastSeen = time.Now()
		peerlistMutex.Unlock()
		return peer, false
	}

	peer = &PeerInfo{listKey: deviceID, DeviceID: deviceID, RSSI: rssi, LastSeen: time.Now()}
	backend.peerList[deviceID] = peer
	peerlistMutex.Unlock()

	backend.Filters.NewPeer(peer)

	return peer, true
}

// PeerlistRemove removes a peer from the peer list.
func (backend *Backend) PeerlistRemove(peer *PeerInfo) {
	peerlistMutex.Lock()
	defer peerlistMutex.Unlock()

	delete(backend.peerList, peer.listKey)
	if peer.PeerID != "" {
		delete(backend.peerByID, peer.PeerID)
	}
}

// PeerlistGet returns the full peer list
func (backend *Backend) PeerlistGet() (peers []*PeerInfo) {
	peerlistMutex.RLock()
	defer peerlistMutex.RUnlock()

	for _, peer := range backend.peerList {
		peers = append(peers, peer)
	}

	return peers
}

// PeerlistLookupDevice returns the peer with the device ID
func (backend *Backend) PeerlistLookupDevice(deviceID string) (peer *PeerInfo) {
	peerlistMutex.RLock()
	defer peerlistMutex.RUnlock()

	return backend.peerList[deviceID]
}

// PeerlistLookupID returns the peer with the announced peer ID (16 hex characters)
func (backend *Backend) PeerlistLookupID(peerID string) (peer *PeerInfo) {
	peerlistMutex.RLock()
	defer peerlistMutex.RUnlock()

	return backend.peerByID[peerID]
}

// PeerlistCount returns the current count of peers in the peer list
func (backend *Backend) PeerlistCount() (count int) {
	peerlistMutex.RLock()
	defer peerlistMutex.RUnlock()

	return len(backend.peerList)
}

// peerAnnounced records the announced identity of a peer. Announces may arrive
// relayed, so the link they arrive on does not necessarily belong to the
// announcing peer; the identity is authoritative, the link is just the route.
func (backend *Backend) peerAnnounced(deviceID string, publicKey ed25519.PublicKey, noiseKey [32]byte, nickname string) (peer *PeerInfo) {
	peerID := hex.EncodeToString(publicKey[0:identity.PeerIDSize])

	peerlistMutex.Lock()

	peer, ok := backend.peerByID[peerID]
	if !ok {
		// Bind to the scanned device entry only if no other identity claimed it.
		if existing, seen := backend.peerList[deviceID]; seen && (existing.PeerID == "" || existing.PeerID == peerID) {
			peer = existing
		} else {
			peer = &PeerInfo{listKey: "peer:" + peerID}
			backend.peerList[peer.listKey] = peer
		}
	}

	nicknameBefore := peer.Nickname

	peer.DeviceID = deviceID
	peer.PublicKey = publicKey
	peer.NoiseKey = noiseKey
	peer.Nickname = nickname
	peer.PeerID = peerID
	peer.LastSeen = time.Now()
	backend.peerByID[peerID] = peer

	peerlistMutex.Unlock()

	// Announces repeat periodically; only a fresh or changed nickname is news.
	if nicknameBefore == "" && nickname != "" {
		backend.Stdout.Printf("* %s (%s) is here\n", nickname, peerID)
	} else if nicknameBefore != nickname {
		backend.Stdout.Printf("* %s is now known as %s\n", nicknameBefore, nickname)
	}

	backend.Filters.PeerUpdated(peer)
	return peer
}

// prunePeers removes all stale peers. Returns the count removed.
func (backend *Backend) prunePeers() (removed int) {
	peerlistMutex.Lock()
	defer peerlistMutex.Unlock()

	for deviceID, peer := range backend.peerList {
		if peer.IsStale() {
			delete(backend.peerList, deviceID)
			if peer.PeerID != "" {
				delete(backend.peerByID, peer.PeerID)
			}
			removed++
		}
	}

	return removed
}

// setPeerConnected flips the link state of a peer.
func (backend *Backend) setPeerConnected(deviceID string, connected bool) {
	peerlistMutex.Lock()
	peer, ok := backend.peerList[deviceID]
	if ok {
		peer.IsConnected = connected
		peer.LastSeen = time.Now()
	}
	peerlistMutex.Unlock()

	if ok {
		backend.Filters.PeerUpdated(peer)
	}
}
