/*
File Name:  Favorites.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Persistent favorite-peer table. Favorites survive restarts so a known peer can
be recognized and greeted by nickname before its next announce arrives.
*/

package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshchat/core/store"
)

// Favorite is one pinned peer.
type Favorite struct {
	PeerID    string    `json:"peerID"`    // 16 hex characters
	Nickname  string    `json:"nickname"`  // Last known nickname
	PublicKey string    `json:"publicKey"` // Full Ed25519 public key, hex
	NoiseKey  string    `json:"noiseKey"`  // X25519 key, hex
	AddedAt   time.Time `json:"addedAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Favorites is the favorite-peer table on a key-value store.
type Favorites struct {
	db store.Store
}

// initFavorites opens the favorites store. A configured path uses the on-disk
// store; otherwise favorites live in memory only.
func (backend *Backend) initFavorites() (status int, err error) {
	if backend.Config.StorePath == "" {
		backend.Favorites = &Favorites{db: store.NewMemoryStore()}
		return ExitSuccess, nil
	}

	db, err := store.NewPogrebStore(backend.Config.StorePath)
	if err != nil {
		return ExitErrorStoreInit, err
	}

	backend.Favorites = &Favorites{db: db}
	return ExitSuccess, nil
}

// ErrPeerUnidentified is returned when pinning a peer that never announced.
var ErrPeerUnidentified = errors.New("peer has no announced identity")

// Add pins a peer. The record keeps the identity keys so the peer stays
// addressable while out of range.
func (favorites *Favorites) Add(peer *PeerInfo) error {
	if peer.PeerID == "" {
		return ErrPeerUnidentified
	}

	record := Favorite{
		PeerID:   peer.PeerID,
		Nickname: peer.Nickname,
		NoiseKey: hex.EncodeToString(peer.NoiseKey[:]),
		AddedAt:  time.Now(),
		LastSeen: peer.LastSeen,
	}
	if peer.PublicKey != nil {
		record.PublicKey = hex.EncodeToString(peer.PublicKey)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return favorites.db.Set([]byte(peer.PeerID), data)
}

// Remove unpins a peer.
func (favorites *Favorites) Remove(peerID string) error {
	return favorites.db.Delete([]byte(peerID))
}

// Get returns the favorite record for a peer ID.
func (favorites *Favorites) Get(peerID string) (record *Favorite, found bool) {
	data, found := favorites.db.Get([]byte(peerID))
	if !found {
		return nil, false
	}

	record = &Favorite{}
	if json.Unmarshal(data, record) != nil {
		return nil, false
	}
	return record, true
}

// IsFavorite reports whether the peer is pinned.
func (favorites *Favorites) IsFavorite(peerID string) bool {
	_, found := favorites.db.Get([]byte(peerID))
	return found
}

// List returns all favorites.
func (favorites *Favorites) List() (records []Favorite) {
	favorites.db.Iterate(func(key, data []byte) bool {
		var record Favorite
		if json.Unmarshal(data, &record) == nil {
			records = append(records, record)
		}
		return true
	})
	return records
}

// Count returns the number of pinned peers.
func (favorites *Favorites) Count() uint64 {
	return favorites.db.Count()
}

// Close flushes the underlying store.
func (favorites *Favorites) Close() {
	favorites.db.Close()
}
