/*
File Name:  Status.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package webapi

import (
	"net/http"
	"time"
)

type apiResponseStatus struct {
	Status    int  `json:"status"`    // Service status, see core.StatusX
	PeerCount int  `json:"peerCount"` // Count of known peers
	Relay     bool `json:"relay"`     // Whether the relay transport is configured
}

// apiStatus returns the service status.
func (api *WebapiInstance) apiStatus(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, apiResponseStatus{
		Status:    api.Backend.Status(),
		PeerCount: api.Backend.PeerlistCount(),
		Relay:     api.Backend.RelayClient != nil,
	})
}

type apiPeerInfo struct {
	DeviceID    string    `json:"deviceID"`
	PeerID      string    `json:"peerID"`
	Nickname    string    `json:"nickname"`
	RSSI        int       `json:"rssi"`
	LastSeen    time.Time `json:"lastSeen"`
	IsConnected bool      `json:"isConnected"`
	IsFavorite  bool      `json:"isFavorite"`
}

// apiPeers returns the current peer list.
func (api *WebapiInstance) apiPeers(w http.ResponseWriter, r *http.Request) {
	var peers []apiPeerInfo
	for _, peer := range api.Backend.PeerlistGet() {
		peers = append(peers, apiPeerInfo{
			DeviceID:    peer.DeviceID,
			PeerID:      peer.PeerID,
			Nickname:    peer.Nickname,
			RSSI:        peer.RSSI,
			LastSeen:    peer.LastSeen,
			IsConnected: peer.IsConnected,
			IsFavorite:  api.Backend.Favorites.IsFavorite(peer.PeerID),
		})
	}

	EncodeJSON(api.Backend, w, r, peers)
}

type apiAccountInfo struct {
	PeerID      string `json:"peerID"`
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname"`
}

// apiAccountInfo returns the local identity.
func (api *WebapiInstance) apiAccountInfo(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, apiAccountInfo{
		PeerID:      api.Backend.PeerIdentity.PeerIDHex(),
		Fingerprint: api.Backend.PeerIdentity.Fingerprint(),
		Nickname:    api.Backend.Config.Nickname,
	})
}

// apiFavoritesList returns all pinned peers.
func (api *WebapiInstance) apiFavoritesList(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, api.Backend.Favorites.List())
}

type apiFavoriteRequest struct {
	PeerID string `json:"peerID"`
}

// apiFavoritesAdd pins a currently known peer.
func (api *WebapiInstance) apiFavoritesAdd(w http.ResponseWriter, r *http.Request) {
	var request apiFavoriteRequest
	if DecodeJSON(w, r, &request) != nil {
		return
	}

	peer := api.Backend.PeerlistLookupID(request.PeerID)
	if peer == nil {
		http.Error(w, "", http.StatusNotFound)
		return
	}
	if err := api.Backend.Favorites.Add(peer); err != nil {
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	EncodeJSON(api.Backend, w, r, map[string]bool{"ok": true})
}

// apiFavoritesRemove unpins a peer.
func (api *WebapiInstance) apiFavoritesRemove(w http.ResponseWriter, r *http.Request) {
	var request apiFavoriteRequest
	if DecodeJSON(w, r, &request) != nil {
		return
	}

	if err := api.Backend.Favorites.Remove(request.PeerID); err != nil {
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	EncodeJSON(api.Backend, w, r, map[string]bool{"ok": true})
}
