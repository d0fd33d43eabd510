/*
File Name:  Sync.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Set reconciliation. SendSyncFilter floods a Golomb-coded set of the message
keys this peer has seen; receivers diff it against their own recent keys to
learn what the sender missed. The core sends the filter only when
SendSyncFilter is called; no timer sends it. Re-sending the missed messages is up to the
application layer, which owns the message store.
*/

package core

import (
	"sync"

	"github.com/meshchat/core/gcs"
	"github.com/meshchat/core/protocol"
)

// recentKeysMax bounds the window of keys available for reconciliation.
const recentKeysMax = 500

type recentKeys struct {
	keys []string
	sync.Mutex
}

// remember appends a message key to the reconciliation window.
func (r *recentKeys) remember(key string) {
	r.Lock()
	defer r.Unlock()

	r.keys = append(r.keys, key)
	if len(r.keys) > recentKeysMax {
		r.keys = r.keys[len(r.keys)-recentKeysMax:]
	}
}

func (r *recentKeys) snapshot() (keys []string) {
	r.Lock()
	defer r.Unlock()

	return append([]string{}, r.keys...)
}

// BuildSyncFilter encodes the recently seen message keys as a GCS blob.
func (backend *Backend) BuildSyncFilter() (raw []byte) {
	keys := backend.recent.snapshot()

	ids := make([][]byte, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, []byte(key))
	}

	return gcs.Build(ids, gcs.DefaultP).Encode()
}

// SendSyncFilter floods the local sync filter into the mesh.
func (backend *Backend) SendSyncFilter() (err error) {
	return backend.sendPacket(&protocol.Packet{
		Version:   ProtocolVersion,
		Type:      protocol.TypeSyncFilter,
		TTL:       defaultTTL,
		Timestamp: nowMilli(),
		SenderID:  backend.PeerIdentity.PeerIDBytes(),
		Payload:   backend.BuildSyncFilter(),
	}, true)
}

// MissingFromFilter returns the recently seen keys that the presented remote
// filter does not contain, i.e. what the remote peer likely missed. GCS false
// positives make this list slightly conservative.
func (backend *Backend) MissingFromFilter(raw []byte) (missing []string, err error) {
	filter, err := gcs.Decode(raw)
	if err != nil {
		return nil, err
	}

	for _, key := range backend.recent.snapshot() {
		if !filter.MightContain([]byte(key)) {
			missing = append(missing, key)
		}
	}

	return missing, nil
}
