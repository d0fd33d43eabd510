/*
File Name:  Transport.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Uniform send interface over the two concrete paths: the radio mesh and the
relay network. The radio path writes fragmented frames per link; the relay
path wraps frames into signed events published to relays whose geographic
scope intersects the target.
*/

package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"github.com/meshchat/core/dmcrypto"
	"github.com/meshchat/core/relay"
)

// Transport names.
const (
	TransportRadio = "radio"
	TransportRelay = "relay"
)

// Transport is the uniform send surface of one concrete path.
type Transport interface {
	// Name identifies the transport.
	Name() string

	// Broadcast sends a frame to every reachable peer on this path.
	Broadcast(frame []byte) error

	// Unicast sends a frame to one peer. Reports success.
	Unicast(linkID string, frame []byte) bool
}

// meshTag names the event tag carrying the mesh peer ID.
const meshTag = "m"

// relayTransport bridges mesh frames over the relay network.
type relayTransport struct {
	backend *Backend
	client  *relay.Client

	// relay identity: secp256k1 key derived from the mesh identity seed
	privateKey []byte

	// mesh peer ID (hex) -> relay public key (hex), learned from event tags
	knownPeers      map[string]string
	knownPeersMutex sync.RWMutex

	scope string // geohash scope for published events, empty = global
}

// deriveRelayKey derives the secp256k1 relay key from the identity seed, so a
// single persisted seed restores both identities.
func deriveRelayKey(seed []byte) (privateKey []byte) {
	curve := btcec.S256()

	counter := byte(0)
	for {
		digest := sha256.Sum256(append(append([]byte("meshchat relay key"), seed...), counter))
		d := new(big.Int).SetBytes(digest[:])
		if d.Sign() > 0 && d.Cmp(curve.N) < 0 {
			privateKey = make([]byte, 32)
			d.FillBytes(privateKey)
			return privateKey
		}
		counter++
	}
}

func newRelayTransport(backend *Backend, client *relay.Client, scope string) (t *relayTransport) {
	return &relayTransport{
		backend:    backend,
		client:     client,
		privateKey: deriveRelayKey(backend.PeerIdentity.ExportSeed()),
		knownPeers: make(map[string]string),
		scope:      scope,
	}
}

// start subscribes to mesh-bridge and direct-message events and begins
// forwarding inbound frames into the backend.
func (t *relayTransport) start() {
	publicX, err := dmcrypto.PublicKeyX(t.privateKey)
	if err != nil {
		t.backend.LogError("relayTransport.start", "deriving relay key: %v", err)
		return
	}
	selfPubKey := hex.EncodeToString(publicX)

	t.client.Subscribe(relay.Filter{Kinds: []int{relay.KindEphemeralChat}}, nil, func(event *relay.Event) {
		if event.PubKey == selfPubKey {
			return
		}
		t.learnPeer(event)

		frame, err := base64.StdEncoding.DecodeString(event.Content)
		if err != nil {
			return
		}
		t.backend.handleInboundData(TransportRelay+":"+event.PubKey, frame, TransportRelay)
	})

	t.client.Subscribe(relay.Filter{Kinds: []int{relay.KindDirectMessage}}, nil, func(event *relay.Event) {
		if event.TagValue("p") != selfPubKey {
			return
		}
		senderPubKey, err := hex.DecodeString(event.PubKey)
		if err != nil {
			return
		}

		plaintext, err := dmcrypto.Decrypt(event.Content, t.privateKey, senderPubKey)
		if err != nil {
			t.backend.LogError("relayTransport", "DM decrypt from %s failed", event.PubKey)
			return
		}

		t.backend.deliverDirectMessage(event.PubKey, plaintext)
	})

	t.client.Connect()
}

// learnPeer records the mesh-peer to relay-key mapping from the event tags.
func (t *relayTransport) learnPeer(event *relay.Event) {
	peerID := event.TagValue(meshTag)
	if peerID == "" {
		return
	}

	t.knownPeersMutex.Lock()
	t.knownPeers[peerID] = event.PubKey
	t.knownPeersMutex.Unlock()
}

// Name identifies the transport.
func (t *relayTransport) Name() string {
	return TransportRelay
}

// Broadcast publishes the frame as a signed event. Relays whose geohash scope
// does not intersect ours are skipped.
func (t *relayTransport) Broadcast(frame []byte) error {
	event := &relay.Event{
		CreatedAt: nowUnix(),
		Kind:      relay.KindEphemeralChat,
		Content:   base64.StdEncoding.EncodeToString(frame),
		Tags:      [][]string{{meshTag, t.backend.PeerIdentity.PeerIDHex()}},
	}
	if t.scope != "" {
		event.Tags = append(event.Tags, relay.GeohashTag(t.scope))
	}

	if err := event.Sign(t.privateKey); err != nil {
		return err
	}

	t.client.Publish(event, nil, t.scope)
	return nil
}

// Unicast sends an encrypted direct message to a mesh peer whose relay key is
// known from earlier events.
func (t *relayTransport) Unicast(peerID string, frame []byte) bool {
	t.knownPeersMutex.RLock()
	theirPubKeyHex, known := t.knownPeers[peerID]
	t.knownPeersMutex.RUnlock()

	if !known {
		return false
	}
	theirPubKey, err := hex.DecodeString(theirPubKeyHex)
	if err != nil {
		return false
	}

	content, err := dmcrypto.Encrypt(base64.StdEncoding.EncodeToString(frame), t.privateKey, theirPubKey)
	if err != nil {
		return false
	}

	event := &relay.Event{
		CreatedAt: nowUnix(),
		Kind:      relay.KindDirectMessage,
		Content:   content,
		Tags:      [][]string{{"p", theirPubKeyHex}, {meshTag, t.backend.PeerIdentity.PeerIDHex()}},
	}
	if err := event.Sign(t.privateKey); err != nil {
		return false
	}

	return t.client.Publish(event, nil, "") > 0
}
