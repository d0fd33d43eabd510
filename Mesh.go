/*
File Name:  Mesh.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

The Backend composes the mesh core: identity, packet codec, deduplicator,
connection manager, relay engine and the optional relay client. Inbound bytes
from any transport run fragment reassembly, decode, signature check and dedup
before they surface on the inbound stream and reach the relay engine.
*/

package core

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshchat/core/identity"
	"github.com/meshchat/core/protocol"
	"github.com/meshchat/core/relay"
)

// Service status values.
const (
	StatusIdle = iota
	StatusScanning
	StatusConnecting
	StatusConnected
	StatusError
	StatusStopped
)

// InboundPacket is one decoded, deduplicated packet from any transport.
type InboundPacket struct {
	Packet    *protocol.Packet
	LinkID    string
	Transport string
}

// RelayDM is a decrypted direct message received over the relay network.
type RelayDM struct {
	FromPubKey string
	Content    string
}

// The Backend represents an instance of a meshchat core to be used by a frontend.
type Backend struct {
	ConfigFilename string      // Filename of the configuration file.
	Config         *Config     // Core configuration
	ConfigClient   interface{} // Custom configuration from the client
	Filters        Filters     // Filters allow to install hooks.
	userAgent      string      // User Agent

	// PeerIdentity is the local long-term identity.
	PeerIdentity *identity.Identity

	// peerList keeps track of all peers by radio device ID
	peerList map[string]*PeerInfo

	// peerByID mirrors peerList using the announced peer ID
	peerByID map[string]*PeerInfo

	manager        *connectionManager
	dedup          *Deduplicator
	reassembler    *protocol.Reassembler
	rateLimiter    *RateLimiter
	relayTransport *relayTransport

	// RelayClient is the relay pool, nil unless relays are configured.
	RelayClient *relay.Client

	// Favorites is the persistent favorite-peer table.
	Favorites *Favorites

	inboundPackets chan InboundPacket

	// recent is the window of message keys available for sync reconciliation.
	recent recentKeys

	// DirectMessages receives decrypted relay direct messages.
	DirectMessages chan RelayDM

	status          int32
	terminateSignal chan struct{}
	startOnce       sync.Once
	stopOnce        sync.Once

	// counters of silently dropped traffic
	CountMalformed     uint64
	CountDuplicates    uint64
	CountRelayed       uint64
	CountWriteFailures uint64
	CountBadSignature  uint64
	CountInboundFull   uint64

	// Stdout bundles chat output for the end-user. Writers may subscribe/unsubscribe.
	Stdout *console
}

// Init initializes the core. If the config file does not exist or is empty, a
// default one will be created. The User Agent must be provided in the form
// "Application Name/1.0". The returned status is of type ExitX; anything other
// than ExitSuccess indicates a fatal failure.
func Init(UserAgent string, ConfigFilename string, Filters *Filters, ConfigOut interface{}) (backend *Backend, status int, err error) {
	if UserAgent == "" {
		return
	}

	backend = &Backend{
		ConfigFilename:  ConfigFilename,
		userAgent:       UserAgent,
		Config:          &Config{},
		Stdout:          newConsole(),
		inboundPackets:  make(chan InboundPacket, 512),
		DirectMessages:  make(chan RelayDM, 64),
		terminateSignal: make(chan struct{}),
	}

	if Filters != nil {
		backend.Filters = *Filters
	}

	// The configuration and log init are fatal events if they fail.
	if status, err = LoadConfig(ConfigFilename, backend.Config); status != ExitSuccess {
		return nil, status, err
	}
	if ConfigOut != nil {
		if status, err = LoadConfig(ConfigFilename, ConfigOut); status != ExitSuccess {
			return nil, status, err
		}
		backend.ConfigClient = ConfigOut
	}

	if err = backend.initLog(); err != nil {
		return nil, ExitErrorLogInit, err
	}

	backend.initFilters()
	if status, err = backend.initPeerID(); status != ExitSuccess {
		return nil, status, err
	}
	if status, err = backend.initFavorites(); status != ExitSuccess {
		return nil, status, err
	}

	backend.dedup = NewDeduplicator(dedupCapacity, dedupMaxAge)
	backend.reassembler = protocol.NewReassembler()
	backend.rateLimiter = NewRateLimiter(rateBucketSize, rateRefill, rateCooldown)

	if len(backend.Config.Relays) > 0 {
		relays := make([]relay.RelayConfig, 0, len(backend.Config.Relays))
		scope := ""
		for _, seed := range backend.Config.Relays {
			relays = append(relays, relay.RelayConfig{URL: seed.URL, Geohash: seed.Geohash})
			if scope == "" && relay.ValidGeohash(seed.Geohash) {
				scope = seed.Geohash
			}
		}
		backend.RelayClient = relay.NewClient(relays, backend.Config.Socks)
		backend.relayTransport = newRelayTransport(backend, backend.RelayClient, scope)
	}

	return backend, ExitSuccess, nil
}

// Start brings the mesh up on the given radio adapter. It fails with
// ErrTimeout if the adapter does not reach a definite state within 5 seconds
// and with ErrAdapterOff if the radio is powered off.
func (backend *Backend) Start(adapter RadioAdapter) (err error) {
	if backend.IsStopped() {
		return ErrDisposed
	}

	state := adapter.AdapterState()
	if state == AdapterUnknown {
		deadline := time.NewTimer(adapterStateTimeout)
		defer deadline.Stop()

		events := adapter.AdapterEvents()
	wait:
		for {
			select {
			case state = <-events:
				if state != AdapterUnknown {
					break wait
				}
			case <-deadline.C:
				backend.setStatus(StatusError)
				return ErrTimeout
			}
		}
	}
	if state == AdapterOff {
		backend.setStatus(StatusError)
		return ErrAdapterOff
	}

	backend.startOnce.Do(func() {
		backend.manager = newConnectionManager(backend, adapter)
		go backend.manager.run()
		go backend.autoAnnounce()

		if backend.relayTransport != nil {
			backend.relayTransport.start()
		}
	})

	return nil
}

// Stop cancels all pending work, disconnects all links and closes the relay
// sockets. Idempotent.
func (backend *Backend) Stop() {
	backend.stopOnce.Do(func() {
		close(backend.terminateSignal)

		if backend.manager != nil {
			backend.manager.stop()
		}
		if backend.RelayClient != nil {
			backend.RelayClient.Close()
		}
		if backend.Favorites != nil {
			backend.Favorites.Close()
		}

		backend.setStatus(StatusStopped)
	})
}

// IsStopped reports whether Stop ran.
func (backend *Backend) IsStopped() bool {
	return atomic.LoadInt32(&backend.status) == StatusStopped
}

// Status returns the current service status.
func (backend *Backend) Status() int {
	return int(atomic.LoadInt32(&backend.status))
}

func (backend *Backend) setStatus(status int32) {
	if atomic.LoadInt32(&backend.status) == StatusStopped {
		return
	}
	atomic.StoreInt32(&backend.status, status)
}

// InboundPackets is the stream of decoded, deduplicated packets. Never closed
// while the backend lives.
func (backend *Backend) InboundPackets() <-chan InboundPacket {
	return backend.inboundPackets
}

// hello is the local negotiation offer.
func (backend *Backend) hello() *protocol.Hello {
	return &protocol.Hello{
		Version:    ProtocolVersion,
		MinVersion: ProtocolVersionMin,
		Features:   protocol.FeatureMeshRelay | protocol.FeatureCompression | protocol.FeatureRelayBridge,
	}
}

// helloFrame is the encoded local hello, sent on every fresh link.
func (backend *Backend) helloFrame() []byte {
	return backend.hello().Encode()
}

// handleInboundData processes one raw datagram from any transport: fragment
// reassembly, hello handling, decode, signature check, dedup, delivery, relay.
func (backend *Backend) handleInboundData(linkID string, data []byte, transport string) {
	if backend.IsStopped() {
		return
	}

	frame := backend.reassembler.Accept(linkID, data)
	if frame == nil {
		return // fragment stored, message not yet complete
	}

	if len(frame) == protocol.HelloSize {
		if hello, err := protocol.DecodeHello(frame); err == nil {
			if backend.manager != nil {
				backend.manager.helloReceived(linkID, hello)
			}
			return
		}
	}

	packet, err := protocol.Decode(frame)
	if err != nil {
		atomic.AddUint64(&backend.CountMalformed, 1)
		return
	}

	// Verify the signature when the sender's key is known from an announce.
	// The announce itself carries its key in the payload.
	if len(packet.Signature) > 0 {
		publicKey := backend.senderPublicKey(packet)
		if publicKey != nil {
			preimage, err := packet.SigningPreimage()
			if err != nil || !identity.Verify(preimage, packet.Signature, publicKey) {
				atomic.AddUint64(&backend.CountBadSignature, 1)
				return
			}
		}
	}

	if backend.dedup.IsDuplicate(packet.DedupKey()) {
		atomic.AddUint64(&backend.CountDuplicates, 1)
		return
	}
	backend.recent.remember(packet.DedupKey())

	// Own packets flooded back to us are never delivered or forwarded.
	if bytes.Equal(packet.SenderID, backend.PeerIdentity.PeerIDBytes()) {
		return
	}

	backend.touchPeer(linkID, transport)
	backend.Filters.PacketIn(packet, linkID)

	switch packet.Type {
	case protocol.TypeAnnounce:
		backend.handleAnnounce(packet, linkID)
	case protocol.TypeLeave:
		if peer := backend.PeerlistLookupDevice(linkID); peer != nil {
			backend.PeerlistRemove(peer)
		}
	default:
		backend.deliver(packet, linkID, transport)
	}

	// The relay engine runs after delivery, so observers see the packet
	// before any flooded duplicate returns.
	if transport == TransportRadio {
		backend.maybeRelay(packet, linkID)
	}
}

// deliver emits the packet on the inbound stream. A full stream drops the
// packet; the counter makes the loss observable.
func (backend *Backend) deliver(packet *protocol.Packet, linkID string, transport string) {
	peer := backend.PeerlistLookupDevice(linkID)
	if peer != nil {
		atomic.AddUint64(&peer.StatsPacketReceived, 1)
		backend.Filters.MessageIn(peer, packet)
	}

	if packet.Type == protocol.TypeMessage {
		backend.printMessage(packet)
	}

	select {
	case backend.inboundPackets <- InboundPacket{Packet: packet, LinkID: linkID, Transport: transport}:
	default:
		atomic.AddUint64(&backend.CountInboundFull, 1)
	}
}

// touchPeer refreshes the last-seen time of the peer behind a link.
func (backend *Backend) touchPeer(linkID string, transport string) {
	if transport != TransportRadio {
		return
	}
	if peer := backend.PeerlistLookupDevice(linkID); peer != nil {
		peerlistMutex.Lock()
		peer.LastSeen = time.Now()
		peerlistMutex.Unlock()
	}
}

// senderPublicKey returns the full public key for a packet's sender, if known.
func (backend *Backend) senderPublicKey(packet *protocol.Packet) (publicKey []byte) {
	if packet.Type == protocol.TypeAnnounce && len(packet.Payload) >= announcePayloadMin {
		return packet.Payload[0:32]
	}

	if peer := backend.PeerlistLookupID(packet.SenderHex()); peer != nil && peer.PublicKey != nil {
		return peer.PublicKey
	}
	return nil
}

// sendPacket signs, encodes and sends a locally originated packet on all
// transports. The packet's own dedup key is recorded so the flood echo is
// dropped on return.
func (backend *Backend) sendPacket(packet *protocol.Packet, broadcast bool) (err error) {
	if backend.IsStopped() {
		return ErrDisposed
	}

	preimage, err := packet.SigningPreimage()
	if err != nil {
		return err
	}
	packet.Signature = backend.PeerIdentity.Sign(preimage)

	backend.Filters.PacketOut(packet)

	// Frames are padded to a block size so the length leaks less.
	frame, err := packet.EncodePadded()
	if err != nil {
		return err
	}

	backend.dedup.IsDuplicate(packet.DedupKey())
	backend.recent.remember(packet.DedupKey())

	if backend.manager != nil {
		backend.manager.Broadcast(frame)
	}
	if broadcast && backend.relayTransport != nil {
		backend.relayTransport.Broadcast(frame)
	}

	return nil
}

// Broadcast floods a packet of the given type to the whole mesh.
func (backend *Backend) Broadcast(packetType uint8, payload []byte, ttl uint8) (err error) {
	if packetType == protocol.TypeMessage || packetType == protocol.TypeFileChunk {
		if !backend.rateLimiter.TryConsume("broadcast") {
			return ErrRateLimited
		}
	}

	return backend.sendPacket(&protocol.Packet{
		Version:   ProtocolVersion,
		Type:      packetType,
		TTL:       ttl,
		Timestamp: nowMilli(),
		SenderID:  backend.PeerIdentity.PeerIDBytes(),
		Payload:   payload,
	}, true)
}

// UnicastTo sends a packet to a single directly connected device.
func (backend *Backend) UnicastTo(deviceID string, packetType uint8, payload []byte, ttl uint8) (err error) {
	if backend.IsStopped() {
		return ErrDisposed
	}
	if !backend.rateLimiter.TryConsume(deviceID) {
		return ErrRateLimited
	}

	packet := &protocol.Packet{
		Version:   ProtocolVersion,
		Type:      packetType,
		TTL:       ttl,
		Timestamp: nowMilli(),
		SenderID:  backend.PeerIdentity.PeerIDBytes(),
		Payload:   payload,
	}

	if peer := backend.PeerlistLookupDevice(deviceID); peer != nil && peer.PeerID != "" {
		if peerID, err := decodeHexID(peer.PeerID); err == nil {
			packet.RecipientID = peerID
		}
	}

	preimage, err := packet.SigningPreimage()
	if err != nil {
		return err
	}
	packet.Signature = backend.PeerIdentity.Sign(preimage)

	backend.Filters.PacketOut(packet)

	frame, err := packet.EncodePadded()
	if err != nil {
		return err
	}

	backend.dedup.IsDuplicate(packet.DedupKey())

	if backend.manager != nil && backend.manager.Unicast(deviceID, frame) {
		return nil
	}
	if backend.relayTransport != nil {
		if peer := backend.PeerlistLookupDevice(deviceID); peer != nil && peer.PeerID != "" && backend.relayTransport.Unicast(peer.PeerID, frame) {
			return nil
		}
	}

	return ErrLinkUnavailable
}

// deliverDirectMessage surfaces a decrypted relay DM. Frames tunneled through
// a DM re-enter the packet pipeline; anything else is plain text.
func (backend *Backend) deliverDirectMessage(fromPubKey string, plaintext string) {
	if frame, err := base64.StdEncoding.DecodeString(plaintext); err == nil {
		if _, err := protocol.Decode(frame); err == nil {
			backend.handleInboundData(TransportRelay+":"+fromPubKey, frame, TransportRelay)
			return
		}
	}

	select {
	case backend.DirectMessages <- RelayDM{FromPubKey: fromPubKey, Content: plaintext}:
	default:
	}
}

func decodeHexID(peerID string) (id []byte, err error) {
	return hex.DecodeString(peerID)
}

func nowMilli() uint64 {
	return uint64(time.Now().UnixNano() / int64(time.Millisecond))
}

func nowUnix() int64 {
	return time.Now().Unix()
}
