/*
File Name:  Connection Manager.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Discovers peers via the radio scan stream and maintains outbound links.
Admission: connection budget, RSSI floor, per-device failure backoff. Scan and
connect are mutually exclusive on common radios, so the scan is paused around
every connect attempt and re-armed afterwards, success or not.
*/

package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshchat/core/protocol"
)

// meshLink is one established radio link.
type meshLink struct {
	DeviceID       string
	Characteristic string
	MTU            int
	Fragmenter     *protocol.Fragmenter
	Established    time.Time

	// negotiated on hello exchange; zero until the peer's hello arrives
	Version  uint8
	Features uint16
}

// failureRecord tracks connect failures for the backoff policy.
type failureRecord struct {
	count int
	last  time.Time
}

type connectionManager struct {
	backend *Backend
	adapter RadioAdapter

	links      map[string]*meshLink
	linksMutex sync.RWMutex

	failures      map[string]*failureRecord
	failuresMutex sync.Mutex

	maxConnections int
	rssiFloor      int

	connecting int32 // 1 while a connect attempt is in flight

	attempts      map[string]chan LinkState
	attemptsMutex sync.Mutex

	// candidates seen while an attempt was already in flight, by device ID
	candidates      map[string]int
	candidatesMutex sync.Mutex

	terminate chan struct{}
}

func newConnectionManager(backend *Backend, adapter RadioAdapter) (manager *connectionManager) {
	manager = &connectionManager{
		backend:        backend,
		adapter:        adapter,
		links:          make(map[string]*meshLink),
		failures:       make(map[string]*failureRecord),
		attempts:       make(map[string]chan LinkState),
		candidates:     make(map[string]int),
		maxConnections: backend.Config.MaxConnections,
		rssiFloor:      backend.Config.RSSIFloor,
		terminate:      make(chan struct{}),
	}

	if manager.maxConnections <= 0 {
		manager.maxConnections = maxConnections
	}
	if manager.rssiFloor == 0 {
		manager.rssiFloor = rssiFloor
	}

	return manager
}

// run is the manager's event loop. It owns the link map mutations.
func (manager *connectionManager) run() {
	adapterEvents := manager.adapter.AdapterEvents()
	scanResults := manager.adapter.ScanResults()
	linkEvents := manager.adapter.LinkEvents()
	dataEvents := manager.adapter.DataEvents()

	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	manager.adapter.StartScan()
	manager.backend.setStatus(StatusScanning)

	for {
		select {
		case <-manager.terminate:
			return

		case state := <-adapterEvents:
			if state == AdapterOff {
				manager.backend.setStatus(StatusError)
			} else if state == AdapterOn {
				manager.adapter.StartScan()
				manager.backend.setStatus(StatusScanning)
			}

		case result := <-scanResults:
			manager.backend.PeerlistAdd(result.DeviceID, result.RSSI)
			if !manager.shouldConnect(result.DeviceID, result.RSSI) {
				continue
			}
			if atomic.CompareAndSwapInt32(&manager.connecting, 0, 1) {
				go manager.attemptConnect(result.DeviceID)
			} else {
				// An attempt is in flight. Remember the candidate; the
				// strongest admissible one connects next.
				manager.candidatesMutex.Lock()
				manager.candidates[result.DeviceID] = result.RSSI
				manager.candidatesMutex.Unlock()
			}

		case event := <-linkEvents:
			manager.handleLinkEvent(event)

		case event := <-dataEvents:
			manager.backend.handleInboundData(event.DeviceID, event.Data, TransportRadio)

		case <-maintenance.C:
			manager.maintenance()
		}
	}
}

// shouldConnect is the admission policy.
func (manager *connectionManager) shouldConnect(deviceID string, rssi int) bool {
	if manager.LinkCount() >= manager.maxConnections {
		return false
	}
	if rssi < manager.rssiFloor {
		return false
	}

	manager.linksMutex.RLock()
	_, connected := manager.links[deviceID]
	manager.linksMutex.RUnlock()
	if connected {
		return false
	}

	manager.failuresMutex.Lock()
	defer manager.failuresMutex.Unlock()

	if record, ok := manager.failures[deviceID]; ok {
		if time.Now().Before(manager.nextAllowedAttempt(record)) {
			return false
		}
	}

	return true
}

// nextAllowedAttempt is last failure + backoff * failure count. Caller holds the failures mutex.
func (manager *connectionManager) nextAllowedAttempt(record *failureRecord) time.Time {
	return record.last.Add(connectBackoff * time.Duration(record.count))
}

// attemptConnect runs the full connect sequence for one device. The scan is
// always re-armed when the attempt terminates.
func (manager *connectionManager) attemptConnect(deviceID string) {
	manager.backend.setStatus(StatusConnecting)

	manager.adapter.StopScan()
	time.Sleep(scanSettleDelay)

	success := manager.connectSequence(deviceID)

	if success {
		manager.clearFailure(deviceID)
		manager.backend.setPeerConnected(deviceID, true)
		manager.backend.setStatus(StatusConnected)
	} else {
		manager.recordFailure(deviceID)
		if manager.LinkCount() > 0 {
			manager.backend.setStatus(StatusConnected)
		} else {
			manager.backend.setStatus(StatusScanning)
		}
	}

	atomic.StoreInt32(&manager.connecting, 0)
	manager.adapter.StartScan()

	manager.connectNextCandidate()
}

// connectNextCandidate starts an attempt for the strongest candidate that
// queued up while the previous attempt was in flight.
func (manager *connectionManager) connectNextCandidate() {
	manager.candidatesMutex.Lock()
	var bestDevice string
	bestRSSI := -1000
	for deviceID, rssi := range manager.candidates {
		if rssi > bestRSSI {
			bestDevice, bestRSSI = deviceID, rssi
		}
	}
	delete(manager.candidates, bestDevice)
	manager.candidatesMutex.Unlock()

	if bestDevice == "" || !manager.shouldConnect(bestDevice, bestRSSI) {
		return
	}
	if atomic.CompareAndSwapInt32(&manager.connecting, 0, 1) {
		go manager.attemptConnect(bestDevice)
	}
}

func (manager *connectionManager) connectSequence(deviceID string) (success bool) {
	wait := make(chan LinkState, 4)
	manager.attemptsMutex.Lock()
	manager.attempts[deviceID] = wait
	manager.attemptsMutex.Unlock()

	defer func() {
		manager.attemptsMutex.Lock()
		delete(manager.attempts, deviceID)
		manager.attemptsMutex.Unlock()
	}()

	if err := manager.adapter.Connect(deviceID); err != nil {
		return false
	}

	timeout := time.NewTimer(connectTimeout)
	defer timeout.Stop()

	for {
		select {
		case state := <-wait:
			switch state {
			case LinkConnected, LinkReady:
				return manager.setupLink(deviceID)
			case LinkFailed, LinkTimeout, LinkDisconnected:
				return false
			}

		case <-timeout.C:
			manager.adapter.Disconnect(deviceID)
			return false

		case <-manager.terminate:
			manager.adapter.Disconnect(deviceID)
			return false
		}
	}
}

// setupLink negotiates the MTU, discovers the characteristic and subscribes.
func (manager *connectionManager) setupLink(deviceID string) (success bool) {
	mtu := defaultLinkMTU
	if granted, err := manager.adapter.RequestMTU(deviceID, targetMTU); err == nil && granted > protocol.FragmentHeaderSize {
		mtu = granted
	}

	characteristic, err := manager.adapter.DiscoverCharacteristic(deviceID, manager.backend.Config.ServiceUUID)
	if err != nil {
		manager.adapter.Disconnect(deviceID)
		return false
	}

	if err := manager.adapter.Subscribe(deviceID, characteristic); err != nil {
		manager.adapter.Disconnect(deviceID)
		return false
	}

	link := &meshLink{
		DeviceID:       deviceID,
		Characteristic: characteristic,
		MTU:            mtu,
		Fragmenter:     protocol.NewFragmenter(mtu, protocol.HashData(append(manager.backend.PeerIdentity.PeerIDBytes(), deviceID...))),
		Established:    time.Now(),
	}

	manager.linksMutex.Lock()
	manager.links[deviceID] = link
	manager.linksMutex.Unlock()

	// Version negotiation starts immediately on the fresh link.
	manager.adapter.Write(deviceID, manager.backend.helloFrame())

	// The announce follows, so the peer learns our identity without waiting
	// for the periodic one.
	manager.backend.UnicastTo(deviceID, protocol.TypeAnnounce, manager.backend.encodeAnnounce(), defaultTTL)

	return true
}

// handleLinkEvent routes adapter connection events.
func (manager *connectionManager) handleLinkEvent(event LinkEvent) {
	manager.attemptsMutex.Lock()
	wait, pending := manager.attempts[event.DeviceID]
	manager.attemptsMutex.Unlock()

	if pending {
		select {
		case wait <- event.State:
		default:
		}
	}

	if event.State == LinkDisconnected || event.State == LinkFailed {
		manager.removeLink(event.DeviceID)
	}
}

// removeLink drops a dead link and re-arms the scan when no links remain.
func (manager *connectionManager) removeLink(deviceID string) {
	manager.linksMutex.Lock()
	_, existed := manager.links[deviceID]
	delete(manager.links, deviceID)
	remaining := len(manager.links)
	manager.linksMutex.Unlock()

	if !existed {
		return
	}

	manager.backend.setPeerConnected(deviceID, false)

	if remaining == 0 {
		manager.adapter.StartScan()
		manager.backend.setStatus(StatusScanning)
	}
}

// helloReceived stores the negotiated parameters on the link.
func (manager *connectionManager) helloReceived(deviceID string, peerHello *protocol.Hello) {
	version, features, err := protocol.Negotiate(manager.backend.hello(), peerHello)
	if err != nil {
		// Incompatible peer: drop the link.
		manager.backend.LogError("helloReceived", "incompatible peer %s: %v", deviceID, err)
		manager.adapter.Disconnect(deviceID)
		manager.removeLink(deviceID)
		return
	}

	manager.linksMutex.Lock()
	if link, ok := manager.links[deviceID]; ok {
		link.Version = version
		link.Features = features
	}
	manager.linksMutex.Unlock()
}

// maintenance prunes stale peers, sweeps caches and re-arms the scan.
func (manager *connectionManager) maintenance() {
	manager.backend.prunePeers()
	manager.backend.dedup.Sweep()
	manager.backend.reassembler.Expire()
	manager.expireFailures()

	if atomic.LoadInt32(&manager.connecting) == 0 {
		manager.adapter.StartScan()
	}
}

// expireFailures forgets failure records whose backoff has long passed.
func (manager *connectionManager) expireFailures() {
	manager.failuresMutex.Lock()
	defer manager.failuresMutex.Unlock()

	for deviceID, record := range manager.failures {
		if time.Since(manager.nextAllowedAttempt(record)) > 10*time.Minute {
			delete(manager.failures, deviceID)
		}
	}
}

func (manager *connectionManager) recordFailure(deviceID string) {
	manager.failuresMutex.Lock()
	defer manager.failuresMutex.Unlock()

	record, ok := manager.failures[deviceID]
	if !ok {
		record = &failureRecord{}
		manager.failures[deviceID] = record
	}
	record.count++
	record.last = time.Now()
}

func (manager *connectionManager) clearFailure(deviceID string) {
	manager.failuresMutex.Lock()
	delete(manager.failures, deviceID)
	manager.failuresMutex.Unlock()
}

// LinkCount returns the number of live links.
func (manager *connectionManager) LinkCount() int {
	manager.linksMutex.RLock()
	defer manager.linksMutex.RUnlock()

	return len(manager.links)
}

// LinkIDs returns the device IDs of all live links.
func (manager *connectionManager) LinkIDs() (ids []string) {
	manager.linksMutex.RLock()
	defer manager.linksMutex.RUnlock()

	for deviceID := range manager.links {
		ids = append(ids, deviceID)
	}
	return ids
}

// ---- Transport implementation (radio path) ----

// Name identifies the transport.
func (manager *connectionManager) Name() string {
	return TransportRadio
}

// Broadcast writes the frame to every live link, fragmented per link MTU.
// Per-link failures are counted, not returned.
func (manager *connectionManager) Broadcast(frame []byte) error {
	return manager.broadcastExcept(frame, "")
}

// BroadcastExcept writes to every live link except the named one.
func (manager *connectionManager) BroadcastExcept(frame []byte, exceptDevice string) (sent int) {
	manager.linksMutex.RLock()
	links := make([]*meshLink, 0, len(manager.links))
	for _, link := range manager.links {
		if link.DeviceID != exceptDevice {
			links = append(links, link)
		}
	}
	manager.linksMutex.RUnlock()

	for _, link := range links {
		if manager.writeLink(link, frame) {
			sent++
		}
	}
	return sent
}

func (manager *connectionManager) broadcastExcept(frame []byte, exceptDevice string) error {
	manager.BroadcastExcept(frame, exceptDevice)
	return nil
}

// Unicast writes the frame to a single link.
func (manager *connectionManager) Unicast(deviceID string, frame []byte) bool {
	manager.linksMutex.RLock()
	link, ok := manager.links[deviceID]
	manager.linksMutex.RUnlock()

	if !ok {
		return false
	}
	return manager.writeLink(link, frame)
}

// writeLink fragments and writes one frame. Write failures are silent but counted.
func (manager *connectionManager) writeLink(link *meshLink, frame []byte) (success bool) {
	success = true
	for _, fragment := range link.Fragmenter.Split(frame) {
		if err := manager.adapter.Write(link.DeviceID, fragment); err != nil {
			atomic.AddUint64(&manager.backend.CountWriteFailures, 1)
			success = false
		}
	}
	return success
}

// stop disconnects everything and halts the loop. Idempotent through Backend.Stop.
func (manager *connectionManager) stop() {
	close(manager.terminate)
	manager.adapter.StopScan()
	manager.adapter.DisconnectAll()

	manager.linksMutex.Lock()
	manager.links = make(map[string]*meshLink)
	manager.linksMutex.Unlock()
}
