// End-to-end tests of the mesh pipeline using an in-memory radio adapter.
package core

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meshchat/core/protocol"
)

// fakeAdapter is an in-memory radio. Writes are routed to the wired remote
// backend's inbound pipeline.
type fakeAdapter struct {
	state         AdapterState
	adapterEvents chan AdapterState
	scanResults   chan ScanResult
	linkEvents    chan LinkEvent
	dataEvents    chan DataEvent

	// route delivers a write to the remote device. May be nil.
	route func(deviceID string, data []byte) error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		state:         AdapterOn,
		adapterEvents: make(chan AdapterState, 8),
		scanResults:   make(chan ScanResult, 64),
		linkEvents:    make(chan LinkEvent, 64),
		dataEvents:    make(chan DataEvent, 64),
	}
}

func (a *fakeAdapter) AdapterState() AdapterState          { return a.state }
func (a *fakeAdapter) AdapterEvents() <-chan AdapterState  { return a.adapterEvents }
func (a *fakeAdapter) StartScan() error                    { return nil }
func (a *fakeAdapter) StopScan() error                     { return nil }
func (a *fakeAdapter) ScanResults() <-chan ScanResult      { return a.scanResults }
func (a *fakeAdapter) Connect(deviceID string) error       { return nil }
func (a *fakeAdapter) Disconnect(deviceID string) error    { return nil }
func (a *fakeAdapter) DisconnectAll()                      {}
func (a *fakeAdapter) LinkEvents() <-chan LinkEvent        { return a.linkEvents }
func (a *fakeAdapter) DataEvents() <-chan DataEvent        { return a.dataEvents }
func (a *fakeAdapter) Subscribe(deviceID, characteristicUUID string) error { return nil }

func (a *fakeAdapter) RequestMTU(deviceID string, mtu int) (int, error) { return mtu, nil }

func (a *fakeAdapter) DiscoverCharacteristic(deviceID, serviceUUID string) (string, error) {
	return "characteristic-1", nil
}

func (a *fakeAdapter) Write(deviceID string, data []byte) error {
	if a.route != nil {
		return a.route(deviceID, data)
	}
	return nil
}

// newTestBackend creates a backend with a fresh config in a temp directory.
func newTestBackend(t *testing.T, name string) (backend *Backend) {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), name+".yaml")
	if err := os.WriteFile(configFile, []byte("LogFile: \"\"\nNickname: \""+name+"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	backend, status, err := Init(name+"/1.0", configFile, nil, nil)
	if err != nil || status != ExitSuccess {
		t.Fatalf("Init: status %d err %v", status, err)
	}

	t.Cleanup(backend.Stop)
	return backend
}

// addTestLink inserts a live link into the manager, as if the connect sequence succeeded.
func addTestLink(backend *Backend, deviceID string, mtu int) {
	backend.manager.linksMutex.Lock()
	backend.manager.links[deviceID] = &meshLink{
		DeviceID:   deviceID,
		MTU:        mtu,
		Fragmenter: protocol.NewFragmenter(mtu, protocol.HashData([]byte(deviceID))),
	}
	backend.manager.linksMutex.Unlock()
}

// wireMesh connects backends pairwise: a write by `from` to device `name`
// lands in `to`'s inbound pipeline attributed to `fromName`.
func wireMesh(t *testing.T, nodes map[string]*Backend) {
	t.Helper()

	for name, backend := range nodes {
		adapter := newFakeAdapter()
		backend.manager = newConnectionManager(backend, adapter)

		fromName := name
		adapter.route = func(deviceID string, data []byte) error {
			remote, ok := nodes[deviceID]
			if !ok {
				return ErrLinkUnavailable
			}
			remote.handleInboundData(fromName, data, TransportRadio)
			return nil
		}
	}
}

func drainOne(t *testing.T, backend *Backend, timeout time.Duration) (inbound InboundPacket, ok bool) {
	t.Helper()
	select {
	case inbound = <-backend.InboundPackets():
		return inbound, true
	case <-time.After(timeout):
		return inbound, false
	}
}

// TestDedupAndRelay is the three-node scenario: A - B - C in a line, C also
// wired back to A. A broadcast with TTL 3 reaches B and C exactly once; the
// echo that arrives back at A is never forwarded again.
func TestDedupAndRelay(t *testing.T) {
	nodes := map[string]*Backend{
		"A": newTestBackend(t, "A"),
		"B": newTestBackend(t, "B"),
		"C": newTestBackend(t, "C"),
	}
	wireMesh(t, nodes)

	addTestLink(nodes["A"], "B", 512)
	addTestLink(nodes["B"], "A", 512)
	addTestLink(nodes["B"], "C", 512)
	addTestLink(nodes["C"], "B", 512)
	addTestLink(nodes["C"], "A", 512)

	if err := nodes["A"].Broadcast(protocol.TypeMessage, []byte("hello mesh"), 3); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	inboundB, ok := drainOne(t, nodes["B"], 2*time.Second)
	if !ok {
		t.Fatal("B did not receive the broadcast")
	}
	if inboundB.Packet.TTL != 3 || string(inboundB.Packet.Payload) != "hello mesh" {
		t.Fatalf("B received unexpected packet: ttl %d payload %q", inboundB.Packet.TTL, inboundB.Packet.Payload)
	}

	inboundC, ok := drainOne(t, nodes["C"], 2*time.Second)
	if !ok {
		t.Fatal("C did not receive the forwarded broadcast")
	}
	if inboundC.Packet.TTL != 2 {
		t.Fatalf("C received ttl %d, want 2", inboundC.Packet.TTL)
	}
	if !bytes.Equal(inboundC.Packet.SenderID, nodes["A"].PeerIdentity.PeerIDBytes()) {
		t.Fatal("forwarded packet lost its sender")
	}

	// No node delivers the message twice.
	if _, ok := drainOne(t, nodes["B"], 200*time.Millisecond); ok {
		t.Fatal("B delivered a duplicate")
	}
	if _, ok := drainOne(t, nodes["C"], 200*time.Millisecond); ok {
		t.Fatal("C delivered a duplicate")
	}

	// A saw its own echo from C and neither delivered nor forwarded it.
	if _, ok := drainOne(t, nodes["A"], 200*time.Millisecond); ok {
		t.Fatal("A delivered its own broadcast")
	}
	if nodes["A"].CountRelayed != 0 {
		t.Fatal("A forwarded its own broadcast")
	}
}

// TestRelaySignatureSurvives checks that the forwarded frame still carries a
// valid signature after the TTL decrement.
func TestRelaySignatureSurvives(t *testing.T) {
	nodes := map[string]*Backend{
		"A": newTestBackend(t, "A"),
		"B": newTestBackend(t, "B"),
		"C": newTestBackend(t, "C"),
	}
	wireMesh(t, nodes)

	addTestLink(nodes["A"], "B", 512)
	addTestLink(nodes["B"], "C", 512)
	addTestLink(nodes["C"], "B", 512)

	// C learns A's key first via announce so the forwarded message is verified.
	announce := &protocol.Packet{
		Version:   ProtocolVersion,
		Type:      protocol.TypeAnnounce,
		TTL:       3,
		Timestamp: nowMilli(),
		SenderID:  nodes["A"].PeerIdentity.PeerIDBytes(),
		Payload:   nodes["A"].encodeAnnounce(),
	}
	if err := nodes["A"].sendPacket(announce, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if peer := nodes["C"].PeerlistLookupID(nodes["A"].PeerIdentity.PeerIDHex()); peer == nil {
		t.Fatal("announce did not propagate to C")
	}

	if err := nodes["A"].Broadcast(protocol.TypeMessage, []byte("signed"), 3); err != nil {
		t.Fatal(err)
	}

	inboundC, ok := drainOne(t, nodes["C"], 2*time.Second)
	if !ok {
		t.Fatal("C did not receive the message")
	}
	if len(inboundC.Packet.Signature) != protocol.SignatureSize {
		t.Fatal("forwarded packet lost its signature")
	}
	if nodes["C"].CountBadSignature != 0 {
		t.Fatal("signature became invalid after relay")
	}
}

// TestFragmentedBroadcast sends a payload far above the link MTU.
func TestFragmentedBroadcast(t *testing.T) {
	nodes := map[string]*Backend{
		"A": newTestBackend(t, "A"),
		"B": newTestBackend(t, "B"),
	}
	wireMesh(t, nodes)

	addTestLink(nodes["A"], "B", 182)
	addTestLink(nodes["B"], "A", 182)

	payload := bytes.Repeat([]byte{0x42}, 1500)
	if err := nodes["A"].Broadcast(protocol.TypeMessage, payload, 2); err != nil {
		t.Fatal(err)
	}

	inbound, ok := drainOne(t, nodes["B"], 2*time.Second)
	if !ok {
		t.Fatal("B did not reassemble the fragmented broadcast")
	}
	if !bytes.Equal(inbound.Packet.Payload, payload) {
		t.Fatal("reassembled payload differs")
	}
}

// TestAnnounceUpdatesPeer checks nickname gossip.
func TestAnnounceUpdatesPeer(t *testing.T) {
	nodes := map[string]*Backend{
		"A": newTestBackend(t, "A"),
		"B": newTestBackend(t, "B"),
	}
	wireMesh(t, nodes)

	addTestLink(nodes["A"], "B", 512)

	announce := &protocol.Packet{
		Version:   ProtocolVersion,
		Type:      protocol.TypeAnnounce,
		TTL:       2,
		Timestamp: nowMilli(),
		SenderID:  nodes["A"].PeerIdentity.PeerIDBytes(),
		Payload:   nodes["A"].encodeAnnounce(),
	}
	if err := nodes["A"].sendPacket(announce, false); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	peer := nodes["B"].PeerlistLookupID(nodes["A"].PeerIdentity.PeerIDHex())
	if peer == nil {
		t.Fatal("announce did not create a peer entry")
	}
	if peer.Nickname != "A" {
		t.Fatalf("nickname: got %q want %q", peer.Nickname, "A")
	}
}

// TestConsoleStream: inbound chat messages and presence changes fan out to
// subscribed console writers, and unsubscribing stops the stream.
func TestConsoleStream(t *testing.T) {
	nodes := map[string]*Backend{
		"A": newTestBackend(t, "A"),
		"B": newTestBackend(t, "B"),
	}
	wireMesh(t, nodes)

	addTestLink(nodes["A"], "B", 512)

	var buffer bytes.Buffer
	id := nodes["B"].Stdout.Subscribe(&buffer)

	announce := &protocol.Packet{
		Version:   ProtocolVersion,
		Type:      protocol.TypeAnnounce,
		TTL:       2,
		Timestamp: nowMilli(),
		SenderID:  nodes["A"].PeerIdentity.PeerIDBytes(),
		Payload:   nodes["A"].encodeAnnounce(),
	}
	if err := nodes["A"].sendPacket(announce, false); err != nil {
		t.Fatal(err)
	}
	if err := nodes["A"].Broadcast(protocol.TypeMessage, []byte("hi there"), 2); err != nil {
		t.Fatal(err)
	}

	output := buffer.String()
	if !strings.Contains(output, "* A (") {
		t.Fatalf("presence line missing from console output: %q", output)
	}
	if !strings.Contains(output, "<A> hi there") {
		t.Fatalf("chat line missing from console output: %q", output)
	}

	nodes["B"].Stdout.Unsubscribe(id)
	before := buffer.Len()
	if err := nodes["A"].Broadcast(protocol.TypeMessage, []byte("gone"), 2); err != nil {
		t.Fatal(err)
	}
	if buffer.Len() != before {
		t.Fatal("console kept writing after unsubscribe")
	}
}
