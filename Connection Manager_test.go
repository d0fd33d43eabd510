package core

import (
	"strconv"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *connectionManager {
	backend := newTestBackend(t, "mgr")
	backend.manager = newConnectionManager(backend, newFakeAdapter())
	return backend.manager
}

// TestAdmissionPolicy is the budget / RSSI floor / backoff scenario.
func TestAdmissionPolicy(t *testing.T) {
	manager := newTestManager(t)

	// Weak signal with budget free: rejected.
	if manager.shouldConnect("X", -85) {
		t.Error("accepted device below RSSI floor")
	}

	// Budget exhausted: rejected even with strong signal.
	for n := 0; n < 7; n++ {
		addTestLink(manager.backend, "dev"+strconv.Itoa(n), 182)
	}
	if manager.shouldConnect("X", -70) {
		t.Error("accepted device above connection budget")
	}

	// One slot free, no failures: accepted.
	manager.removeLink("dev0")
	if !manager.shouldConnect("X", -60) {
		t.Error("rejected admissible device")
	}

	// Already connected devices are not reconnected.
	if manager.shouldConnect("dev1", -40) {
		t.Error("accepted already connected device")
	}

	// After a failure, attempts within the backoff window are rejected.
	manager.recordFailure("X")
	if manager.shouldConnect("X", -60) {
		t.Error("accepted device inside backoff window")
	}
}

// TestBackoffMonotonicity: next allowed attempt grows with the failure count
// and resets on success.
func TestBackoffMonotonicity(t *testing.T) {
	manager := newTestManager(t)

	var previous time.Time
	for n := 1; n <= 4; n++ {
		manager.recordFailure("X")

		manager.failuresMutex.Lock()
		record := manager.failures["X"]
		next := manager.nextAllowedAttempt(record)
		manager.failuresMutex.Unlock()

		if record.count != n {
			t.Fatalf("failure count: got %d want %d", record.count, n)
		}
		want := record.last.Add(connectBackoff * time.Duration(n))
		if !next.Equal(want) {
			t.Fatalf("next attempt: got %v want %v", next, want)
		}
		if next.Before(previous) {
			t.Fatal("backoff not monotonic")
		}
		previous = next
	}

	manager.clearFailure("X")
	manager.failuresMutex.Lock()
	_, present := manager.failures["X"]
	manager.failuresMutex.Unlock()
	if present {
		t.Fatal("failure record survived a success")
	}
}

// TestLinkBudgetInvariant: the link map never exceeds the budget through the
// admission policy.
func TestLinkBudgetInvariant(t *testing.T) {
	manager := newTestManager(t)

	admitted := 0
	for n := 0; n < 20; n++ {
		deviceID := "dev" + strconv.Itoa(n)
		if manager.shouldConnect(deviceID, -50) {
			addTestLink(manager.backend, deviceID, 182)
			admitted++
		}
	}

	if admitted != maxConnections || manager.LinkCount() != maxConnections {
		t.Fatalf("admitted %d links, budget is %d", manager.LinkCount(), maxConnections)
	}
}

// TestStalePeerPruning: peers unseen for longer than the threshold are pruned
// unless connected.
func TestStalePeerPruning(t *testing.T) {
	backend := newTestBackend(t, "prune")

	backend.PeerlistAdd("old", -60)
	backend.PeerlistAdd("fresh", -60)
	backend.PeerlistAdd("connected", -60)

	peerlistMutex.Lock()
	backend.peerList["old"].LastSeen = time.Now().Add(-stalePeerTimeout - time.Minute)
	backend.peerList["connected"].LastSeen = time.Now().Add(-stalePeerTimeout - time.Minute)
	backend.peerList["connected"].IsConnected = true
	peerlistMutex.Unlock()

	if removed := backend.prunePeers(); removed != 1 {
		t.Fatalf("pruned %d peers, want 1", removed)
	}
	if backend.PeerlistLookupDevice("old") != nil {
		t.Fatal("stale peer survived")
	}
	if backend.PeerlistLookupDevice("fresh") == nil || backend.PeerlistLookupDevice("connected") == nil {
		t.Fatal("live peer pruned")
	}
}
