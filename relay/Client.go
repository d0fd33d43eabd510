/*
File Name:  Client.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Relay client. Maintains a pool of websocket connections to untrusted relays.
Wire frames are JSON arrays:
Outbound: ["EVENT", event], ["REQ", subID, filter], ["CLOSE", subID]
Inbound:  ["EVENT", subID, event], ["EOSE", subID], ["OK", id, ok, msg], ["NOTICE", msg]

Each relay reconnects with exponential backoff capped at 30 seconds. The
subscription table is central; every (re)connect re-registers all active
subscriptions that target the relay. Inbound events are deduplicated by event
ID in a capped set.
*/

package relay

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// Connection states per relay.
const (
	StateDisconnected = iota
	StateConnecting
	StateConnected
	StateError
)

// seenEventsMax caps the event dedup set.
const seenEventsMax = 10000

// reconnectCap is the maximum backoff between connect attempts.
const reconnectCap = 30 * time.Second

// ErrRelayProtocol is returned for frames that are not valid JSON arrays.
var ErrRelayProtocol = errors.New("relay protocol error")

// RelayConfig describes one relay of the pool.
type RelayConfig struct {
	URL     string // websocket URL
	Geohash string // optional geographic scope of this relay, empty = global
}

// Subscription is a registered filter with its delivery handler.
type Subscription struct {
	ID      string
	Filter  Filter
	Targets []string // relay URLs, empty = all
	Handler func(event *Event)
}

// Client is the relay connection pool.
type Client struct {
	relays map[string]*relayConnection

	subscriptions      map[string]*Subscription
	subscriptionsMutex sync.RWMutex

	seenEvents      map[string]time.Time
	seenEventsMutex sync.Mutex

	// Events receives every verified, non-duplicate inbound event.
	Events chan *Event

	// CountDropped counts events dropped as duplicates or unverifiable, and
	// verified events that did not fit into a full Events channel.
	CountDropped uint64

	dialer    *websocket.Dialer
	closed    chan struct{}
	closeOnce sync.Once
}

type relayConnection struct {
	config RelayConfig
	client *Client

	conn       *websocket.Conn
	state      int32
	retryCount uint32
	writeMutex sync.Mutex
}

// NewClient creates a client for the given relays. socksProxy is an optional
// "host:port" SOCKS5 proxy to dial through (Tor and similar setups).
func NewClient(relays []RelayConfig, socksProxy string) (client *Client) {
	client = &Client{
		relays:        make(map[string]*relayConnection),
		subscriptions: make(map[string]*Subscription),
		seenEvents:    make(map[string]time.Time),
		Events:        make(chan *Event, 512),
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		closed:        make(chan struct{}),
	}

	if socksProxy != "" {
		if socksDialer, err := proxy.SOCKS5("tcp", socksProxy, nil, proxy.Direct); err == nil {
			client.dialer.NetDial = func(network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			}
		}
	}

	for _, config := range relays {
		client.relays[config.URL] = &relayConnection{config: config, client: client}
	}

	return client
}

// Connect starts the connection loop for every relay in the pool.
func (client *Client) Connect() {
	for _, r := range client.relays {
		go r.run()
	}
}

// Close shuts down all relay connections. Idempotent.
func (client *Client) Close() {
	client.closeOnce.Do(func() {
		close(client.closed)
		for _, r := range client.relays {
			r.writeMutex.Lock()
			if r.conn != nil {
				r.conn.Close()
			}
			r.writeMutex.Unlock()
		}
	})
}

// Status returns the connection state per relay URL.
func (client *Client) Status() (status map[string]int) {
	status = make(map[string]int)
	for url, r := range client.relays {
		status[url] = int(atomic.LoadInt32(&r.state))
	}
	return status
}

// run is the per-relay connect/read loop with exponential backoff.
func (r *relayConnection) run() {
	for {
		select {
		case <-r.client.closed:
			return
		default:
		}

		atomic.StoreInt32(&r.state, StateConnecting)

		conn, _, err := r.client.dialer.Dial(r.config.URL, nil)
		if err != nil {
			atomic.StoreInt32(&r.state, StateError)
			r.backoff()
			continue
		}

		r.writeMutex.Lock()
		r.conn = conn
		r.writeMutex.Unlock()
		atomic.StoreInt32(&r.state, StateConnected)
		atomic.StoreUint32(&r.retryCount, 0)

		r.client.resubscribe(r)

		r.readLoop(conn)

		atomic.StoreInt32(&r.state, StateDisconnected)
		conn.Close()
		r.backoff()
	}
}

// backoff sleeps min(30, 2^retryCount) seconds.
func (r *relayConnection) backoff() {
	retry := atomic.AddUint32(&r.retryCount, 1) - 1

	delay := reconnectCap
	if retry < 5 {
		delay = time.Duration(1<<retry) * time.Second
	}

	select {
	case <-time.After(delay):
	case <-r.client.closed:
	}
}

// readLoop processes inbound frames until the connection dies.
func (r *relayConnection) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue // not a valid frame, observed only
		}

		var label string
		if json.Unmarshal(frame[0], &label) != nil {
			continue
		}

		switch label {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var subID string
			json.Unmarshal(frame[1], &subID)

			event := &Event{}
			if json.Unmarshal(frame[2], event) != nil {
				continue
			}
			r.client.dispatchEvent(subID, event)

		case "EOSE", "OK", "NOTICE":
			// observed only
		}
	}
}

// dispatchEvent verifies, deduplicates and delivers an inbound event.
func (client *Client) dispatchEvent(subID string, event *Event) {
	if !event.Verify() {
		atomic.AddUint64(&client.CountDropped, 1)
		return
	}

	client.seenEventsMutex.Lock()
	if _, duplicate := client.seenEvents[event.ID]; duplicate {
		client.seenEventsMutex.Unlock()
		atomic.AddUint64(&client.CountDropped, 1)
		return
	}
	if len(client.seenEvents) >= seenEventsMax {
		client.evictSeenEvents()
	}
	client.seenEvents[event.ID] = time.Now()
	client.seenEventsMutex.Unlock()

	client.subscriptionsMutex.RLock()
	subscription := client.subscriptions[subID]
	client.subscriptionsMutex.RUnlock()

	if subscription != nil && subscription.Handler != nil {
		subscription.Handler(event)
	}

	select {
	case client.Events <- event:
	default:
		atomic.AddUint64(&client.CountDropped, 1)
	}
}

// evictSeenEvents drops the oldest 20% of the seen set. Caller holds the mutex.
func (client *Client) evictSeenEvents() {
	evict := len(client.seenEvents) / 5
	for n := 0; n < evict; n++ {
		var oldestID string
		var oldestTime time.Time
		for id, seen := range client.seenEvents {
			if oldestID == "" || seen.Before(oldestTime) {
				oldestID, oldestTime = id, seen
			}
		}
		delete(client.seenEvents, oldestID)
	}
}

// Subscribe registers a filter. Targets are relay URLs; empty targets all.
// The subscription is sent to every matching connected relay now and again on
// every reconnect.
func (client *Client) Subscribe(filter Filter, targets []string, handler func(event *Event)) (subID string) {
	subID = uuid.New().String()

	subscription := &Subscription{ID: subID, Filter: filter, Targets: targets, Handler: handler}

	client.subscriptionsMutex.Lock()
	client.subscriptions[subID] = subscription
	client.subscriptionsMutex.Unlock()

	for _, r := range client.relays {
		if subscription.targetsRelay(r.config.URL) && atomic.LoadInt32(&r.state) == StateConnected {
			r.writeJSON([]interface{}{"REQ", subID, filter})
		}
	}

	return subID
}

// Unsubscribe closes the subscription on all relays and forgets it.
func (client *Client) Unsubscribe(subID string) {
	client.subscriptionsMutex.Lock()
	subscription, ok := client.subscriptions[subID]
	delete(client.subscriptions, subID)
	client.subscriptionsMutex.Unlock()

	if !ok {
		return
	}

	for _, r := range client.relays {
		if subscription.targetsRelay(r.config.URL) && atomic.LoadInt32(&r.state) == StateConnected {
			r.writeJSON([]interface{}{"CLOSE", subID})
		}
	}
}

// resubscribe re-registers all active subscriptions that target this relay.
func (client *Client) resubscribe(r *relayConnection) {
	client.subscriptionsMutex.RLock()
	defer client.subscriptionsMutex.RUnlock()

	for _, subscription := range client.subscriptions {
		if subscription.targetsRelay(r.config.URL) {
			r.writeJSON([]interface{}{"REQ", subscription.ID, subscription.Filter})
		}
	}
}

func (subscription *Subscription) targetsRelay(url string) bool {
	if len(subscription.Targets) == 0 {
		return true
	}
	for _, target := range subscription.Targets {
		if target == url {
			return true
		}
	}
	return false
}

// Publish fans the event out to connected relays in the target set (default
// all). When scope is a geohash, only relays whose configured geohash
// intersects the scope receive the event.
func (client *Client) Publish(event *Event, targets []string, scope string) (sent int) {
	for _, r := range client.relays {
		if len(targets) > 0 && !containsString(targets, r.config.URL) {
			continue
		}
		if scope != "" && !geohashIntersects(r.config.Geohash, scope) {
			continue
		}
		if atomic.LoadInt32(&r.state) != StateConnected {
			continue
		}

		if r.writeJSON([]interface{}{"EVENT", event}) == nil {
			sent++
		}
	}
	return sent
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// writeJSON sends one frame. Write failures surface through the read loop.
func (r *relayConnection) writeJSON(frame interface{}) (err error) {
	r.writeMutex.Lock()
	defer r.writeMutex.Unlock()

	if r.conn == nil {
		return ErrRelayProtocol
	}
	return r.conn.WriteJSON(frame)
}
