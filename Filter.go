/*
File Name:  Filter.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Filters allow the caller to intercept events. The filter functions must not modify any data.
*/

package core

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/meshchat/core/protocol"
)

// Filters contains all functions to install the hook. Use nil for unused.
// The functions are called sequentially and block execution; if the filter takes a long time it should start a Go routine.
type Filters struct {
	// NewPeer is called every time a new peer appears in the peer list.
	// Peers may go stale and reappear, i.e. this function may be called multiple times for the same peer.
	NewPeer func(peer *PeerInfo)

	// PeerUpdated is called when a peer's nickname, signal strength or link state changes.
	PeerUpdated func(peer *PeerInfo)

	// LogError is called for any error.
	LogError func(function, format string, v ...interface{})

	// PacketIn is a low-level filter for incoming packets after decode and dedup.
	PacketIn func(packet *protocol.Packet, linkID string)

	// PacketOut is a low-level filter for outgoing packets before fragmentation.
	PacketOut func(packet *protocol.Packet)

	// PacketRelayed is called for every packet the relay engine forwards.
	PacketRelayed func(packet *protocol.Packet, fromLink string, toLinks int)

	// MessageIn is a high-level filter for decoded chat messages.
	MessageIn func(peer *PeerInfo, packet *protocol.Packet)
}

func (backend *Backend) initFilters() {
	// Set default filters to blank functions so they can be safely called without constant nil checks.
	// Only if not already set before init.

	if backend.Filters.NewPeer == nil {
		backend.Filters.NewPeer = func(peer *PeerInfo) {}
	}
	if backend.Filters.PeerUpdated == nil {
		backend.Filters.PeerUpdated = func(peer *PeerInfo) {}
	}
	if backend.Filters.LogError == nil {
		backend.Filters.LogError = func(function, format string, v ...interface{}) {
			log.Printf("["+function+"] "+format+"\n", v...)
		}
	}
	if backend.Filters.PacketIn == nil {
		backend.Filters.PacketIn = func(packet *protocol.Packet, linkID string) {}
	}
	if backend.Filters.PacketOut == nil {
		backend.Filters.PacketOut = func(packet *protocol.Packet) {}
	}
	if backend.Filters.PacketRelayed == nil {
		backend.Filters.PacketRelayed = func(packet *protocol.Packet, fromLink string, toLinks int) {}
	}
	if backend.Filters.MessageIn == nil {
		backend.Filters.MessageIn = func(peer *PeerInfo, packet *protocol.Packet) {}
	}
}

// LogError logs an error via the installed filter.
func (backend *Backend) LogError(function, format string, v ...interface{}) {
	backend.Filters.LogError(function, format, v...)
}

// console fans user-facing chat output out to any number of attached writers:
// a terminal, a log file, a websocket stream. Inbound chat messages and
// presence changes are printed here; protocol errors go through LogError.
type console struct {
	writers map[uuid.UUID]io.Writer
	sync.RWMutex
}

func newConsole() *console {
	return &console{writers: make(map[uuid.UUID]io.Writer)}
}

// Subscribe attaches a writer. The returned id is the handle for Unsubscribe.
func (c *console) Subscribe(writer io.Writer) (id uuid.UUID) {
	id = uuid.New()

	c.Lock()
	c.writers[id] = writer
	c.Unlock()

	return id
}

// Unsubscribe detaches a writer. Unknown ids are ignored.
func (c *console) Unsubscribe(id uuid.UUID) {
	c.Lock()
	delete(c.writers, id)
	c.Unlock()
}

// Printf formats one line and writes it to every attached writer. A failing
// writer does not stop the fan-out; a stream that went away is simply skipped
// until its owner unsubscribes it.
func (c *console) Printf(format string, v ...interface{}) {
	line := []byte(fmt.Sprintf(format, v...))

	c.RLock()
	defer c.RUnlock()

	for _, writer := range c.writers {
		writer.Write(line)
	}
}

// printMessage writes an inbound chat message to the console. The arrival
// link's peer is not necessarily the sender (the message may be relayed), so
// the name resolves through the announced sender identity.
func (backend *Backend) printMessage(packet *protocol.Packet) {
	name := packet.SenderHex()
	if sender := backend.PeerlistLookupID(packet.SenderHex()); sender != nil && sender.Nickname != "" {
		name = sender.Nickname
	}

	backend.Stdout.Printf("<%s> %s\n", name, packet.Payload)
}
