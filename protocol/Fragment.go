/*
File Name:  Fragment.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Splits encoded frames above the link MTU and merges them back. A fragment is a
9-byte header followed by a chunk:
Offset  Size   Info
0       1      Marker 0xBB
1       2      Fragment index, big endian
3       2      Fragment total, big endian
5       4      Message ID, big endian

The message ID is a per-sender 32-bit counter salted at startup. A wall-clock
derived ID collides as soon as two messages of equal length leave in the same
millisecond; the counter does not.
*/

package protocol

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// FragmentMarker is the first byte of every fragment frame.
const FragmentMarker = 0xBB

// FragmentHeaderSize is the fixed fragment header size.
const FragmentHeaderSize = 9

// reassemblyTimeout is how long an incomplete slot lives before eviction.
const reassemblyTimeout = 30 * time.Second

// Fragmenter splits frames for a given link MTU.
type Fragmenter struct {
	LinkMTU   int
	messageID uint32 // next message ID, salted at startup
}

// NewFragmenter creates a fragmenter for the link MTU. The MTU must leave room
// for at least 1 chunk byte after the fragment header.
func NewFragmenter(linkMTU int, salt []byte) (f *Fragmenter) {
	f = &Fragmenter{LinkMTU: linkMTU}
	if len(salt) >= 4 {
		f.messageID = binary.BigEndian.Uint32(salt[0:4])
	}
	return f
}

// Split returns the frame unchanged if it fits, otherwise the fragment frames in index order.
func (f *Fragmenter) Split(frame []byte) (frames [][]byte) {
	chunkSize := f.LinkMTU - FragmentHeaderSize
	if chunkSize < 1 || len(frame) <= chunkSize {
		return [][]byte{frame}
	}
	total := (len(frame) + chunkSize - 1) / chunkSize
	messageID := atomic.AddUint32(&f.messageID, 1)

	for index := 0; index < total; index++ {
		chunk := frame[index*chunkSize:]
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}

		fragment := make([]byte, FragmentHeaderSize+len(chunk))
		fragment[0] = FragmentMarker
		binary.BigEndian.PutUint16(fragment[1:3], uint16(index))
		binary.BigEndian.PutUint16(fragment[3:5], uint16(total))
		binary.BigEndian.PutUint32(fragment[5:9], messageID)
		copy(fragment[FragmentHeaderSize:], chunk)

		frames = append(frames, fragment)
	}

	return frames
}

// reassemblySlot collects the chunks of one fragmented message.
type reassemblySlot struct {
	chunks   [][]byte
	received int
	created  time.Time
}

type slotKey struct {
	sender    string
	messageID uint32
}

// Reassembler merges fragments back into frames, keyed by (sender, message ID).
type Reassembler struct {
	slots map[slotKey]*reassemblySlot
	sync.Mutex
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{slots: make(map[slotKey]*reassemblySlot)}
}

// IsFragment reports whether the datagram is a fragment frame.
func IsFragment(data []byte) bool {
	return len(data) > FragmentHeaderSize && data[0] == FragmentMarker
}

// Accept feeds one datagram from a sender. If the datagram is not a fragment it
// is returned unchanged. If it completes a message, the merged frame is
// returned and the slot is dropped. Otherwise nil is returned.
func (r *Reassembler) Accept(sender string, data []byte) (frame []byte) {
	if !IsFragment(data) {
		return data
	}

	index := int(binary.BigEndian.Uint16(data[1:3]))
	total := int(binary.BigEndian.Uint16(data[3:5]))
	messageID := binary.BigEndian.Uint32(data[5:9])

	if total == 0 || index >= total {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	key := slotKey{sender: sender, messageID: messageID}
	slot, ok := r.slots[key]
	if !ok || len(slot.chunks) != total {
		slot = &reassemblySlot{chunks: make([][]byte, total), created: time.Now()}
		r.slots[key] = slot
	}

	// Duplicate indexes overwrite.
	if slot.chunks[index] == nil {
		slot.received++
	}
	chunk := make([]byte, len(data)-FragmentHeaderSize)
	copy(chunk, data[FragmentHeaderSize:])
	slot.chunks[index] = chunk

	if slot.received < total {
		return nil
	}

	delete(r.slots, key)

	for _, c := range slot.chunks {
		frame = append(frame, c...)
	}
	return frame
}

// Expire drops all slots older than the reassembly timeout. Called by the maintenance loop.
func (r *Reassembler) Expire() (dropped int) {
	threshold := time.Now().Add(-reassemblyTimeout)

	r.Lock()
	defer r.Unlock()

	for key, slot := range r.slots {
		if slot.created.Before(threshold) {
			delete(r.slots, key)
			dropped++
		}
	}
	return dropped
}

// Count returns the number of in-flight reassembly slots.
func (r *Reassembler) Count() int {
	r.Lock()
	defer r.Unlock()

	return len(r.slots)
}
