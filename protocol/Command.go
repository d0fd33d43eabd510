/*
File Name:  Command.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package protocol

// Packet types between peers. The type byte is part of the dedup key, so reusing
// a value for a different purpose breaks duplicate detection across versions.
const (
	// Peer presence
	TypeAnnounce = 0x01 // Nickname announcement, sent periodically and on connect.
	TypeLeave    = 0x03 // Graceful disconnect notice.

	// Chat
	TypeMessage     = 0x04 // Public or private chat message.
	TypeDeliveryAck = 0x0A // Delivery acknowledgement for a private message.
	TypeReadReceipt = 0x0C // Read receipt for a private message.

	// Sync
	TypeSyncFilter  = 0x21 // GCS filter of recently seen message keys.
	TypeSyncRequest = 0x22 // Request for messages missing from the presented filter.

	// Transfer
	TypeFileChunk = 0x30 // Base64-framed blob chunk, opportunistic.
)

// Protocol versions of the packet wire format.
const (
	Version1 = 1 // 2-byte payload length, no routing.
	Version2 = 2 // 4-byte payload length, optional route and original size.
)
