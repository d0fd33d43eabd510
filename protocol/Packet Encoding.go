/*
File Name:  Packet Encoding.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Basic structure of ALL mesh packets:
Offset  Size   Info
0       1      Version = 1 or 2
1       1      Type
2       1      TTL, decremented on relay
3       8      Timestamp in milliseconds, big endian
11      1      Flags (bit 0 recipient, 1 signature, 2 compressed, 3 route (v2), 4 RSR)
12      2|4    Size of payload data (2 bytes in v1, 4 bytes in v2)
?       8      Sender ID
?       8      Optional recipient ID
?       1+n*8  Optional route: hop count followed by hop IDs (v2 only)
?       4      Optional original size before compression (v2 only)
?       ?      Payload
?       64     Optional Ed25519 signature

After encoding the whole frame may be padded to the next block in {256, 512,
1024, 2048}. The padding is PKCS#7: every padding byte holds the pad length.
Frames at or above the largest block get a single 0x01 byte appended so that
unpadding stays invertible.

The TTL and the RSR flag are rewritten by relaying peers. The signature
therefore covers the frame re-encoded with TTL = 0, no signature, RSR cleared
and no padding.
*/

package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
)

// Packet is a single decoded application-level datagram.
type Packet struct {
	Version      uint8    // Wire format version, 1 or 2.
	Type         uint8    // Packet type, see Command.go.
	TTL          uint8    // Remaining hop budget.
	Timestamp    uint64   // Sender clock in milliseconds since epoch.
	SenderID     []byte   // 8 bytes, normalized on encode.
	RecipientID  []byte   // 8 bytes or nil for broadcast.
	Route        [][]byte // v2 only: hop IDs, most recent last.
	IsCompressed bool     // Payload is compressed; OriginalSize holds the plain size (v2).
	IsRSR        bool     // Relay-sender-receipt marker. Mutable in flight.
	OriginalSize uint32   // v2 only, valid when IsCompressed.
	Payload      []byte
	Signature    []byte // 64 bytes or nil.
}

// Flag bits of the header flags byte.
const (
	flagHasRecipient = 1 << 0
	flagHasSignature = 1 << 1
	flagIsCompressed = 1 << 2
	flagHasRoute     = 1 << 3 // v2 only
	flagIsRSR        = 1 << 4
)

// SenderIDSize is the exact wire size of the sender and recipient IDs.
const SenderIDSize = 8

// SignatureSize is the size of the appended Ed25519 signature.
const SignatureSize = 64

const headerSizeFixed = 12 // version + type + ttl + timestamp + flags

// Padding block sizes. Frames are grown to the smallest block that fits.
var padBlockSizes = []int{256, 512, 1024, 2048}

// Errors of the wire codec.
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownVersion   = errors.New("unknown packet version")
	ErrTruncatedPayload = errors.New("truncated payload")
	ErrBadPadding       = errors.New("bad padding")
	ErrRouteTooLong     = errors.New("route exceeds 255 hops")
)

// normalizeID returns the ID as exactly 8 bytes, zero padded or truncated.
func normalizeID(id []byte) []byte {
	out := make([]byte, SenderIDSize)
	copy(out, id)
	return out
}

// Encode serializes the packet without padding.
func (packet *Packet) Encode() (raw []byte, err error) {
	if packet.Version != Version1 && packet.Version != Version2 {
		return nil, ErrUnknownVersion
	}
	if len(packet.Route) > 255 {
		return nil, ErrRouteTooLong
	}

	payloadLenSize := 2
	if packet.Version == Version2 {
		payloadLenSize = 4
	}

	size := headerSizeFixed + payloadLenSize + SenderIDSize + len(packet.Payload)
	if len(packet.RecipientID) > 0 {
		size += SenderIDSize
	}
	if packet.Version == Version2 && len(packet.Route) > 0 {
		size += 1 + len(packet.Route)*SenderIDSize
	}
	if packet.Version == Version2 && packet.IsCompressed {
		size += 4
	}
	if len(packet.Signature) > 0 {
		size += SignatureSize
	}

	raw = make([]byte, size)
	raw[0] = packet.Version
	raw[1] = packet.Type
	raw[2] = packet.TTL
	binary.BigEndian.PutUint64(raw[3:11], packet.Timestamp)

	var flags uint8
	if len(packet.RecipientID) > 0 {
		flags |= flagHasRecipient
	}
	if len(packet.Signature) > 0 {
		flags |= flagHasSignature
	}
	if packet.IsCompressed {
		flags |= flagIsCompressed
	}
	if packet.Version == Version2 && len(packet.Route) > 0 {
		flags |= flagHasRoute
	}
	if packet.IsRSR {
		flags |= flagIsRSR
	}
	raw[11] = flags

	offset := headerSizeFixed
	if packet.Version == Version1 {
		binary.BigEndian.PutUint16(raw[offset:offset+2], uint16(len(packet.Payload)))
	} else {
		binary.BigEndian.PutUint32(raw[offset:offset+4], uint32(len(packet.Payload)))
	}
	offset += payloadLenSize

	copy(raw[offset:offset+SenderIDSize], normalizeID(packet.SenderID))
	offset += SenderIDSize

	if len(packet.RecipientID) > 0 {
		copy(raw[offset:offset+SenderIDSize], normalizeID(packet.RecipientID))
		offset += SenderIDSize
	}

	if packet.Version == Version2 && len(packet.Route) > 0 {
		raw[offset] = uint8(len(packet.Route))
		offset++
		for _, hop := range packet.Route {
			copy(raw[offset:offset+SenderIDSize], normalizeID(hop))
			offset += SenderIDSize
		}
	}

	if packet.Version == Version2 && packet.IsCompressed {
		binary.BigEndian.PutUint32(raw[offset:offset+4], packet.OriginalSize)
		offset += 4
	}

	copy(raw[offset:offset+len(packet.Payload)], packet.Payload)
	offset += len(packet.Payload)

	if len(packet.Signature) > 0 {
		copy(raw[offset:offset+SignatureSize], packet.Signature)
	}

	return raw, nil
}

// EncodePadded serializes the packet and pads the frame to the next block size.
func (packet *Packet) EncodePadded() (raw []byte, err error) {
	if raw, err = packet.Encode(); err != nil {
		return nil, err
	}
	return padToBlock(raw), nil
}

// padToBlock grows the frame to the smallest block size that fits.
// Frames at or above the largest block get a single 0x01 byte appended.
// A pad that would not fit into the one-byte PKCS#7 length leaves the frame untouched.
func padToBlock(raw []byte) []byte {
	for _, block := range padBlockSizes {
		if len(raw) < block {
			padSize := block - len(raw)
			if padSize > 255 {
				return raw
			}
			padded := make([]byte, block)
			copy(padded, raw)
			for n := len(raw); n < block; n++ {
				padded[n] = byte(padSize)
			}
			return padded
		}
	}

	return append(raw, 1)
}

// unpad verifies and strips PKCS#7 padding. All padding bytes must equal the pad length.
func unpad(raw []byte) (stripped []byte, err error) {
	if len(raw) == 0 {
		return nil, ErrBadPadding
	}
	padSize := int(raw[len(raw)-1])
	if padSize == 0 || padSize > len(raw) {
		return nil, ErrBadPadding
	}
	for _, b := range raw[len(raw)-padSize:] {
		if int(b) != padSize {
			return nil, ErrBadPadding
		}
	}
	return raw[:len(raw)-padSize], nil
}

// Decode parses a frame. It first tries the frame as-is; if that fails it
// strips the padding and retries once.
func Decode(raw []byte) (packet *Packet, err error) {
	if packet, err = decodeFrame(raw); err == nil {
		return packet, nil
	}

	stripped, errPad := unpad(raw)
	if errPad != nil {
		return nil, err
	}
	return decodeFrame(stripped)
}

// decodeFrame parses an exact frame. Trailing slack is rejected which makes
// the padded retry in Decode unambiguous.
func decodeFrame(raw []byte) (packet *Packet, err error) {
	if len(raw) < headerSizeFixed+2+SenderIDSize {
		return nil, ErrMalformedFrame
	}

	packet = &Packet{
		Version:   raw[0],
		Type:      raw[1],
		TTL:       raw[2],
		Timestamp: binary.BigEndian.Uint64(raw[3:11]),
	}
	if packet.Version != Version1 && packet.Version != Version2 {
		return nil, ErrUnknownVersion
	}

	flags := raw[11]
	packet.IsCompressed = flags&flagIsCompressed > 0
	packet.IsRSR = flags&flagIsRSR > 0

	offset := headerSizeFixed
	var payloadLen int
	if packet.Version == Version1 {
		payloadLen = int(binary.BigEndian.Uint16(raw[offset : offset+2]))
		offset += 2
	} else {
		if len(raw) < offset+4 {
			return nil, ErrMalformedFrame
		}
		payloadLen = int(binary.BigEndian.Uint32(raw[offset : offset+4]))
		offset += 4
	}

	if len(raw) < offset+SenderIDSize {
		return nil, ErrMalformedFrame
	}
	packet.SenderID = raw[offset : offset+SenderIDSize]
	offset += SenderIDSize

	if flags&flagHasRecipient > 0 {
		if len(raw) < offset+SenderIDSize {
			return nil, ErrMalformedFrame
		}
		packet.RecipientID = raw[offset : offset+SenderIDSize]
		offset += SenderIDSize
	}

	if packet.Version == Version2 && flags&flagHasRoute > 0 {
		if len(raw) < offset+1 {
			return nil, ErrMalformedFrame
		}
		hopCount := int(raw[offset])
		offset++
		if len(raw) < offset+hopCount*SenderIDSize {
			return nil, ErrMalformedFrame
		}
		for n := 0; n < hopCount; n++ {
			packet.Route = append(packet.Route, raw[offset:offset+SenderIDSize])
			offset += SenderIDSize
		}
	}

	if packet.Version == Version2 && packet.IsCompressed {
		if len(raw) < offset+4 {
			return nil, ErrMalformedFrame
		}
		packet.OriginalSize = binary.BigEndian.Uint32(raw[offset : offset+4])
		offset += 4
	}

	if len(raw) < offset+payloadLen {
		return nil, ErrTruncatedPayload
	}
	packet.Payload = raw[offset : offset+payloadLen]
	offset += payloadLen

	if flags&flagHasSignature > 0 {
		if len(raw) < offset+SignatureSize {
			return nil, ErrMalformedFrame
		}
		packet.Signature = raw[offset : offset+SignatureSize]
		offset += SignatureSize
	}

	// The frame must be consumed exactly, otherwise it is a padded frame.
	if offset != len(raw) {
		return nil, ErrMalformedFrame
	}

	return packet, nil
}

// SigningPreimage re-encodes the packet with TTL 0, no signature, RSR cleared
// and no padding. Relays rewrite TTL and RSR in flight, so both are excluded
// from the authenticated input.
func (packet *Packet) SigningPreimage() (raw []byte, err error) {
	canonical := *packet
	canonical.TTL = 0
	canonical.Signature = nil
	canonical.IsRSR = false

	return canonical.Encode()
}

// SenderHex returns the sender peer ID as 16 hex characters.
func (packet *Packet) SenderHex() string {
	return hex.EncodeToString(normalizeID(packet.SenderID))
}

// DedupKey is the duplicate-detection key: sender ID hex : timestamp : type.
func (packet *Packet) DedupKey() string {
	return hex.EncodeToString(normalizeID(packet.SenderID)) + ":" + strconv.FormatUint(packet.Timestamp, 10) + ":" + strconv.FormatUint(uint64(packet.Type), 10)
}
