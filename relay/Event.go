/*
File Name:  Event.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Relay events. An event is a signed JSON object; its ID is the SHA-256 of the
canonical array [0, pubkey, created_at, kind, tags, content] and the signature
is BIP-340 Schnorr over the ID.
*/

package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/meshchat/core/dmcrypto"
)

// Event kinds used by the mesh bridge.
const (
	KindEphemeralChat = 20000 // Public chat scoped by geohash tag.
	KindDirectMessage = 4     // NIP-04 encrypted direct message.
)

// Event is a single relay event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ErrEventInvalid is returned for events whose ID or signature does not verify.
var ErrEventInvalid = errors.New("invalid event")

// ComputeID serializes the canonical form and returns the hex SHA-256.
func (event *Event) ComputeID() (id string, err error) {
	tags := event.Tags
	if tags == nil {
		tags = [][]string{}
	}

	canonical, err := json.Marshal([]interface{}{0, event.PubKey, event.CreatedAt, event.Kind, tags, event.Content})
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

// Sign computes the ID and signs it with the private key. The pubkey field is
// set from the private key.
func (event *Event) Sign(privateKey []byte) (err error) {
	publicX, err := dmcrypto.PublicKeyX(privateKey)
	if err != nil {
		return err
	}
	event.PubKey = hex.EncodeToString(publicX)

	if event.ID, err = event.ComputeID(); err != nil {
		return err
	}

	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return err
	}

	signature, err := dmcrypto.SchnorrSign(privateKey, idBytes)
	if err != nil {
		return err
	}
	event.Sig = hex.EncodeToString(signature)
	return nil
}

// Verify checks the event ID and its Schnorr signature.
func (event *Event) Verify() bool {
	id, err := event.ComputeID()
	if err != nil || id != event.ID {
		return false
	}

	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return false
	}
	publicX, err := hex.DecodeString(event.PubKey)
	if err != nil {
		return false
	}
	signature, err := hex.DecodeString(event.Sig)
	if err != nil {
		return false
	}

	return dmcrypto.SchnorrVerify(publicX, idBytes, signature)
}

// TagValue returns the first value of the named tag, or "".
func (event *Event) TagValue(name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Filter selects events in a subscription request.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`

	// Geohash tag filter ("#g").
	Geohashes []string `json:"#g,omitempty"`
}
