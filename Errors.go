/*
File Name:  Errors.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Error kinds surfaced by the mesh core. Per-link write failures, individual
malformed frames and relay disconnects are swallowed and counted; the errors
below are the ones callers see.
*/

package core

import (
	"errors"

	"github.com/meshchat/core/protocol"
)

var (
	// ErrAdapterOff is returned when the radio adapter is powered off.
	ErrAdapterOff = errors.New("radio adapter off")

	// ErrTimeout is returned when the adapter does not reach a definite state in time.
	ErrTimeout = errors.New("timeout")

	// ErrRateLimited is returned when the per-channel token bucket rejects a send.
	ErrRateLimited = errors.New("rate limited")

	// ErrDisposed is returned for operations on a stopped backend.
	ErrDisposed = errors.New("backend disposed")

	// ErrLinkUnavailable is returned when a unicast target has no link.
	ErrLinkUnavailable = errors.New("link unavailable")

	// ErrLinkWriteFailed names a send whose every write failed. The send paths
	// of the Backend do not return it; they count write failures in
	// CountWriteFailures.
	ErrLinkWriteFailed = errors.New("link write failed")
)

// Wire-level errors are defined next to the codec and re-exported here for callers.
var (
	ErrMalformedFrame       = protocol.ErrMalformedFrame
	ErrUnknownVersion       = protocol.ErrUnknownVersion
	ErrTruncatedPayload     = protocol.ErrTruncatedPayload
	ErrBadPadding           = protocol.ErrBadPadding
	ErrIncompatibleVersions = protocol.ErrIncompatibleVersions
)

// ErrSignatureInvalid names a packet whose signature does not verify. The
// inbound path does not return it; such packets are dropped and counted in
// CountBadSignature.
var ErrSignatureInvalid = errors.New("signature invalid")
