/*
File Name:  Settings.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Tunables of the mesh core. Values are defaults; the config file may override
the connection budget and radio identifiers.
*/

package core

import "time"

// Version is the current core library version
const Version = "0.1"

// ProtocolVersion is the highest packet wire version this build speaks.
const ProtocolVersion = 2

// ProtocolVersionMin is the lowest packet wire version this build accepts.
const ProtocolVersionMin = 1

// maxConnections is the default budget of simultaneous radio links.
const maxConnections = 7

// rssiFloor is the weakest signal accepted for a connect attempt.
const rssiFloor = -80

// connectBackoff is the base cooldown after a failed connect attempt. The
// effective cooldown is connectBackoff multiplied by the failure count.
const connectBackoff = 30 * time.Second

// connectTimeout bounds a single connect attempt.
const connectTimeout = 30 * time.Second

// scanSettleDelay is the pause between stopping the scan and connecting.
// Scan and connect are mutually exclusive on common radios.
const scanSettleDelay = 200 * time.Millisecond

// targetMTU is the MTU requested after connect. Failure to negotiate is tolerated.
const targetMTU = 512

// defaultLinkMTU is used when the MTU request fails or grants no room for a fragment chunk.
const defaultLinkMTU = 182

// maintenanceInterval drives stale-peer pruning, dedup sweep and fragment eviction.
const maintenanceInterval = 30 * time.Second

// stalePeerTimeout removes peers not seen for this long and not connected.
const stalePeerTimeout = 5 * time.Minute

// adapterStateTimeout bounds the wait for a definite adapter state in Start.
const adapterStateTimeout = 5 * time.Second

// dedupCapacity caps the seen-message cache.
const dedupCapacity = 10000

// dedupMaxAge is the age after which seen-message entries are swept.
const dedupMaxAge = 10 * time.Minute

// defaultTTL is the hop budget of locally originated packets.
const defaultTTL = 7

// announceInterval is how often the nickname announcement is re-broadcast.
const announceInterval = 30 * time.Second

// Rate limiter defaults: bucket size, refill per second, cooldown on exhaustion.
const (
	rateBucketSize = 5
	rateRefill     = 1.0
	rateCooldown   = 3 * time.Second
)
