/*
File Name:  Geohash.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package relay

import (
	"strings"

	"github.com/mmcloughlin/geohash"
)

// ValidGeohash reports whether the string is a well-formed geohash.
func ValidGeohash(hash string) bool {
	if hash == "" || len(hash) > 12 {
		return false
	}
	return geohash.Validate(hash) == nil
}

// geohashIntersects reports whether two geohash rectangles overlap. Geohashes
// nest by prefix, so two cells overlap exactly when one is a prefix of the
// other. An empty hash is a global scope and overlaps everything.
func geohashIntersects(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// GeohashTag builds the event tag for a scope.
func GeohashTag(hash string) []string {
	return []string{"g", strings.ToLower(hash)}
}

// EncodeGeohash encodes a coordinate at the given precision.
func EncodeGeohash(lat, lng float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lng, precision)
}
