// Package cuid2 generates collision-resistant identifiers for scan-service
// records. IDs carry a 6-character base62 timestamp prefix so primary keys
// stay clustered in B-tree indexes, followed by a random base62 tail.
package cuid2

import (
	crypto_rand "crypto/rand"
	"strings"
	"time"
)

// Base62 alphabet: 0-9, A-Z, a-z
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	timestampLen = 6
	randomLen    = 18
)

// encodeTimestamp encodes a Unix timestamp (seconds) as a 6-character base62
// string, lexicographically sortable for any timestamp this service will see.
func encodeTimestamp(seconds int64) string {
	n := seconds
	result := make([]byte, timestampLen)
	for i := timestampLen - 1; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(result)
}

// randomBase62 produces a uniform random base62 string using rejection
// sampling: 6 bits are drawn at a time and values >= 62 are discarded, so
// every character carries ~5.95 bits of entropy without modulo bias.
func randomBase62(length int) string {
	bytesNeeded := (length*6)/8 + 4 // headroom for the ~3% rejection rate
	bytes := make([]byte, bytesNeeded)
	if _, err := crypto_rand.Read(bytes); err != nil {
		panic("failed to read random bytes: " + err.Error())
	}

	var result strings.Builder
	bitBuffer := uint64(0)
	bitsInBuffer := uint(0)
	byteIndex := 0

	for result.Len() < length {
		for bitsInBuffer < 6 && byteIndex < len(bytes) {
			bitBuffer = (bitBuffer << 8) | uint64(bytes[byteIndex])
			bitsInBuffer += 8
			byteIndex++
		}

		value := (bitBuffer >> (bitsInBuffer - 6)) & 0x3f
		bitsInBuffer -= 6

		if value < 62 {
			result.WriteByte(base62Alphabet[value])
		}

		if byteIndex >= len(bytes) && result.Len() < length {
			if _, err := crypto_rand.Read(bytes); err != nil {
				panic("failed to read random bytes: " + err.Error())
			}
			byteIndex = 0
			bitBuffer = 0
			bitsInBuffer = 0
		}
	}

	return result.String()
}

// Generate returns an unprefixed time-sortable ID
func Generate() string {
	return encodeTimestamp(time.Now().Unix()) + randomBase62(randomLen)
}

// Prefixed returns a time-sortable ID with a record-type prefix,
// e.g. "job_0CL2KwaB3cD5eF7gH9iJ1k"
func Prefixed(prefix string) string {
	return prefix + "_" + Generate()
}

// NewJobID returns an ID for a scan job record
func NewJobID() string { return Prefixed("job") }

// NewCategoryID returns an ID for a category record
func NewCategoryID() string { return Prefixed("cat") }

// NewExclusionID returns an ID for a product exclusion record
func NewExclusionID() string { return Prefixed("exc") }
