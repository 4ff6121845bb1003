// Package id creates identifiers for stored records.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// NewID returns a random identifier usable in primary keys and URLs:
// 26 lowercase base32 characters with no padding, derived from 16
// random bytes stamped with the UUIDv4 version and variant bits.
func NewID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate id bytes: %w", err)
	}

	// Version 4, RFC 4122 variant.
	raw[6] = raw[6]&0x0f | 0x40
	raw[8] = raw[8]&0x3f | 0x80

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return strings.ToLower(encoded), nil
}
