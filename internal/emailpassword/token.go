// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
)

// Key token configuration.
const (
	KeyRandomBytes = 16 // 128 bits of entropy, 32 hex chars
	KeySuffixChars = 8  // hex chars of sha256(subject) appended for debugging
)

// GenerateKey creates a one-time key token: KeyRandomBytes of crypto/rand
// output, hex-encoded, followed by a short digest of subject. The suffix is
// not secret and adds no entropy.
func GenerateKey(subject string) (string, error) {
	tokenBytes := make([]byte, KeyRandomBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", oops.Code("KEY_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", KeyRandomBytes).
			Wrap(err)
	}

	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(tokenBytes) + hex.EncodeToString(sum[:])[:KeySuffixChars], nil
}

// hashesEqual compares two opaque password hashes in constant time.
func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
