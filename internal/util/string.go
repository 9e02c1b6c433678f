// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TruncateRunes truncates s to at most maxRunes characters, appending "..."
// when anything was cut. Counting runes keeps multi-byte characters intact.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// SingleLine collapses line breaks so previews fit on one row.
func SingleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}

// KeyFingerprint returns the first 8 hex characters of the SHA-256 of secret,
// or "none" when secret is empty.
// SECURITY: Never exposes any fragment of the secret itself.
func KeyFingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}
