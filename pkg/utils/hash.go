package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// NormalizeText trims surrounding whitespace and case-folds.
func NormalizeText(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// ShortHash is a log-friendly prefix of HashString.
func ShortHash(input string) string {
	return HashString(input)[:12]
}
