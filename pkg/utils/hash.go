package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// We don't want to keep session tokens as plain text in memory.
// Since the tokens are generated random strings a plain hash (no salt)
// is a reasonable lookup key.
func HashToken(arg string) string {
	hasher := sha256.New()
	hasher.Write([]byte(arg))
	return hex.EncodeToString(hasher.Sum(nil))
}
