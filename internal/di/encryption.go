package di

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// decodeEncryptionKey turns the hex-encoded 32-byte key internal/config
// validates (encryption.key, 64 hex chars) into raw bytes for
// store.NewSQLiteCredentialStore. An empty key is accepted in any mode
// (internal/config.Validate checks the 64-char length only when a key is
// set); here it generates a random per-process key so the server still
// starts, at the cost of making any previously-stored credential
// unreadable across restarts.
func decodeEncryptionKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral encryption key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption.key as hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption.key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
