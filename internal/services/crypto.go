package services

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// encryptionSalt for PBKDF2. Changing it invalidates every encrypted value
// in system_settings.
var encryptionSalt = []byte("mealscan-settings-v1")

// DeriveEncryptionKey derives the 32-byte AES key used for encrypted
// settings values. All readers and writers of system_settings must derive
// the key through here so the same secret always yields the same key.
func DeriveEncryptionKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), encryptionSalt, 100000, 32, sha256.New)
}
