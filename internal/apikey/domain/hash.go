package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	KeyPrefix      = "agk_"
	keySecretBytes = 32
)

// GenerateKey returns fresh key material with its stored hash and display prefix.
func GenerateKey() (plain, hash, prefix string, err error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}

	plain = KeyPrefix + hex.EncodeToString(secret)
	return plain, HashAPIKey(plain), DisplayPrefix(plain), nil
}

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix keeps the first 12 and last 4 characters of a key.
func DisplayPrefix(raw string) string {
	if len(raw) <= 16 {
		return raw
	}
	return raw[:12] + "..." + raw[len(raw)-4:]
}

// LooksLikeKey reports whether raw has the shape of an issued key.
func LooksLikeKey(raw string) bool {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	body := raw[len(KeyPrefix):]
	if len(body) != keySecretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// IsKeyID reports whether id is a well-formed key hash.
func IsKeyID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil && strings.ToLower(id) == id
}
