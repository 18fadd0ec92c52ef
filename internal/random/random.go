package random

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Bytes returns length cryptographically random bytes.
func Bytes(length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes failed: %w", err)
	}
	return b, nil
}

// String returns a hex string covering length random bytes.
func String(length int) (string, error) {
	b, err := Bytes(length)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// URLSafeString returns an unpadded base64url string covering length
// random bytes. Used for authorization codes and client identifiers.
func URLSafeString(length int) (string, error) {
	b, err := Bytes(length)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
