package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const PasskeySize = 32

// NonceSize is the length of the server challenge used on links without
// TLS exporter material.
const NonceSize = 32

var ErrInvalidPasskey = errors.New("invalid passkey")

// GeneratePasskey returns a cryptographically random 32-byte passkey.
func GeneratePasskey() ([]byte, error) {
	key := make([]byte, PasskeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ParsePasskey decodes a hex passkey as printed by the streamer on startup.
func ParsePasskey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPasskey, err)
	}
	if len(key) != PasskeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPasskey, len(key), PasskeySize)
	}
	return key, nil
}

// GenerateNonce returns a fresh challenge for a WebSocket link.
func GenerateNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	_, err := rand.Read(nonce[:])
	return nonce, err
}

// ComputeAuthToken computes HMAC-SHA256(passkey, material).
// material is either TLS exporter material, binding the token to one TLS
// session, or a server nonce.
func ComputeAuthToken(passkey, material []byte) [32]byte {
	mac := hmac.New(sha256.New, passkey)
	mac.Write(material)
	var token [32]byte
	copy(token[:], mac.Sum(nil))
	return token
}

// VerifyAuthToken checks that the provided token matches the expected
// HMAC-SHA256(passkey, material).
func VerifyAuthToken(passkey, material []byte, token [32]byte) bool {
	expected := ComputeAuthToken(passkey, material)
	return hmac.Equal(token[:], expected[:])
}
