// Package cipher encrypts credential secrets at rest. It mirrors the
// $enc$<salt>$<ciphertext> envelope of the original Fernet-based
// implementation, substituting AES-256-GCM for Fernet since no
// Fernet-compatible package exists in the Go ecosystem this module
// draws from — GCM is the idiomatic Go AEAD for the same job (integrity
// plus confidentiality from one key).
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize       = 16
	keySize        = 32
	iterations     = 100_000
	envelopeHeader = "enc"
)

// Service encrypts and decrypts credential secrets with a single master
// key, deriving a fresh AES key per secret via PBKDF2 over a random
// salt.
type Service struct {
	masterKey []byte
}

// New builds a Service from the deployment's master key. The key is
// typically sourced from an environment variable at startup, never
// hardcoded.
func New(masterKey string) (*Service, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("cipher: master key must not be empty")
	}
	return &Service{masterKey: []byte(masterKey)}, nil
}

func (s *Service) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(s.masterKey, salt, iterations, keySize, sha256.New)
}

// Encrypt returns data encrypted in the "$enc$<salt>$<ciphertext>"
// envelope, both fields base64 (URL-safe, unpadded).
func (s *Service) Encrypt(data string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cipher: generate salt: %w", err)
	}

	gcm, err := s.gcmForSalt(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cipher: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(data), nil)

	return fmt.Sprintf("$%s$%s$%s",
		envelopeHeader,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(ciphertext),
	), nil
}

// errInvalidFormat covers every way an envelope can fail to parse or
// authenticate; the caller never learns which.
var errInvalidFormat = errors.New("cipher: invalid encryption format")

// Decrypt reverses Encrypt. It returns errInvalidFormat for a malformed
// envelope, a wrong master key, or tampered ciphertext alike.
func (s *Service) Decrypt(encrypted string) (string, error) {
	if !strings.HasPrefix(encrypted, "$"+envelopeHeader+"$") {
		return "", errInvalidFormat
	}

	parts := strings.Split(encrypted, "$")
	if len(parts) != 4 {
		return "", errInvalidFormat
	}
	saltB64, tokenB64 := parts[2], parts[3]

	salt, err := base64.RawURLEncoding.DecodeString(saltB64)
	if err != nil {
		return "", errInvalidFormat
	}
	token, err := base64.RawURLEncoding.DecodeString(tokenB64)
	if err != nil {
		return "", errInvalidFormat
	}

	gcm, err := s.gcmForSalt(salt)
	if err != nil {
		return "", err
	}
	if len(token) < gcm.NonceSize() {
		return "", errInvalidFormat
	}
	nonce, ciphertext := token[:gcm.NonceSize()], token[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errInvalidFormat
	}
	return string(plaintext), nil
}

func (s *Service) gcmForSalt(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("cipher: build aes block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: build gcm: %w", err)
	}
	return gcm, nil
}
