// Package crypto implements envelope encryption of revision values: each value gets a
// fresh AES-256-GCM data key (DEK), and the DEK is wrapped by a key-encryption key (KEK)
// derived from the master key with HKDF-SHA256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of master keys, KEKs and DEKs.
const KeySize = 32

// SealedPrefix marks a value produced by Seal. Values without it are stored plaintext
// or were encrypted by the client.
const SealedPrefix = "enc:v1:"

// ErrMalformedSealed is returned when a value carries SealedPrefix but cannot be decoded.
var ErrMalformedSealed = errors.New("malformed sealed value")

// GenerateMasterKey generates a 32-byte cryptographically secure random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}

// DeriveKEK derives a Key Encryption Key from the master key using HKDF-SHA256.
func DeriveKEK(masterKey []byte, context string) ([]byte, error) {
	if len(masterKey) < KeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", KeySize, len(masterKey))
	}
	kek := make([]byte, KeySize)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(context))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("deriving KEK: %w", err)
	}
	return kek, nil
}

// GenerateDEK generates a 32-byte random Data Encryption Key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generating DEK: %w", err)
	}
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM and returns nonce||ciphertext.
// aad is authenticated but not encrypted.
func EncryptAESGCM(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// DecryptAESGCM reverses EncryptAESGCM.
func DecryptAESGCM(sealed, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts value under a fresh DEK, wraps the DEK with kek and encodes both as
//
//	enc:v1:<base64url wrapped DEK>.<base64url ciphertext>
//
// aad binds the result to its location; Open must be given the same aad.
func Seal(value string, kek, aad []byte) (string, error) {
	dek, err := GenerateDEK()
	if err != nil {
		return "", err
	}
	defer clear(dek)

	ciphertext, err := EncryptAESGCM([]byte(value), dek, aad)
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	wrapped, err := EncryptAESGCM(dek, kek, nil)
	if err != nil {
		return "", fmt.Errorf("wrapping DEK: %w", err)
	}
	enc := base64.RawURLEncoding
	return SealedPrefix + enc.EncodeToString(wrapped) + "." + enc.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal.
func Open(sealed string, kek, aad []byte) (string, error) {
	body, ok := strings.CutPrefix(sealed, SealedPrefix)
	if !ok {
		return "", ErrMalformedSealed
	}
	wrappedB64, ctB64, ok := strings.Cut(body, ".")
	if !ok {
		return "", ErrMalformedSealed
	}
	enc := base64.RawURLEncoding
	wrapped, err := enc.DecodeString(wrappedB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSealed, err)
	}
	ciphertext, err := enc.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSealed, err)
	}

	dek, err := DecryptAESGCM(wrapped, kek, nil)
	if err != nil {
		return "", fmt.Errorf("unwrapping DEK: %w", err)
	}
	defer clear(dek)
	plaintext, err := DecryptAESGCM(ciphertext, dek, aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}
