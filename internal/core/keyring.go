// Package core holds the server's key material in memory.
package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/org/envvault/internal/crypto"
)

const kekContext = "envvault-kek-v1"

// ErrLocked is returned by Encode and Decode after Lock.
var ErrLocked = errors.New("keyring is locked")

// Keyring holds the KEK derived from the master key and seals revision values with it.
// The master key itself is never retained.
type Keyring struct {
	mu  sync.RWMutex
	kek []byte
}

// NewKeyring derives the KEK from masterKey.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	kek, err := crypto.DeriveKEK(masterKey, kekContext)
	if err != nil {
		return nil, err
	}
	return &Keyring{kek: kek}, nil
}

// NewKeyringFromBase64 decodes a standard base64 master key, as found in configuration.
func NewKeyringFromBase64(encoded string) (*Keyring, error) {
	masterKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	defer clear(masterKey)
	return NewKeyring(masterKey)
}

// Locked reports whether Lock has wiped the KEK.
func (k *Keyring) Locked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.kek == nil
}

// Lock wipes the KEK from memory. Subsequent Encode and Decode calls fail.
func (k *Keyring) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.kek)
	k.kek = nil
}

// Encode seals value for storage in the given (entity, environment) slot.
func (k *Keyring) Encode(entityID, environmentID, value string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.kek == nil {
		return "", ErrLocked
	}
	return crypto.Seal(value, k.kek, slotAAD(entityID, environmentID))
}

// Decode opens a sealed value. Values that were not sealed by a keyring are returned
// unchanged, since clients may store their own ciphertext.
func (k *Keyring) Decode(entityID, environmentID, stored string) (string, error) {
	if !crypto.IsSealed(stored) {
		return stored, nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.kek == nil {
		return "", ErrLocked
	}
	return crypto.Open(stored, k.kek, slotAAD(entityID, environmentID))
}

func slotAAD(entityID, environmentID string) []byte {
	return []byte(entityID + "/" + environmentID)
}
