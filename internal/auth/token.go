// Package auth issues and validates API keys. Only the SHA-256 hash of a key is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// KeyPrefix starts every API key, which makes leaked keys easy to grep for.
const KeyPrefix = "evk_"

// Store is the storage slice the token service needs.
type Store interface {
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error
}

// TokenService handles API key creation, validation and revocation.
type TokenService struct {
	store Store
	now   func() time.Time
}

// NewTokenService creates a TokenService backed by the given storage.
func NewTokenService(store Store) *TokenService {
	return &TokenService{store: store, now: time.Now}
}

// CreateToken generates a new API key and persists its hash. The plaintext is returned
// once and cannot be recovered later. A zero ttl never expires.
func (s *TokenService) CreateToken(ctx context.Context, displayName string, policies []string, ttl time.Duration) (*models.Token, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := KeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().UTC()
	t := &models.Token{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Policies:    policies,
		TTL:         ttl,
		CreatedAt:   now,
	}
	if ttl > 0 {
		t.ExpiresAt = now.Add(ttl)
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// ValidateToken looks up a key by its plaintext value and fails with an unauthorized
// error if it is unknown, revoked or expired.
func (s *TokenService) ValidateToken(ctx context.Context, plaintext string) (*models.Token, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return nil, errs.Unauthorized("invalid token")
	}
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.Unauthorized("invalid token")
		}
		return nil, err
	}
	if token.IsRevoked() {
		return nil, errs.Unauthorized("token has been revoked")
	}
	if token.IsExpired() {
		return nil, errs.Unauthorized("token has expired")
	}
	return token, nil
}

// Principal validates plaintext and returns the caller it identifies.
func (s *TokenService) Principal(ctx context.Context, plaintext string) (policy.Principal, error) {
	token, err := s.ValidateToken(ctx, plaintext)
	if err != nil {
		return policy.Principal{}, err
	}
	return policy.Principal{ID: token.ID, Policies: token.Policies}, nil
}

// RevokeToken revokes a key by ID.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	err := s.store.RevokeToken(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("token %s not found", tokenID)
	}
	return err
}

// HashToken returns the SHA-256 hex hash of a plaintext key. Exported for use by middleware.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
