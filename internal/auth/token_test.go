package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/storage"
)

func TestCreateAndValidate(t *testing.T) {
	svc := NewTokenService(storage.NewMemoryBackend())
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, "ci", []string{"deploy"}, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, KeyPrefix))
	assert.True(t, tok.ExpiresAt.IsZero())

	got, err := svc.ValidateToken(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	p, err := svc.Principal(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, p.ID)
	assert.Equal(t, []string{"deploy"}, p.Policies)
}

func TestValidate_Rejections(t *testing.T) {
	store := storage.NewMemoryBackend()
	svc := NewTokenService(store)
	ctx := context.Background()

	_, err := svc.ValidateToken(ctx, "evk_unknown")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = svc.ValidateToken(ctx, "no-prefix")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	tok, plaintext, err := svc.CreateToken(ctx, "temp", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeToken(ctx, tok.ID))
	_, err = svc.ValidateToken(ctx, plaintext)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, expired, err := svc.CreateToken(ctx, "old", nil, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, expired)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	assert.ErrorIs(t, svc.RevokeToken(ctx, "missing"), errs.ErrNotFound)
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("evk_abc"), HashToken("evk_abc"))
	assert.NotEqual(t, HashToken("evk_abc"), HashToken("evk_abd"))
	assert.Len(t, HashToken("x"), 64)
}
