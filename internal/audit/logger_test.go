package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

type failingStore struct{ storage.Backend }

func (failingStore) WriteAuditEntry(context.Context, *models.AuditEntry) error {
	return errors.New("disk full")
}

func TestRecordAndQuery(t *testing.T) {
	store := storage.NewMemoryBackend()
	l := NewLogger(store, zerolog.Nop())
	ctx := WithRequestID(context.Background(), "req-42")

	for i := 0; i < 5; i++ {
		l.Record(ctx, "user-1", "secret.update", fmt.Sprintf("acme/api/secrets/key-%d", i), OutcomeSuccess,
			map[string]any{"versions": i})
	}
	l.Record(ctx, "user-2", "variable.create", "acme/web/variables/log-level", OutcomeSuccess, nil)

	page, err := l.Query(context.Background(), pagination.Request{Limit: 2, Base: "/v1/sys/audit"},
		storage.AuditFilter{Resource: "acme/api/"})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Metadata.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "acme/api/secrets/key-4", page.Items[0].Resource, "newest first by default")
	assert.Equal(t, "req-42", page.Items[0].RequestID)
	assert.Equal(t, "user-1", page.Items[0].ActorID)
	assert.NotNil(t, page.Metadata.Links.Next)
	assert.Nil(t, page.Metadata.Links.Previous)

	page, err = l.Query(context.Background(), pagination.Request{Limit: 10, Search: "LOG-LEVEL"}, storage.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "variable.create", page.Items[0].Operation)
}

func TestQueryRejectsUnknownSort(t *testing.T) {
	l := NewLogger(storage.NewMemoryBackend(), zerolog.Nop())
	_, err := l.Query(context.Background(), pagination.Request{Limit: 10, Sort: "actor"}, storage.AuditFilter{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecordSwallowsWriteErrors(t *testing.T) {
	l := NewLogger(failingStore{storage.NewMemoryBackend()}, zerolog.Nop())
	assert.NotPanics(t, func() {
		l.Record(context.Background(), "u", "secret.delete", "acme/api/secrets/x", OutcomeSuccess, nil)
	})
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Record(context.Background(), "u", "op", "res", OutcomeSuccess, nil)
	})
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestID(ctx))
}
