// Package audit records engine mutations and denied requests. Entries carry identifiers
// and slugs only, never revision values.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// Outcomes recorded on entries.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// Store is the storage slice the audit logger needs.
type Store interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, int, error)
}

// QuerySort is the sort spec of Query; entries are ordered by insertion.
var QuerySort = pagination.SortSpec{
	Allowed:      []string{"timestamp"},
	Default:      "timestamp",
	DefaultOrder: pagination.Desc,
}

type requestIDKey struct{}

// WithRequestID attaches the request ID entries recorded under ctx will carry.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger writes structured audit entries.
type Logger struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(store Store, logger zerolog.Logger) *Logger {
	return &Logger{store: store, logger: logger.With().Str("component", "audit").Logger(), now: time.Now}
}

// Record appends one entry. A failed write is logged and does not fail the caller's
// operation, which has already committed.
func (l *Logger) Record(ctx context.Context, actorID, operation, resource, outcome string, metadata map[string]any) {
	if l == nil {
		return
	}
	entry := &models.AuditEntry{
		RequestID: RequestID(ctx),
		Timestamp: l.now().UTC(),
		ActorID:   actorID,
		Operation: operation,
		Resource:  resource,
		Outcome:   outcome,
		Metadata:  metadata,
	}
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		l.logger.Error().Err(err).
			Str("operation", operation).
			Str("resource", resource).
			Msg("failed to write audit entry")
	}
}

// Query returns one page of entries matching filter. The page request supplies limit,
// offset, order and search; filter supplies operation, resource prefix and since.
func (l *Logger) Query(ctx context.Context, req pagination.Request, filter storage.AuditFilter) (pagination.Page[*models.AuditEntry], error) {
	req, err := req.Resolve(QuerySort)
	if err != nil {
		return pagination.Page[*models.AuditEntry]{}, err
	}
	filter.Search = req.Search
	filter.Desc = req.Order == pagination.Desc
	filter.Limit = req.Limit
	filter.Offset = req.Offset()
	entries, total, err := l.store.QueryAuditLog(ctx, filter)
	if err != nil {
		return pagination.Page[*models.AuditEntry]{}, fmt.Errorf("querying audit log: %w", err)
	}
	return pagination.NewPage(entries, total, req), nil
}
