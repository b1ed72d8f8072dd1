// Package vault is the versioned value store: it creates and updates secrets and
// variables, appends their values to the revision ledger, rolls them back and exports
// them. Every public method takes a *policy.Grant produced by the authorization gate;
// the engine checks the grant covers the operation but never consults policies itself.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/ledger"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// Store is the storage slice the engine needs besides the ledger.
type Store interface {
	GetEnvironmentBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error)
	ListEnvironments(ctx context.Context, projectID string) ([]*models.Environment, error)
	CreateEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	GetEntityBySlug(ctx context.Context, projectID string, kind models.Kind, slug string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, e *models.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*models.Entity, int, error)
}

// Codec transforms values between their plaintext and stored forms. Values are bound
// to their (entity, environment) slot.
type Codec interface {
	Encode(entityID, environmentID, value string) (string, error)
	Decode(entityID, environmentID, stored string) (string, error)
}

// PlainCodec stores values exactly as given. Clients that encrypt on their side use it.
type PlainCodec struct{}

func (PlainCodec) Encode(_, _, value string) (string, error)  { return value, nil }
func (PlainCodec) Decode(_, _, stored string) (string, error) { return stored, nil }

// EntitySort is the sort spec of ListEntities.
var EntitySort = pagination.SortSpec{
	Allowed:      []string{"name", "createdAt", "updatedAt"},
	Default:      "name",
	DefaultOrder: pagination.Asc,
}

// Engine implements entity mutations, rollback and reads.
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	codec  Codec
	audit  *audit.Logger
	pages  pagination.Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithCodec sets how values are stored. The default is PlainCodec.
func WithCodec(c Codec) Option { return func(e *Engine) { e.codec = c } }

// WithAudit records every mutation through l.
func WithAudit(l *audit.Logger) Option { return func(e *Engine) { e.audit = l } }

// WithPagination sets the limits list and history requests are clamped to.
func WithPagination(cfg pagination.Config) Option { return func(e *Engine) { e.pages = cfg } }

// WithClock replaces time.Now for entity timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDGenerator replaces the entity ID generator.
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

// New creates an Engine writing values through l.
func New(store Store, l *ledger.Ledger, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		ledger: l,
		codec:  PlainCodec{},
		pages:  pagination.DefaultConfig(),
		logger: logger.With().Str("component", "vault").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// entityFor loads id and checks it belongs to the grant's project and that the grant
// carries the authority for action on its kind.
func (e *Engine) entityFor(ctx context.Context, g *policy.Grant, id string, action models.Action) (*models.Entity, error) {
	if g == nil {
		return nil, errs.Unauthorized("no authorization grant")
	}
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, storeErr(err, "entity %s", id)
	}
	if ent.ProjectID != g.Project.ID {
		return nil, errs.NotFound("entity %s not found", id)
	}
	if err := g.Require(models.AuthorityFor(ent.Kind, action)); err != nil {
		return nil, err
	}
	return ent, nil
}

// environment resolves an environment slug within the grant's project.
func (e *Engine) environment(ctx context.Context, g *policy.Grant, envSlug string) (*models.Environment, error) {
	env, err := e.store.GetEnvironmentBySlug(ctx, g.Project.ID, envSlug)
	if err != nil {
		return nil, storeErr(err, "environment %q", envSlug)
	}
	return env, nil
}

// decoded returns a copy of rev carrying its plaintext value.
func (e *Engine) decoded(rev *models.Revision) (*models.Revision, error) {
	if rev == nil {
		return nil, nil
	}
	value, err := e.codec.Decode(rev.EntityID, rev.EnvironmentID, rev.Value)
	if err != nil {
		return nil, fmt.Errorf("decoding revision %d: %w", rev.Version, err)
	}
	out := *rev
	out.Value = value
	return &out, nil
}

func (e *Engine) record(ctx context.Context, g *policy.Grant, ent *models.Entity, op string, meta map[string]any) {
	mutations.WithLabelValues(string(ent.Kind), op).Inc()
	e.audit.Record(ctx, g.ActorID(), string(ent.Kind)+"."+op, resourcePath(g, ent), audit.OutcomeSuccess, meta)
}

func resourcePath(g *policy.Grant, ent *models.Entity) string {
	return g.Workspace.Slug + "/" + g.Project.Slug + "/" + ent.Kind.Plural() + "/" + ent.Slug
}

// storeErr translates storage sentinels into the error taxonomy.
func storeErr(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errs.NotFound("%s not found", what)
	case errors.Is(err, storage.ErrAlreadyExists):
		return errs.Validation("%s already exists", what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
