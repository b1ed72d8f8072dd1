// Package ledger is the append-only, per-(entity, environment) log of revision values.
//
// Versions start at 1 and grow by one per append with no gaps. The version read and the
// insert happen in a single storage transaction; when two writers race for the same
// version the loser's transaction fails with storage.ErrConflict and Append retries it
// with exponential backoff, up to a bounded number of attempts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// Store is the slice of storage.Backend the ledger writes through.
type Store interface {
	AppendRevision(ctx context.Context, rev *models.Revision) error
	GetRevision(ctx context.Context, entityID, environmentID string, version int) (*models.Revision, error)
	GetHeadRevision(ctx context.Context, entityID, environmentID string) (*models.Revision, error)
	ListRevisions(ctx context.Context, filter storage.RevisionFilter) ([]*models.Revision, int, error)
	DeleteRevisions(ctx context.Context, entityID, environmentID string) (int64, error)
}

// Config controls conflict retries.
type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultConfig returns five retries starting at 10ms.
func DefaultConfig() Config {
	return Config{MaxRetries: 5, RetryBaseDelay: 10 * time.Millisecond}
}

const maxRetryDelay = time.Second

// HistorySort is the sort spec of History. Most recent first unless asked otherwise.
var HistorySort = pagination.SortSpec{
	Allowed:      []string{"version", "createdAt"},
	Default:      "version",
	DefaultOrder: pagination.Desc,
}

// Ledger appends and reads revisions.
type Ledger struct {
	store  Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now as the source of revision timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. Zero config fields take their defaults.
func New(store Store, cfg Config, logger zerolog.Logger, opts ...Option) *Ledger {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	l := &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "ledger").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes value as the next revision of (entityID, environmentID).
//
// Only version conflicts are retried: a conflict means the transaction rolled back and
// nothing was written. Any other failure is returned immediately, since the append may
// or may not have committed.
func (l *Ledger) Append(ctx context.Context, entityID, environmentID, value, authorID string) (*models.Revision, error) {
	log := l.logger.With().Str("entity_id", entityID).Str("environment_id", environmentID).Logger()

	for attempt := 0; ; attempt++ {
		rev := &models.Revision{
			EntityID:      entityID,
			EnvironmentID: environmentID,
			Value:         value,
			CreatedAt:     l.now().UTC(),
			CreatedByID:   authorID,
		}
		err := l.store.AppendRevision(ctx, rev)
		if err == nil {
			revisionsAppended.Inc()
			log.Debug().Int("version", rev.Version).Int("attempt", attempt).Msg("revision appended")
			return rev, nil
		}

		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, errs.Wrap(errs.KindNotFound, err, "entity %s or environment %s does not exist", entityID, environmentID)
		case !errors.Is(err, storage.ErrConflict):
			return nil, fmt.Errorf("appending revision: %w", err)
		}

		appendConflicts.Inc()
		if attempt >= l.cfg.MaxRetries {
			log.Warn().Int("attempts", attempt+1).Msg("append retries exhausted")
			return nil, errs.Wrap(errs.KindConflict, err,
				"concurrent writes to entity %s in environment %s; gave up after %d attempts", entityID, environmentID, attempt+1)
		}

		delay := l.backoff(attempt)
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("version conflict, retrying")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (l *Ledger) backoff(attempt int) time.Duration {
	d := l.cfg.RetryBaseDelay << attempt
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Head returns the highest-version revision of the pair, or nil when the entity has no
// value in that environment.
func (l *Ledger) Head(ctx context.Context, entityID, environmentID string) (*models.Revision, error) {
	rev, err := l.store.GetHeadRevision(ctx, entityID, environmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading head revision: %w", err)
	}
	return rev, nil
}

// Get returns one specific version. A missing version is a not-found error.
func (l *Ledger) Get(ctx context.Context, entityID, environmentID string, version int) (*models.Revision, error) {
	if version < 1 {
		return nil, errs.Validation("version must be >= 1, got %d", version)
	}
	rev, err := l.store.GetRevision(ctx, entityID, environmentID, version)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errs.NotFound("version %d does not exist", version)
	}
	if err != nil {
		return nil, fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

// History returns one page of the pair's revisions, newest first by default.
// req must already be clamped; its search term is ignored because values are opaque.
func (l *Ledger) History(ctx context.Context, entityID, environmentID string, req pagination.Request) (pagination.Page[*models.Revision], error) {
	req, err := req.Resolve(HistorySort)
	if err != nil {
		return pagination.Page[*models.Revision]{}, err
	}
	req.Search = ""
	revs, total, err := l.store.ListRevisions(ctx, storage.RevisionFilter{
		EntityID:      entityID,
		EnvironmentID: environmentID,
		Sort:          req.Sort,
		Desc:          req.Order == pagination.Desc,
		Limit:         req.Limit,
		Offset:        req.Offset(),
	})
	if err != nil {
		return pagination.Page[*models.Revision]{}, fmt.Errorf("listing revisions: %w", err)
	}
	return pagination.NewPage(revs, total, req), nil
}

// Purge deletes every revision of the pair and reports how many were removed.
// Purging an empty pair is not an error.
func (l *Ledger) Purge(ctx context.Context, entityID, environmentID string) (int64, error) {
	n, err := l.store.DeleteRevisions(ctx, entityID, environmentID)
	if err != nil {
		return 0, fmt.Errorf("deleting revisions: %w", err)
	}
	if n > 0 {
		l.logger.Info().Str("entity_id", entityID).Str("environment_id", environmentID).
			Int64("revisions", n).Msg("environment value purged")
	}
	return n, nil
}
