package rotation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/org/envvault/pkg/models"
)

var (
	dueEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "envvault_rotation_due_entities",
		Help: "Entities past their rotateAt deadline at the last poll.",
	})
	pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "envvault_rotation_poll_errors_total",
		Help: "Rotation polls that failed.",
	})
)

func init() {
	prometheus.MustRegister(dueEntities, pollErrors)
}

// Notifier dispatches reminders for due entities.
type Notifier interface {
	NotifyDue(ctx context.Context, due []*models.Entity) error
}

// LogNotifier writes one warning per due entity.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) NotifyDue(_ context.Context, due []*models.Entity) error {
	for _, e := range due {
		n.Logger.Warn().
			Str("entity_id", e.ID).
			Str("kind", string(e.Kind)).
			Str("slug", e.Slug).
			Time("rotate_at", *e.RotateAt).
			Msg("entity due for rotation")
	}
	return nil
}

// Poller is the external driver that periodically asks the scheduler for due entities.
type Poller struct {
	sched    *Scheduler
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPoller creates a Poller. A non-positive interval defaults to one minute.
func NewPoller(sched *Scheduler, notifier Notifier, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{sched: sched, notifier: notifier, interval: interval, logger: logger, now: time.Now}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil {
			p.logger.Error().Err(err).Msg("rotation poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs a single poll and returns the number of due entities.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	due, err := p.sched.DueForRotation(ctx, p.now().UTC())
	if err != nil {
		pollErrors.Inc()
		return 0, err
	}
	dueEntities.Set(float64(len(due)))
	if len(due) == 0 {
		return 0, nil
	}
	if err := p.notifier.NotifyDue(ctx, due); err != nil {
		pollErrors.Inc()
		return len(due), err
	}
	return len(due), nil
}
