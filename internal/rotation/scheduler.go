package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/org/envvault/pkg/models"
)

// DueLister is the storage query the scheduler runs.
type DueLister interface {
	ListDueForRotation(ctx context.Context, asOf time.Time) ([]*models.Entity, error)
}

// Scheduler answers due-for-rotation queries. It holds no state and starts no goroutines.
type Scheduler struct {
	store DueLister
}

// NewScheduler creates a Scheduler.
func NewScheduler(store DueLister) *Scheduler {
	return &Scheduler{store: store}
}

// DueForRotation returns entities whose rotateAt <= asOf and whose policy is not "never".
func (s *Scheduler) DueForRotation(ctx context.Context, asOf time.Time) ([]*models.Entity, error) {
	all, err := s.store.ListDueForRotation(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("listing entities due for rotation: %w", err)
	}
	due := all[:0]
	for _, e := range all {
		if IsDue(e, asOf) {
			due = append(due, e)
		}
	}
	return due, nil
}

// IsDue reports whether e should be rotated at asOf.
func IsDue(e *models.Entity, asOf time.Time) bool {
	if e.RotateAt == nil || e.RotateAfter == models.RotateNever || e.RotateAfter == "" {
		return false
	}
	return !e.RotateAt.After(asOf)
}
