// Package rotation computes rotation deadlines from fixed-hour policies and answers
// which entities are due.
package rotation

import (
	"strings"
	"time"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/pkg/models"
)

var intervals = map[models.RotationPolicy]time.Duration{
	models.Rotate24h:   24 * time.Hour,
	models.Rotate168h:  168 * time.Hour,
	models.Rotate720h:  720 * time.Hour,
	models.Rotate8760h: 8760 * time.Hour,
}

// ParsePolicy validates a rotation literal. The empty string means "never".
func ParsePolicy(s string) (models.RotationPolicy, error) {
	p := models.RotationPolicy(strings.TrimSpace(s))
	if p == "" || p == models.RotateNever {
		return models.RotateNever, nil
	}
	if _, ok := intervals[p]; !ok {
		return "", errs.Validation("unknown rotation policy %q; allowed: never, 24, 168, 720, 8760", s)
	}
	return p, nil
}

// Interval returns the rotation period of p and false for "never".
func Interval(p models.RotationPolicy) (time.Duration, bool) {
	d, ok := intervals[p]
	return d, ok
}

// ComputeRotateAt returns createdAt + the policy's interval, or nil for "never".
func ComputeRotateAt(createdAt time.Time, p models.RotationPolicy) *time.Time {
	d, ok := Interval(p)
	if !ok {
		return nil
	}
	at := createdAt.Add(d)
	return &at
}
