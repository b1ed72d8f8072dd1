package vault

import (
	"context"

	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/rotation"
	"github.com/org/envvault/pkg/models"
)

// RollbackResult reports the revision a rollback appended. Count is always 1.
type RollbackResult struct {
	Count           int              `json:"count"`
	CurrentRevision *models.Revision `json:"currentRevision"`
}

// Rollback appends a new head revision whose value equals the one stored at version.
// History is never rewritten: rolling back to version 3 with head at 7 yields version 8.
// The stored form is copied verbatim, so encrypted values are not re-sealed.
func (e *Engine) Rollback(ctx context.Context, g *policy.Grant, entityID, envSlug string, version int) (*RollbackResult, error) {
	ent, err := e.entityFor(ctx, g, entityID, models.ActionUpdate)
	if err != nil {
		return nil, err
	}
	env, err := e.environment(ctx, g, envSlug)
	if err != nil {
		return nil, err
	}
	target, err := e.ledger.Get(ctx, ent.ID, env.ID, version)
	if err != nil {
		return nil, err
	}
	rev, err := e.ledger.Append(ctx, ent.ID, env.ID, target.Value, g.ActorID())
	if err != nil {
		return nil, err
	}

	ent.RotateAt = rotation.ComputeRotateAt(rev.CreatedAt, ent.RotateAfter)
	ent.LastUpdatedByID = g.ActorID()
	ent.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateEntity(ctx, ent); err != nil {
		return nil, storeErr(err, "%s %q", ent.Kind, ent.Slug)
	}

	current, err := e.decoded(rev)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("entity_id", ent.ID).Str("environment", env.Slug).
		Int("target_version", version).Int("version", rev.Version).Msg("rolled back")
	e.record(ctx, g, ent, "rollback", map[string]any{
		"environment":   env.Slug,
		"targetVersion": version,
		"version":       rev.Version,
	})
	return &RollbackResult{Count: 1, CurrentRevision: current}, nil
}
