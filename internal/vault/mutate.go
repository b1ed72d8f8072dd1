package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/org/envvault/internal/entry"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/rotation"
	"github.com/org/envvault/internal/slug"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// CreateInput describes a new secret or variable. Entries are raw
// "<environment>=<value>" strings.
type CreateInput struct {
	Name        string   `json:"name"`
	Note        *string  `json:"note,omitempty"`
	RotateAfter string   `json:"rotateAfter,omitempty"`
	Entries     []string `json:"entries,omitempty"`
}

// UpdateInput changes metadata in place and appends one revision per entry. Nil
// fields are left unchanged; an empty Note clears it.
type UpdateInput struct {
	Name        *string  `json:"name,omitempty"`
	Note        *string  `json:"note,omitempty"`
	RotateAfter *string  `json:"rotateAfter,omitempty"`
	Entries     []string `json:"entries,omitempty"`
}

// WriteResult is the outcome of a create or update. Warnings lists entries that were
// skipped; the rest of the call still committed.
type WriteResult struct {
	Entity    *models.Entity     `json:"entity"`
	Revisions []*models.Revision `json:"revisions"`
	Warnings  []entry.Malformed  `json:"warnings,omitempty"`
}

// resolvedEntry is a parsed entry whose environment exists.
type resolvedEntry struct {
	env   *models.Environment
	value string
}

// resolveEntries parses raw entries and resolves their environments. Unparseable entries
// and unknown environments become warnings.
func (e *Engine) resolveEntries(ctx context.Context, g *policy.Grant, raw []string) ([]resolvedEntry, []entry.Malformed, error) {
	var (
		ok       []resolvedEntry
		warnings []entry.Malformed
		envs     = map[string]*models.Environment{}
	)
	for i, r := range raw {
		res := entry.Parse(r)
		if res.Bad != nil {
			bad := *res.Bad
			bad.Index = i
			warnings = append(warnings, bad)
			continue
		}
		env, seen := envs[res.OK.EnvironmentSlug]
		if !seen {
			var err error
			env, err = e.environment(ctx, g, res.OK.EnvironmentSlug)
			if errs.KindOf(err) == errs.KindNotFound {
				env = nil
			} else if err != nil {
				return nil, nil, err
			}
			envs[res.OK.EnvironmentSlug] = env
		}
		if env == nil {
			warnings = append(warnings, entry.Malformed{
				Index:  i,
				Raw:    r,
				Reason: "unknown environment \"" + res.OK.EnvironmentSlug + "\"",
			})
			continue
		}
		ok = append(ok, resolvedEntry{env: env, value: res.OK.Value})
	}
	for _, w := range warnings {
		e.logger.Warn().Int("index", w.Index).Str("reason", w.Reason).Msg("skipping entry")
	}
	return ok, warnings, nil
}

// appendEntries writes one revision per entry, in order, and returns them decoded.
func (e *Engine) appendEntries(ctx context.Context, g *policy.Grant, ent *models.Entity, entries []resolvedEntry) ([]*models.Revision, error) {
	revs := make([]*models.Revision, 0, len(entries))
	for _, en := range entries {
		stored, err := e.codec.Encode(ent.ID, en.env.ID, en.value)
		if err != nil {
			return revs, err
		}
		rev, err := e.ledger.Append(ctx, ent.ID, en.env.ID, stored, g.ActorID())
		if err != nil {
			return revs, err
		}
		out := *rev
		out.Value = en.value
		revs = append(revs, &out)
	}
	return revs, nil
}

func normalizeName(name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errs.Validation("name must not be empty")
	}
	s := slug.Make(name)
	if s == "" {
		return "", "", errs.Validation("name %q has no usable characters for a slug", name)
	}
	return name, s, nil
}

// CreateEntity creates a secret or variable of the grant's kind and appends one
// version-1 revision per valid entry.
func (e *Engine) CreateEntity(ctx context.Context, g *policy.Grant, in CreateInput) (*WriteResult, error) {
	if g == nil {
		return nil, errs.Unauthorized("no authorization grant")
	}
	kind := g.Ref.Kind
	if err := g.Require(models.AuthorityFor(kind, models.ActionCreate)); err != nil {
		return nil, err
	}
	name, entitySlug, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	policyLit, err := rotation.ParsePolicy(in.RotateAfter)
	if err != nil {
		return nil, err
	}
	if err := e.slugFree(ctx, g, kind, entitySlug); err != nil {
		return nil, err
	}
	entries, warnings, err := e.resolveEntries(ctx, g, in.Entries)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	ent := &models.Entity{
		ID:              e.newID(),
		Kind:            kind,
		Name:            name,
		Slug:            entitySlug,
		ProjectID:       g.Project.ID,
		Note:            normalizeNote(in.Note),
		RotateAfter:     policyLit,
		RotateAt:        rotation.ComputeRotateAt(now, policyLit),
		LastUpdatedByID: g.ActorID(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateEntity(ctx, ent); err != nil {
		return nil, storeErr(err, "%s %q", kind, entitySlug)
	}

	revs, err := e.appendEntries(ctx, g, ent, entries)
	if err != nil {
		return nil, e.abandonCreate(ctx, ent, revs, err)
	}
	if len(revs) > 0 && policyLit != models.RotateNever {
		ent.RotateAt = rotation.ComputeRotateAt(revs[len(revs)-1].CreatedAt, policyLit)
		if err := e.store.UpdateEntity(ctx, ent); err != nil {
			return nil, storeErr(err, "%s %q", kind, entitySlug)
		}
	}

	e.logger.Info().Str("entity_id", ent.ID).Str("kind", string(kind)).Str("slug", entitySlug).
		Int("revisions", len(revs)).Int("warnings", len(warnings)).Msg("entity created")
	e.record(ctx, g, ent, "create", map[string]any{"revisions": len(revs), "warnings": len(warnings)})
	return &WriteResult{Entity: ent, Revisions: revs, Warnings: warnings}, nil
}

// UpdateEntity applies metadata changes in place and appends one revision per valid
// entry, even when the value is unchanged. Malformed entries are skipped with a warning.
// If an append fails, the metadata and the revisions committed before it stay stored and
// are returned alongside the error.
func (e *Engine) UpdateEntity(ctx context.Context, g *policy.Grant, entityID string, in UpdateInput) (*WriteResult, error) {
	ent, err := e.entityFor(ctx, g, entityID, models.ActionUpdate)
	if err != nil {
		return nil, err
	}

	policyChanged := false
	if in.RotateAfter != nil {
		p, err := rotation.ParsePolicy(*in.RotateAfter)
		if err != nil {
			return nil, err
		}
		policyChanged = p != ent.RotateAfter
		ent.RotateAfter = p
	}
	if in.Name != nil {
		name, newSlug, err := normalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		if newSlug != ent.Slug {
			if err := e.slugFree(ctx, g, ent.Kind, newSlug); err != nil {
				return nil, err
			}
		}
		ent.Name, ent.Slug = name, newSlug
	}
	if in.Note != nil {
		ent.Note = normalizeNote(in.Note)
	}

	entries, warnings, err := e.resolveEntries(ctx, g, in.Entries)
	if err != nil {
		return nil, err
	}

	// Metadata is stored before any revision so a failed append cannot lose it.
	now := e.now().UTC()
	if policyChanged {
		ent.RotateAt = rotation.ComputeRotateAt(now, ent.RotateAfter)
	}
	ent.LastUpdatedByID = g.ActorID()
	ent.UpdatedAt = now
	if err := e.store.UpdateEntity(ctx, ent); err != nil {
		return nil, storeErr(err, "%s %q", ent.Kind, ent.Slug)
	}

	revs, appendErr := e.appendEntries(ctx, g, ent, entries)
	if len(revs) > 0 {
		ent.RotateAt = rotation.ComputeRotateAt(revs[len(revs)-1].CreatedAt, ent.RotateAfter)
		if err := e.store.UpdateEntity(ctx, ent); err != nil {
			return nil, errors.Join(appendErr, storeErr(err, "%s %q", ent.Kind, ent.Slug))
		}
	}
	if appendErr != nil {
		e.logger.Error().Err(appendErr).Str("entity_id", ent.ID).
			Int("committed", len(revs)).Int("requested", len(entries)).Msg("update stopped after a failed append")
		return &WriteResult{Entity: ent, Revisions: revs, Warnings: warnings}, appendErr
	}

	e.logger.Info().Str("entity_id", ent.ID).Str("kind", string(ent.Kind)).
		Int("revisions", len(revs)).Int("warnings", len(warnings)).Msg("entity updated")
	e.record(ctx, g, ent, "update", map[string]any{"revisions": len(revs), "warnings": len(warnings)})
	return &WriteResult{Entity: ent, Revisions: revs, Warnings: warnings}, nil
}

// DeleteEnvironmentValue removes every revision of the entity in one environment and
// returns how many were removed. Deleting an empty pair succeeds and removes nothing.
func (e *Engine) DeleteEnvironmentValue(ctx context.Context, g *policy.Grant, entityID, envSlug string) (int64, error) {
	ent, err := e.entityFor(ctx, g, entityID, models.ActionDelete)
	if err != nil {
		return 0, err
	}
	env, err := e.environment(ctx, g, envSlug)
	if err != nil {
		return 0, err
	}
	n, err := e.ledger.Purge(ctx, ent.ID, env.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.record(ctx, g, ent, "delete_value", map[string]any{"environment": env.Slug, "revisions": n})
	}
	return n, nil
}

// DeleteEntity hard-deletes the entity and every revision in every environment.
func (e *Engine) DeleteEntity(ctx context.Context, g *policy.Grant, entityID string) error {
	ent, err := e.entityFor(ctx, g, entityID, models.ActionDelete)
	if err != nil {
		return err
	}
	if err := e.store.DeleteEntity(ctx, ent.ID); err != nil {
		return storeErr(err, "entity %s", ent.ID)
	}
	e.logger.Info().Str("entity_id", ent.ID).Str("kind", string(ent.Kind)).Msg("entity deleted")
	e.record(ctx, g, ent, "delete", nil)
	return nil
}

// slugFree reports a ValidationError when the slug is taken in the grant's project.
func (e *Engine) slugFree(ctx context.Context, g *policy.Grant, kind models.Kind, entitySlug string) error {
	_, err := e.store.GetEntityBySlug(ctx, g.Project.ID, kind, entitySlug)
	switch {
	case err == nil:
		return errs.Validation("a %s with slug %q already exists in project %s", kind, entitySlug, g.Project.Slug)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return storeErr(err, "%s %q", kind, entitySlug)
	}
}

// abandonCreate removes an entity whose initial revisions could not all be written, so
// the create can be retried. If the removal fails too, the entity keeps a rotateAt that
// matches its last committed revision.
func (e *Engine) abandonCreate(ctx context.Context, ent *models.Entity, revs []*models.Revision, cause error) error {
	delErr := e.store.DeleteEntity(ctx, ent.ID)
	if delErr == nil {
		e.logger.Warn().Err(cause).Str("entity_id", ent.ID).Int("discarded", len(revs)).Msg("create rolled back")
		return cause
	}
	e.logger.Error().Err(delErr).Str("entity_id", ent.ID).Msg("removing partially created entity")
	if len(revs) > 0 {
		ent.RotateAt = rotation.ComputeRotateAt(revs[len(revs)-1].CreatedAt, ent.RotateAfter)
		if err := e.store.UpdateEntity(ctx, ent); err != nil {
			delErr = errors.Join(delErr, err)
		}
	}
	return errors.Join(cause, delErr)
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	n := strings.TrimSpace(*note)
	if n == "" {
		return nil
	}
	return &n
}
