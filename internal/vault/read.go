package vault

import (
	"context"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// GetEntity returns one entity of the grant's project.
func (e *Engine) GetEntity(ctx context.Context, g *policy.Grant, entityID string) (*models.Entity, error) {
	return e.entityFor(ctx, g, entityID, models.ActionRead)
}

// ResolveEntity looks an entity up by its slug within the grant's project and kind.
// It needs no particular authority; the operation that follows checks its own.
func (e *Engine) ResolveEntity(ctx context.Context, g *policy.Grant, entitySlug string) (*models.Entity, error) {
	if g == nil {
		return nil, errs.Unauthorized("no authorization grant")
	}
	ent, err := e.store.GetEntityBySlug(ctx, g.Project.ID, g.Ref.Kind, entitySlug)
	if err != nil {
		return nil, storeErr(err, "%s %q", g.Ref.Kind, entitySlug)
	}
	return ent, nil
}

// ListEntities returns one page of the grant's kind in its project. Search matches
// names case-insensitively.
func (e *Engine) ListEntities(ctx context.Context, g *policy.Grant, req pagination.Request) (pagination.Page[*models.Entity], error) {
	var empty pagination.Page[*models.Entity]
	if g == nil {
		return empty, errs.Unauthorized("no authorization grant")
	}
	if err := g.Require(models.AuthorityFor(g.Ref.Kind, models.ActionRead)); err != nil {
		return empty, err
	}
	req, err := req.Clamp(e.pages)
	if err != nil {
		return empty, err
	}
	if req, err = req.Resolve(EntitySort); err != nil {
		return empty, err
	}
	items, total, err := e.store.ListEntities(ctx, storage.EntityFilter{
		ProjectID: g.Project.ID,
		Kind:      g.Ref.Kind,
		Search:    req.Search,
		Sort:      req.Sort,
		Desc:      req.Order == pagination.Desc,
		Limit:     req.Limit,
		Offset:    req.Offset(),
	})
	if err != nil {
		return empty, err
	}
	return pagination.NewPage(items, total, req), nil
}

// Head returns the current value of the entity in one environment, or nil when it has
// no value there.
func (e *Engine) Head(ctx context.Context, g *policy.Grant, entityID, envSlug string) (*models.Revision, error) {
	ent, env, err := e.readSlot(ctx, g, entityID, envSlug)
	if err != nil {
		return nil, err
	}
	rev, err := e.ledger.Head(ctx, ent.ID, env.ID)
	if err != nil {
		return nil, err
	}
	return e.decoded(rev)
}

// GetRevision returns one specific version.
func (e *Engine) GetRevision(ctx context.Context, g *policy.Grant, entityID, envSlug string, version int) (*models.Revision, error) {
	ent, env, err := e.readSlot(ctx, g, entityID, envSlug)
	if err != nil {
		return nil, err
	}
	rev, err := e.ledger.Get(ctx, ent.ID, env.ID, version)
	if err != nil {
		return nil, err
	}
	return e.decoded(rev)
}

// History returns one page of the entity's revisions in one environment, newest first
// unless req says otherwise.
func (e *Engine) History(ctx context.Context, g *policy.Grant, entityID, envSlug string, req pagination.Request) (pagination.Page[*models.Revision], error) {
	var empty pagination.Page[*models.Revision]
	ent, env, err := e.readSlot(ctx, g, entityID, envSlug)
	if err != nil {
		return empty, err
	}
	req, err = req.Clamp(e.pages)
	if err != nil {
		return empty, err
	}
	page, err := e.ledger.History(ctx, ent.ID, env.ID, req)
	if err != nil {
		return empty, err
	}
	for i, rev := range page.Items {
		if page.Items[i], err = e.decoded(rev); err != nil {
			return empty, err
		}
	}
	return page, nil
}

func (e *Engine) readSlot(ctx context.Context, g *policy.Grant, entityID, envSlug string) (*models.Entity, *models.Environment, error) {
	ent, err := e.entityFor(ctx, g, entityID, models.ActionRead)
	if err != nil {
		return nil, nil, err
	}
	env, err := e.environment(ctx, g, envSlug)
	if err != nil {
		return nil, nil, err
	}
	return ent, env, nil
}
