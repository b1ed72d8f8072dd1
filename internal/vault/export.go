package vault

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// Export returns the head value of every entity of the grant's kind in one environment,
// keyed by entity name. Entities without a value there are omitted.
func (e *Engine) Export(ctx context.Context, g *policy.Grant, envSlug string) (map[string]string, error) {
	if g == nil {
		return nil, errs.Unauthorized("no authorization grant")
	}
	if err := g.Require(models.AuthorityFor(g.Ref.Kind, models.ActionRead)); err != nil {
		return nil, err
	}
	env, err := e.environment(ctx, g, envSlug)
	if err != nil {
		return nil, err
	}
	ents, _, err := e.store.ListEntities(ctx, storage.EntityFilter{ProjectID: g.Project.ID, Kind: g.Ref.Kind, Sort: "name"})
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(ents))
	for _, ent := range ents {
		rev, err := e.ledger.Head(ctx, ent.ID, env.ID)
		if err != nil {
			return nil, err
		}
		if rev == nil {
			continue
		}
		value, err := e.codec.Decode(ent.ID, env.ID, rev.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", ent.Slug, err)
		}
		vars[ent.Name] = value
	}
	e.audit.Record(ctx, g.ActorID(), string(g.Ref.Kind)+".export", g.Ref.Path(), audit.OutcomeSuccess,
		map[string]any{"environment": env.Slug, "count": len(vars)})
	return vars, nil
}

// ExportDotEnv renders vars as a .env file with keys in sorted order.
func ExportDotEnv(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := vars[k]
		if needsQuoting(v) {
			fmt.Fprintf(&buf, "%s=%q\n", k, v)
		} else {
			fmt.Fprintf(&buf, "%s=%s\n", k, v)
		}
	}
	return buf.String()
}

func needsQuoting(s string) bool {
	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '"', '\'', '\\', '#', '$', '=':
			return true
		}
	}
	return false
}
