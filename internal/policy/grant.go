package policy

import (
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/pkg/models"
)

// Grant is the authorized context an engine call runs under. It is only produced by
// Engine.Authorize; engine methods trust its workspace and project.
type Grant struct {
	Principal Principal
	Workspace *models.Workspace
	Project   *models.Project
	Ref       Ref

	authorities map[models.Authority]bool
}

// ActorID identifies the principal in revisions and audit entries.
func (g *Grant) ActorID() string {
	return g.Principal.ID
}

// Allows reports whether the grant carries authority a.
func (g *Grant) Allows(a models.Authority) bool {
	return g.authorities[a] || g.authorities[models.AuthSudo]
}

// Require fails with an unauthorized error unless the grant carries every authority in as.
func (g *Grant) Require(as ...models.Authority) error {
	if g == nil {
		return errs.Unauthorized("no authorization grant")
	}
	if missing := missingAuthorities(g.authorities, as); len(missing) > 0 {
		return errs.Unauthorized("%s lacks %s on %s", g.Principal.ID, joinAuthorities(missing), g.Ref.Path())
	}
	return nil
}

// NewGrant builds a grant without consulting policies. It exists for trusted in-process
// callers, such as the local CLI mode and tests, that already own the project.
func NewGrant(principal Principal, ws *models.Workspace, proj *models.Project, kind models.Kind, authorities ...models.Authority) *Grant {
	set := make(map[models.Authority]bool, len(authorities))
	for _, a := range authorities {
		set[a] = true
	}
	return &Grant{
		Principal:   principal,
		Workspace:   ws,
		Project:     proj,
		Ref:         Ref{Workspace: ws.Slug, Project: proj.Slug, Kind: kind},
		authorities: set,
	}
}
