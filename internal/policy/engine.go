// Package policy is the authorization gate in front of the value-store engine.
//
// Policies map path globs to authorities. A path names a target by slugs:
//
//	<workspace>/<project>/<secrets|variables>[/<entity>]
//	sys/<area>
//
// Authorize checks a principal's policies against such a path and, on success, returns a
// Grant that engine calls take as proof of authorization.
package policy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// PolicyGetter is the minimal interface the Engine needs to evaluate policies.
type PolicyGetter interface {
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)
}

// Store adds the slug lookups needed to resolve a Ref.
type Store interface {
	PolicyGetter
	GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error)
	GetProjectBySlug(ctx context.Context, workspaceID, slug string) (*models.Project, error)
}

// Principal is an authenticated caller.
type Principal struct {
	ID       string
	Policies []string
}

// Ref names the target of an engine call by slugs. Entity is empty for
// project-level operations such as create and list.
type Ref struct {
	Workspace string
	Project   string
	Kind      models.Kind
	Entity    string
}

// Path renders the ref in policy path form.
func (r Ref) Path() string {
	p := r.Workspace + "/" + r.Project + "/" + r.Kind.Plural()
	if r.Entity != "" {
		p += "/" + r.Entity
	}
	return p
}

// Engine evaluates access policies and resolves refs.
type Engine struct {
	store Store
}

// NewEngine creates a new policy Engine backed by the given storage.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Authorize approves principal for every required authority on ref and resolves the
// workspace and project it names. Authorization is checked before resolution, so a
// caller without access learns nothing about which slugs exist.
func (e *Engine) Authorize(ctx context.Context, principal Principal, ref Ref, required ...models.Authority) (*Grant, error) {
	if !ref.Kind.Valid() {
		return nil, errs.Validation("unknown entity kind %q", ref.Kind)
	}
	granted := e.EffectiveAuthorities(ctx, principal.Policies, ref.Path())
	if missing := missingAuthorities(granted, required); len(missing) > 0 {
		return nil, errs.Unauthorized("%s lacks %s on %s", principal.ID, joinAuthorities(missing), ref.Path())
	}

	ws, err := e.store.GetWorkspaceBySlug(ctx, ref.Workspace)
	if err != nil {
		return nil, lookupError(err, "workspace %q", ref.Workspace)
	}
	proj, err := e.store.GetProjectBySlug(ctx, ws.ID, ref.Project)
	if err != nil {
		return nil, lookupError(err, "project %q", ref.Project)
	}
	return &Grant{
		Principal:   principal,
		Workspace:   ws,
		Project:     proj,
		Ref:         ref,
		authorities: granted,
	}, nil
}

// AuthorizePath checks principal against a path that does not name an entity, such as
// sys/audit.
func (e *Engine) AuthorizePath(ctx context.Context, principal Principal, reqPath string, required ...models.Authority) error {
	granted := e.EffectiveAuthorities(ctx, principal.Policies, reqPath)
	if missing := missingAuthorities(granted, required); len(missing) > 0 {
		return errs.Unauthorized("%s lacks %s on %s", principal.ID, joinAuthorities(missing), reqPath)
	}
	return nil
}

func lookupError(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("%s not found", what)
	}
	return fmt.Errorf("resolving %s: %w", what, err)
}

// IsAllowed returns true if any of the policies grant the authority on the path.
func (e *Engine) IsAllowed(ctx context.Context, policies []string, authority models.Authority, reqPath string) bool {
	for _, policyName := range policies {
		pol, err := e.store.GetPolicy(ctx, policyName)
		if err != nil || pol == nil {
			continue
		}
		if policyAllows(pol, authority, reqPath) {
			return true
		}
	}
	return false
}

// EffectiveAuthorities returns every authority granted on reqPath across the policies.
// A sudo grant is kept as AuthSudo and satisfies any check.
func (e *Engine) EffectiveAuthorities(ctx context.Context, policies []string, reqPath string) map[models.Authority]bool {
	set := map[models.Authority]bool{}
	for _, policyName := range policies {
		pol, err := e.store.GetPolicy(ctx, policyName)
		if err != nil || pol == nil {
			continue
		}
		for pattern, rule := range pol.Rules {
			if MatchPath(pattern, reqPath) {
				for _, a := range rule.Authorities {
					set[a] = true
				}
			}
		}
	}
	return set
}

func policyAllows(pol *models.Policy, authority models.Authority, reqPath string) bool {
	for pattern, rule := range pol.Rules {
		if MatchPath(pattern, reqPath) && rule.Grants(authority) {
			return true
		}
	}
	return false
}

func missingAuthorities(granted map[models.Authority]bool, required []models.Authority) []models.Authority {
	if granted[models.AuthSudo] {
		return nil
	}
	var missing []models.Authority
	for _, a := range required {
		if !granted[a] {
			missing = append(missing, a)
		}
	}
	return missing
}

func joinAuthorities(as []models.Authority) string {
	s := make([]string, len(as))
	for i, a := range as {
		s[i] = string(a)
	}
	slices.Sort(s)
	return strings.Join(s, ", ")
}

// MatchPath matches reqPath against a glob pattern:
//   - "acme/api/*"  matches one additional path segment
//   - "acme/**"     matches any number of segments, including zero
//   - "*"           matches every path (root policy)
func MatchPath(pattern, reqPath string) bool {
	pattern = strings.Trim(pattern, "/")
	reqPath = strings.Trim(reqPath, "/")

	if pattern == "*" {
		return true
	}

	if prefix, suffix, ok := strings.Cut(pattern, "**"); ok {
		if !strings.HasPrefix(reqPath+"/", prefix) {
			return false
		}
		suffix = strings.TrimPrefix(suffix, "/")
		if suffix == "" {
			return true
		}
		return strings.HasSuffix(reqPath, suffix)
	}

	matched, err := path.Match(pattern, reqPath)
	return err == nil && matched
}
