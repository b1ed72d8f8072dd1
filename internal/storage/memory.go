package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/pkg/models"
)

type revKey struct {
	entityID      string
	environmentID string
}

// MemoryBackend is a Backend held entirely in process memory. Every method takes the
// same mutex, which makes AppendRevision's read-max-then-insert atomic.
type MemoryBackend struct {
	mu           sync.RWMutex
	workspaces   map[string]*models.Workspace
	projects     map[string]*models.Project
	environments map[string]*models.Environment
	entities     map[string]*models.Entity
	revisions    map[revKey][]*models.Revision // ascending version
	tokens       map[string]*models.Token      // token hash → token
	tokenHashes  map[string]string             // token ID → token hash
	policies     map[string]*models.Policy
	audit        []*models.AuditEntry
	nextRevID    int64
	nextAuditID  int64
}

// NewMemoryBackend returns an empty backend seeded with the built-in policies.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		workspaces:   map[string]*models.Workspace{},
		projects:     map[string]*models.Project{},
		environments: map[string]*models.Environment{},
		entities:     map[string]*models.Entity{},
		revisions:    map[revKey][]*models.Revision{},
		tokens:       map[string]*models.Token{},
		tokenHashes:  map[string]string{},
		policies: map[string]*models.Policy{
			PolicyRoot: {
				Name:  PolicyRoot,
				Rules: map[string]models.PathRule{"*": {Authorities: []models.Authority{models.AuthSudo}}},
			},
			PolicyDefault: {Name: PolicyDefault, Rules: map[string]models.PathRule{}},
		},
	}
}

func (m *MemoryBackend) Close() {}

// --- Tenancy ---

func (m *MemoryBackend) CreateWorkspace(_ context.Context, ws *models.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workspaces {
		if w.Slug == ws.Slug {
			return ErrAlreadyExists
		}
	}
	cp := *ws
	m.workspaces[ws.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetWorkspaceBySlug(_ context.Context, slug string) (*models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workspaces {
		if w.Slug == slug {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[p.WorkspaceID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.projects {
		if existing.WorkspaceID == p.WorkspaceID && existing.Slug == p.Slug {
			return ErrAlreadyExists
		}
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetProjectBySlug(_ context.Context, workspaceID, slug string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.WorkspaceID == workspaceID && p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) CreateEnvironment(_ context.Context, env *models.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[env.ProjectID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.environments {
		if existing.ProjectID == env.ProjectID && existing.Slug == env.Slug {
			return ErrAlreadyExists
		}
	}
	cp := *env
	m.environments[env.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetEnvironmentBySlug(_ context.Context, projectID, slug string) (*models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, env := range m.environments {
		if env.ProjectID == projectID && env.Slug == slug {
			cp := *env
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) ListEnvironments(_ context.Context, projectID string) ([]*models.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var envs []*models.Environment
	for _, env := range m.environments {
		if env.ProjectID == projectID {
			cp := *env
			envs = append(envs, &cp)
		}
	}
	slices.SortFunc(envs, func(a, b *models.Environment) int { return cmp.Compare(a.Slug, b.Slug) })
	return envs, nil
}

// --- Entities ---

func (m *MemoryBackend) CreateEntity(_ context.Context, e *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[e.ProjectID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.entities {
		if existing.ProjectID == e.ProjectID && existing.Kind == e.Kind && existing.Slug == e.Slug {
			return ErrAlreadyExists
		}
	}
	m.entities[e.ID] = cloneEntity(e)
	return nil
}

func (m *MemoryBackend) GetEntity(_ context.Context, id string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntity(e), nil
}

func (m *MemoryBackend) GetEntityBySlug(_ context.Context, projectID string, kind models.Kind, slug string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.ProjectID == projectID && e.Kind == kind && e.Slug == slug {
			return cloneEntity(e), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) UpdateEntity(_ context.Context, e *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[e.ID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.entities {
		if existing.ID != e.ID && existing.ProjectID == e.ProjectID && existing.Kind == e.Kind && existing.Slug == e.Slug {
			return ErrAlreadyExists
		}
	}
	m.entities[e.ID] = cloneEntity(e)
	return nil
}

func (m *MemoryBackend) DeleteEntity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return ErrNotFound
	}
	delete(m.entities, id)
	for k := range m.revisions {
		if k.entityID == id {
			delete(m.revisions, k)
		}
	}
	return nil
}

func (m *MemoryBackend) ListEntities(_ context.Context, f EntityFilter) ([]*models.Entity, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Entity
	for _, e := range m.entities {
		if f.ProjectID != "" && e.ProjectID != f.ProjectID {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !pagination.MatchSearch(e.Name, f.Search) {
			continue
		}
		matched = append(matched, cloneEntity(e))
	}
	slices.SortFunc(matched, func(a, b *models.Entity) int {
		var c int
		switch f.Sort {
		case "createdAt":
			c = a.CreatedAt.Compare(b.CreatedAt)
		case "updatedAt":
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = cmp.Compare(a.Name, b.Name)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if f.Desc {
			return -c
		}
		return c
	})
	return pagination.Window(matched, f.Offset, f.Limit), len(matched), nil
}

func (m *MemoryBackend) ListDueForRotation(_ context.Context, asOf time.Time) ([]*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*models.Entity
	for _, e := range m.entities {
		if e.RotateAt != nil && e.RotateAfter != models.RotateNever && !e.RotateAt.After(asOf) {
			due = append(due, cloneEntity(e))
		}
	}
	slices.SortFunc(due, func(a, b *models.Entity) int {
		if c := a.RotateAt.Compare(*b.RotateAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return due, nil
}

// --- Revisions ---

func (m *MemoryBackend) AppendRevision(_ context.Context, rev *models.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[rev.EntityID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.environments[rev.EnvironmentID]; !ok {
		return ErrNotFound
	}
	k := revKey{rev.EntityID, rev.EnvironmentID}
	existing := m.revisions[k]
	maxVer := 0
	if n := len(existing); n > 0 {
		maxVer = existing[n-1].Version
	}
	m.nextRevID++
	rev.ID = m.nextRevID
	rev.Version = maxVer + 1
	cp := *rev
	m.revisions[k] = append(existing, &cp)
	return nil
}

func (m *MemoryBackend) GetRevision(_ context.Context, entityID, environmentID string, version int) (*models.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.revisions[revKey{entityID, environmentID}] {
		if r.Version == version {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) GetHeadRevision(_ context.Context, entityID, environmentID string) (*models.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.revisions[revKey{entityID, environmentID}]
	if len(revs) == 0 {
		return nil, ErrNotFound
	}
	cp := *revs[len(revs)-1]
	return &cp, nil
}

func (m *MemoryBackend) ListRevisions(_ context.Context, f RevisionFilter) ([]*models.Revision, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.revisions[revKey{f.EntityID, f.EnvironmentID}]
	out := make([]*models.Revision, 0, len(revs))
	for _, r := range revs {
		cp := *r
		out = append(out, &cp)
	}
	// Stored in version order. createdAt is stamped before the lock is taken, so it needs its own sort.
	if f.Sort == "createdAt" {
		slices.SortStableFunc(out, func(a, b *models.Revision) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}
	if f.Desc {
		slices.Reverse(out)
	}
	return pagination.Window(out, f.Offset, f.Limit), len(revs), nil
}

func (m *MemoryBackend) DeleteRevisions(_ context.Context, entityID, environmentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := revKey{entityID, environmentID}
	n := int64(len(m.revisions[k]))
	delete(m.revisions, k)
	return n, nil
}

// --- Tokens ---

func (m *MemoryBackend) WriteToken(_ context.Context, token *models.Token, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[tokenHash] = &cp
	m.tokenHashes[token.ID] = tokenHash
	return nil
}

func (m *MemoryBackend) GetToken(_ context.Context, tokenHash string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryBackend) RevokeToken(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.tokenHashes[tokenID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.tokens[hash].RevokedAt = &now
	return nil
}

// --- Policies ---

func (m *MemoryBackend) WritePolicy(_ context.Context, p *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	now := time.Now().UTC()
	if old, ok := m.policies[p.Name]; ok {
		cp.CreatedAt = old.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.policies[p.Name] = &cp
	return nil
}

func (m *MemoryBackend) GetPolicy(_ context.Context, name string) (*models.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryBackend) DeletePolicy(_ context.Context, name string) error {
	if name == PolicyRoot || name == PolicyDefault {
		return errBuiltinPolicy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, name)
	return nil
}

func (m *MemoryBackend) ListPolicies(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.policies))
	for n := range m.policies {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAuditID++
	e.ID = m.nextAuditID
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, f AuditFilter) ([]*models.AuditEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.AuditEntry
	for _, e := range m.audit {
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.Resource != "" && !strings.HasPrefix(e.Resource, f.Resource) {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if !pagination.MatchSearch(e.Resource, f.Search) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	if f.Desc {
		slices.Reverse(matched)
	}
	return pagination.Window(matched, f.Offset, f.Limit), len(matched), nil
}

func cloneEntity(e *models.Entity) *models.Entity {
	cp := *e
	if e.Note != nil {
		n := *e.Note
		cp.Note = &n
	}
	if e.RotateAt != nil {
		t := *e.RotateAt
		cp.RotateAt = &t
	}
	return &cp
}
