package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/envvault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrConflict is returned when a revision insert loses a race for its version number.
// Nothing was written; the append can be retried.
var ErrConflict = errors.New("revision version conflict")

// Backend defines the persistence interface for the value store.
type Backend interface {
	// Tenancy
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error)
	CreateProject(ctx context.Context, p *models.Project) error
	GetProjectBySlug(ctx context.Context, workspaceID, slug string) (*models.Project, error)
	CreateEnvironment(ctx context.Context, env *models.Environment) error
	GetEnvironmentBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error)
	ListEnvironments(ctx context.Context, projectID string) ([]*models.Environment, error)

	// Entities
	CreateEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	GetEntityBySlug(ctx context.Context, projectID string, kind models.Kind, slug string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, e *models.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	ListEntities(ctx context.Context, filter EntityFilter) ([]*models.Entity, int, error)
	ListDueForRotation(ctx context.Context, asOf time.Time) ([]*models.Entity, error)

	// Revisions
	AppendRevision(ctx context.Context, rev *models.Revision) error
	GetRevision(ctx context.Context, entityID, environmentID string, version int) (*models.Revision, error)
	GetHeadRevision(ctx context.Context, entityID, environmentID string) (*models.Revision, error)
	ListRevisions(ctx context.Context, filter RevisionFilter) ([]*models.Revision, int, error)
	DeleteRevisions(ctx context.Context, entityID, environmentID string) (int64, error)

	// Tokens
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error

	// Policies
	WritePolicy(ctx context.Context, policy *models.Policy) error
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)
	DeletePolicy(ctx context.Context, name string) error
	ListPolicies(ctx context.Context) ([]string, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, int, error)

	// Lifecycle
	Close()
}

// EntityFilter selects entities for a paginated listing. Search is a case-insensitive
// substring match on the entity name and is ANDed with the other fields.
type EntityFilter struct {
	ProjectID string
	Kind      models.Kind
	Search    string
	Sort      string // "name", "createdAt" or "updatedAt"
	Desc      bool
	Limit     int
	Offset    int
}

// RevisionFilter selects revisions of one (entity, environment) pair.
type RevisionFilter struct {
	EntityID      string
	EnvironmentID string
	Sort          string // "version" or "createdAt"
	Desc          bool
	Limit         int
	Offset        int
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Operation string
	Resource  string // prefix match
	Search    string
	Since     *time.Time
	Desc      bool
	Limit     int
	Offset    int
}

// Built-in policy names. They cannot be deleted.
const (
	PolicyRoot    = "root"
	PolicyDefault = "default"
)
