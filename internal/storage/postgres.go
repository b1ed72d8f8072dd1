package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/envvault/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// pgError maps driver errors onto the package sentinels.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "23503":
			return ErrNotFound
		}
	}
	return err
}

// --- Tenancy ---

func (p *PostgresBackend) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO workspaces (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		ws.ID, ws.Name, ws.Slug, ws.CreatedAt,
	)
	return pgError(err)
}

func (p *PostgresBackend) GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	var ws models.Workspace
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM workspaces WHERE slug = $1`, slug,
	).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &ws, nil
}

func (p *PostgresBackend) CreateProject(ctx context.Context, proj *models.Project) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO projects (id, workspace_id, name, slug, created_at) VALUES ($1, $2, $3, $4, $5)`,
		proj.ID, proj.WorkspaceID, proj.Name, proj.Slug, proj.CreatedAt,
	)
	return pgError(err)
}

func (p *PostgresBackend) GetProjectBySlug(ctx context.Context, workspaceID, slug string) (*models.Project, error) {
	var proj models.Project
	err := p.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, slug, created_at FROM projects WHERE workspace_id = $1 AND slug = $2`,
		workspaceID, slug,
	).Scan(&proj.ID, &proj.WorkspaceID, &proj.Name, &proj.Slug, &proj.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &proj, nil
}

func (p *PostgresBackend) CreateEnvironment(ctx context.Context, env *models.Environment) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO environments (id, project_id, name, slug, created_at) VALUES ($1, $2, $3, $4, $5)`,
		env.ID, env.ProjectID, env.Name, env.Slug, env.CreatedAt,
	)
	return pgError(err)
}

func (p *PostgresBackend) GetEnvironmentBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error) {
	var env models.Environment
	err := p.pool.QueryRow(ctx,
		`SELECT id, project_id, name, slug, created_at FROM environments WHERE project_id = $1 AND slug = $2`,
		projectID, slug,
	).Scan(&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &env, nil
}

func (p *PostgresBackend) ListEnvironments(ctx context.Context, projectID string) ([]*models.Environment, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, project_id, name, slug, created_at FROM environments WHERE project_id = $1 ORDER BY slug`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var envs []*models.Environment
	for rows.Next() {
		var env models.Environment
		if err := rows.Scan(&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.CreatedAt); err != nil {
			return nil, err
		}
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}

// --- Entities ---

func (p *PostgresBackend) CreateEntity(ctx context.Context, e *models.Entity) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, string(e.Kind), e.Name, e.Slug, e.ProjectID, e.Note, string(e.RotateAfter),
		e.RotateAt, e.LastUpdatedByID, e.CreatedAt, e.UpdatedAt,
	)
	return pgError(err)
}

func (p *PostgresBackend) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	e, err := scanEntity(p.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	return e, pgError(err)
}

func (p *PostgresBackend) GetEntityBySlug(ctx context.Context, projectID string, kind models.Kind, slug string) (*models.Entity, error) {
	e, err := scanEntity(p.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = $1 AND kind = $2 AND slug = $3`,
		projectID, string(kind), slug))
	return e, pgError(err)
}

func (p *PostgresBackend) UpdateEntity(ctx context.Context, e *models.Entity) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE entities
		 SET name = $2, slug = $3, note = $4, rotate_after = $5, rotate_at = $6,
		     last_updated_by_id = $7, updated_at = $8
		 WHERE id = $1`,
		e.ID, e.Name, e.Slug, e.Note, string(e.RotateAfter), e.RotateAt, e.LastUpdatedByID, e.UpdatedAt,
	)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) DeleteEntity(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) ListEntities(ctx context.Context, f EntityFilter) ([]*models.Entity, int, error) {
	countQ, listQ, err := entityQueries(dialectPostgres, f)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := p.pool.QueryRow(ctx, countQ.String(), countQ.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := p.pool.Query(ctx, listQ.String(), listQ.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (p *PostgresBackend) ListDueForRotation(ctx context.Context, asOf time.Time) ([]*models.Entity, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE rotate_at IS NOT NULL AND rotate_after <> 'never' AND rotate_at <= $1
		 ORDER BY rotate_at, id`,
		asOf,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Revisions ---

// AppendRevision assigns rev the next version of its pair and inserts it in one
// transaction. Two writers that read the same max collide on the unique
// (entity_id, environment_id, version) index; the loser gets ErrConflict.
func (p *PostgresBackend) AppendRevision(ctx context.Context, rev *models.Revision) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var maxVer int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM revisions WHERE entity_id = $1 AND environment_id = $2`,
		rev.EntityID, rev.EnvironmentID,
	).Scan(&maxVer)
	if err != nil {
		return fmt.Errorf("fetching max version: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO revisions (entity_id, environment_id, version, value, created_at, created_by_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rev.EntityID, rev.EnvironmentID, maxVer+1, rev.Value, rev.CreatedAt, rev.CreatedByID,
	).Scan(&id)
	if err != nil {
		if mapped := pgError(err); mapped == ErrAlreadyExists {
			return ErrConflict
		} else if mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("inserting revision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if pgError(err) == ErrAlreadyExists {
			return ErrConflict
		}
		return err
	}
	rev.ID = id
	rev.Version = maxVer + 1
	return nil
}

func (p *PostgresBackend) GetRevision(ctx context.Context, entityID, environmentID string, version int) (*models.Revision, error) {
	r, err := scanRevision(p.pool.QueryRow(ctx,
		`SELECT `+revisionColumns+` FROM revisions
		 WHERE entity_id = $1 AND environment_id = $2 AND version = $3`,
		entityID, environmentID, version))
	return r, pgError(err)
}

func (p *PostgresBackend) GetHeadRevision(ctx context.Context, entityID, environmentID string) (*models.Revision, error) {
	r, err := scanRevision(p.pool.QueryRow(ctx,
		`SELECT `+revisionColumns+` FROM revisions
		 WHERE entity_id = $1 AND environment_id = $2
		 ORDER BY version DESC LIMIT 1`,
		entityID, environmentID))
	return r, pgError(err)
}

func (p *PostgresBackend) ListRevisions(ctx context.Context, f RevisionFilter) ([]*models.Revision, int, error) {
	q, err := revisionListQuery(dialectPostgres, f)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM revisions WHERE entity_id = $1 AND environment_id = $2`,
		f.EntityID, f.EnvironmentID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := p.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*models.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (p *PostgresBackend) DeleteRevisions(ctx context.Context, entityID, environmentID string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM revisions WHERE entity_id = $1 AND environment_id = $2`,
		entityID, environmentID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Tokens ---

// WriteToken persists a token under the SHA-256 hash of its plaintext.
func (p *PostgresBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, display_name, policies, ttl_seconds, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     policies = EXCLUDED.policies,
		     ttl_seconds = EXCLUDED.ttl_seconds,
		     expires_at = EXCLUDED.expires_at`,
		token.ID, tokenHash, token.DisplayName, token.Policies,
		int64(token.TTL.Seconds()), token.CreatedAt, nullableTime(token.ExpiresAt),
	)
	return pgError(err)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var t models.Token
	var ttlSec int64
	var expiresAt *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT id, display_name, policies, ttl_seconds, created_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.ID, &t.DisplayName, &t.Policies, &ttlSec, &t.CreatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		return nil, pgError(err)
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *PostgresBackend) RevokeToken(ctx context.Context, tokenID string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE tokens SET revoked_at = NOW() WHERE id = $1`, tokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Policies ---

func (p *PostgresBackend) WritePolicy(ctx context.Context, policy *models.Policy) error {
	rulesJSON, err := json.Marshal(policy.Rules)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO policies (name, rules, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (name) DO UPDATE SET rules = EXCLUDED.rules, updated_at = NOW()`,
		policy.Name, rulesJSON,
	)
	return err
}

func (p *PostgresBackend) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	var pol models.Policy
	var rulesJSON []byte
	err := p.pool.QueryRow(ctx,
		`SELECT name, rules, created_at, updated_at FROM policies WHERE name = $1`, name,
	).Scan(&pol.Name, &rulesJSON, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	if err := json.Unmarshal(rulesJSON, &pol.Rules); err != nil {
		return nil, err
	}
	return &pol, nil
}

func (p *PostgresBackend) DeletePolicy(ctx context.Context, name string) error {
	if name == PolicyRoot || name == PolicyDefault {
		return errBuiltinPolicy
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM policies WHERE name = $1`, name)
	return err
}

func (p *PostgresBackend) ListPolicies(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM policies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metaJSON = []byte("{}")
	}
	return p.pool.QueryRow(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor_id, operation, resource, outcome, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		entry.RequestID, entry.Timestamp, entry.ActorID, entry.Operation, entry.Resource,
		entry.Outcome, metaJSON,
	).Scan(&entry.ID)
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, int, error) {
	countQ, listQ := auditQueries(dialectPostgres, f)
	var total int
	if err := p.pool.QueryRow(ctx, countQ.String(), countQ.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := p.pool.Query(ctx, listQ.String(), listQ.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func scanAuditEntry(s rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var metaJSON []byte
	if err := s.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.ActorID, &e.Operation,
		&e.Resource, &e.Outcome, &metaJSON); err != nil {
		return nil, err
	}
	json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
	return &e, nil
}
