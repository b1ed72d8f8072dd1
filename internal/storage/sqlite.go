package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/org/envvault/pkg/models"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteBackend is a Backend stored in a single SQLite file. It is meant for
// single-node deployments and the CLI's local mode.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// NewSQLiteBackend wraps an already configured handle. The schema is not applied.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (s *SQLiteBackend) Close() {
	s.db.Close() //nolint:errcheck
}

func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrAlreadyExists
		case sqlite3.ErrConstraintForeignKey:
			return ErrNotFound
		}
	}
	return err
}

// --- Tenancy ---

func (s *SQLiteBackend) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Slug, ws.CreatedAt,
	)
	return sqliteError(err)
}

func (s *SQLiteBackend) GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at FROM workspaces WHERE slug = ?`, slug,
	).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.CreatedAt)
	if err != nil {
		return nil, sqliteError(err)
	}
	return &ws, nil
}

func (s *SQLiteBackend) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, workspace_id, name, slug, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, p.Slug, p.CreatedAt,
	)
	return sqliteError(err)
}

func (s *SQLiteBackend) GetProjectBySlug(ctx context.Context, workspaceID, slug string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, slug, created_at FROM projects WHERE workspace_id = ? AND slug = ?`,
		workspaceID, slug,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Slug, &p.CreatedAt)
	if err != nil {
		return nil, sqliteError(err)
	}
	return &p, nil
}

func (s *SQLiteBackend) CreateEnvironment(ctx context.Context, env *models.Environment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO environments (id, project_id, name, slug, created_at) VALUES (?, ?, ?, ?, ?)`,
		env.ID, env.ProjectID, env.Name, env.Slug, env.CreatedAt,
	)
	return sqliteError(err)
}

func (s *SQLiteBackend) GetEnvironmentBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error) {
	var env models.Environment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, slug, created_at FROM environments WHERE project_id = ? AND slug = ?`,
		projectID, slug,
	).Scan(&env.ID, &env.ProjectID, &env.Name, &env.Slug, &env.CreatedAt)
	if err != nil {
		return nil, sqliteError(err)
	}
	return &env, nil
}

func (s *SQLiteBackend) ListEnvironments(ctx context.Context, projectID string) ([]*models.Environment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, slug, created_at FROM environments WHERE project_id = ? ORDER BY slug`,
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

func (s *SQLiteBackend) CreateEntity(ctx context.Context, e *models.Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Name, e.Slug, e.ProjectID, e.Note, string(e.RotateAfter),
		e.RotateAt, e.LastUpdatedByID, e.CreatedAt, e.UpdatedAt,
	)
	return sqliteError(err)
}

func (s *SQLiteBackend) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	return e, sqliteError(err)
}

func (s *SQLiteBackend) GetEntityBySlug(ctx context.Context, projectID string, kind models.Kind, slug string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = ? AND kind = ? AND slug = ?`,
		projectID, string(kind), slug))
	return e, sqliteError(err)
}

func (s *SQLiteBackend) UpdateEntity(ctx context.Context, e *models.Entity) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities
		 SET name = ?, slug = ?, note = ?, rotate_after = ?, rotate_at = ?,
		     last_updated_by_id = ?, updated_at = ?
		 WHERE id = ?`,
		e.Name, e.Slug, e.Note, string(e.RotateAfter), e.RotateAt, e.LastUpdatedByID, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return sqliteError(err)
	}
	return requireRow(res)
}

func (s *SQLiteBackend) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteBackend) ListEntities(ctx context.Context, f EntityFilter) ([]*models.Entity, int, error) {
	countQ, listQ, err := entityQueries(dialectSQLite, f)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQ.String(), countQ.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, listQ.String(), listQ.args...)
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

// ListDueForRotation compares timestamps as text, which orders correctly because
// every time is written in UTC with the driver's fixed layout.
func (s *SQLiteBackend) ListDueForRotation(ctx context.Context, asOf time.Time) ([]*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE rotate_at IS NOT NULL AND rotate_after <> 'never' AND rotate_at <= ?
		 ORDER BY rotate_at, id`,
		asOf.UTC(),
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

// AppendRevision reads the pair's max version and inserts max+1 in one transaction.
// A unique-constraint failure on the version means another writer won; it is
// reported as ErrConflict.
func (s *SQLiteBackend) AppendRevision(ctx context.Context, rev *models.Revision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var maxVer int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM revisions WHERE entity_id = ? AND environment_id = ?`,
		rev.EntityID, rev.EnvironmentID,
	).Scan(&maxVer)
	if err != nil {
		return fmt.Errorf("fetching max version: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (entity_id, environment_id, version, value, created_at, created_by_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rev.EntityID, rev.EnvironmentID, maxVer+1, rev.Value, rev.CreatedAt, rev.CreatedByID,
	)
	if err != nil {
		switch mapped := sqliteError(err); mapped {
		case ErrAlreadyExists:
			return ErrConflict
		case ErrNotFound:
			return ErrNotFound
		}
		return fmt.Errorf("inserting revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rev.ID = id
	rev.Version = maxVer + 1
	return nil
}

func (s *SQLiteBackend) GetRevision(ctx context.Context, entityID, environmentID string, version int) (*models.Revision, error) {
	r, err := scanRevision(s.db.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions
		 WHERE entity_id = ? AND environment_id = ? AND version = ?`,
		entityID, environmentID, version))
	return r, sqliteError(err)
}

func (s *SQLiteBackend) GetHeadRevision(ctx context.Context, entityID, environmentID string) (*models.Revision, error) {
	r, err := scanRevision(s.db.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions
		 WHERE entity_id = ? AND environment_id = ?
		 ORDER BY version DESC LIMIT 1`,
		entityID, environmentID))
	return r, sqliteError(err)
}

func (s *SQLiteBackend) ListRevisions(ctx context.Context, f RevisionFilter) ([]*models.Revision, int, error) {
	q, err := revisionListQuery(dialectSQLite, f)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revisions WHERE entity_id = ? AND environment_id = ?`,
		f.EntityID, f.EnvironmentID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
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

func (s *SQLiteBackend) DeleteRevisions(ctx context.Context, entityID, environmentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revisions WHERE entity_id = ? AND environment_id = ?`,
		entityID, environmentID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Tokens ---

func (s *SQLiteBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	policies, err := json.Marshal(token.Policies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, token_hash, display_name, policies, ttl_seconds, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = excluded.display_name,
		     policies = excluded.policies,
		     ttl_seconds = excluded.ttl_seconds,
		     expires_at = excluded.expires_at`,
		token.ID, tokenHash, token.DisplayName, string(policies),
		int64(token.TTL.Seconds()), token.CreatedAt, nullableTime(token.ExpiresAt),
	)
	return sqliteError(err)
}

func (s *SQLiteBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	var t models.Token
	var policies string
	var ttlSec int64
	var expiresAt *time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, policies, ttl_seconds, created_at, expires_at, revoked_at
		 FROM tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&t.ID, &t.DisplayName, &policies, &ttlSec, &t.CreatedAt, &expiresAt, &t.RevokedAt)
	if err != nil {
		return nil, sqliteError(err)
	}
	if err := json.Unmarshal([]byte(policies), &t.Policies); err != nil {
		return nil, fmt.Errorf("decoding token policies: %w", err)
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (s *SQLiteBackend) RevokeToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ?`, time.Now().UTC(), tokenID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Policies ---

func (s *SQLiteBackend) WritePolicy(ctx context.Context, policy *models.Policy) error {
	rulesJSON, err := json.Marshal(policy.Rules)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policies (name, rules, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET rules = excluded.rules, updated_at = excluded.updated_at`,
		policy.Name, string(rulesJSON), now, now,
	)
	return err
}

func (s *SQLiteBackend) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	var pol models.Policy
	var rulesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, rules, created_at, updated_at FROM policies WHERE name = ?`, name,
	).Scan(&pol.Name, &rulesJSON, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		return nil, sqliteError(err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &pol.Rules); err != nil {
		return nil, err
	}
	return &pol, nil
}

func (s *SQLiteBackend) DeletePolicy(ctx context.Context, name string) error {
	if name == PolicyRoot || name == PolicyDefault {
		return errBuiltinPolicy
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE name = ?`, name)
	return err
}

func (s *SQLiteBackend) ListPolicies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM policies ORDER BY name`)
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

func (s *SQLiteBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metaJSON = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor_id, operation, resource, outcome, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Timestamp, entry.ActorID, entry.Operation, entry.Resource,
		entry.Outcome, string(metaJSON),
	)
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteBackend) QueryAuditLog(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, int, error) {
	countQ, listQ := auditQueries(dialectSQLite, f)
	var total int
	if err := s.db.QueryRowContext(ctx, countQ.String(), countQ.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, listQ.String(), listQ.args...)
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
