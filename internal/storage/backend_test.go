package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/pkg/models"
)

// fixture is a workspace with one project and two environments.
type fixture struct {
	ws   *models.Workspace
	proj *models.Project
	dev  *models.Environment
	prod *models.Environment
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seed(t *testing.T, b Backend) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		ws:   &models.Workspace{ID: "ws-1", Name: "Acme", Slug: "acme", CreatedAt: epoch},
		proj: &models.Project{ID: "proj-1", WorkspaceID: "ws-1", Name: "API", Slug: "api", CreatedAt: epoch},
		dev:  &models.Environment{ID: "env-dev", ProjectID: "proj-1", Name: "Development", Slug: "dev", CreatedAt: epoch},
		prod: &models.Environment{ID: "env-prod", ProjectID: "proj-1", Name: "Production", Slug: "prod", CreatedAt: epoch},
	}
	require.NoError(t, b.CreateWorkspace(ctx, f.ws))
	require.NoError(t, b.CreateProject(ctx, f.proj))
	require.NoError(t, b.CreateEnvironment(ctx, f.dev))
	require.NoError(t, b.CreateEnvironment(ctx, f.prod))
	return f
}

func newEntity(id, name string, kind models.Kind, at time.Time) *models.Entity {
	return &models.Entity{
		ID:              id,
		Kind:            kind,
		Name:            name,
		Slug:            name,
		ProjectID:       "proj-1",
		RotateAfter:     models.RotateNever,
		LastUpdatedByID: "user-1",
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "envvault.db"))
			require.NoError(t, err)
			t.Cleanup(b.Close)
			return b
		},
	}
}

func TestBackend_Tenancy(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			f := seed(t, b)

			ws, err := b.GetWorkspaceBySlug(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, f.ws.ID, ws.ID)

			proj, err := b.GetProjectBySlug(ctx, ws.ID, "api")
			require.NoError(t, err)
			assert.Equal(t, f.proj.ID, proj.ID)

			_, err = b.GetProjectBySlug(ctx, ws.ID, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			envs, err := b.ListEnvironments(ctx, proj.ID)
			require.NoError(t, err)
			require.Len(t, envs, 2)
			assert.Equal(t, "dev", envs[0].Slug)
			assert.Equal(t, "prod", envs[1].Slug)

			dup := &models.Environment{ID: "env-dup", ProjectID: proj.ID, Name: "Dev again", Slug: "dev", CreatedAt: epoch}
			assert.ErrorIs(t, b.CreateEnvironment(ctx, dup), ErrAlreadyExists)
		})
	}
}

func TestBackend_EntityLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			seed(t, b)

			e := newEntity("ent-1", "api-key", models.KindSecret, epoch)
			require.NoError(t, b.CreateEntity(ctx, e))

			// Same slug is allowed for the other kind but not for the same kind.
			require.NoError(t, b.CreateEntity(ctx, newEntity("ent-2", "api-key", models.KindVariable, epoch)))
			assert.ErrorIs(t, b.CreateEntity(ctx, newEntity("ent-3", "api-key", models.KindSecret, epoch)), ErrAlreadyExists)

			got, err := b.GetEntityBySlug(ctx, "proj-1", models.KindSecret, "api-key")
			require.NoError(t, err)
			assert.Equal(t, "ent-1", got.ID)
			assert.Nil(t, got.Note)
			assert.Nil(t, got.RotateAt)

			note := "rotated by ops"
			rotateAt := epoch.Add(24 * time.Hour)
			got.Note = &note
			got.RotateAfter = models.Rotate24h
			got.RotateAt = &rotateAt
			got.UpdatedAt = epoch.Add(time.Minute)
			require.NoError(t, b.UpdateEntity(ctx, got))

			again, err := b.GetEntity(ctx, "ent-1")
			require.NoError(t, err)
			require.NotNil(t, again.Note)
			assert.Equal(t, note, *again.Note)
			assert.Equal(t, models.Rotate24h, again.RotateAfter)
			require.NotNil(t, again.RotateAt)
			assert.True(t, again.RotateAt.Equal(rotateAt))

			missing := newEntity("nope", "nope", models.KindSecret, epoch)
			assert.ErrorIs(t, b.UpdateEntity(ctx, missing), ErrNotFound)

			require.NoError(t, b.DeleteEntity(ctx, "ent-1"))
			_, err = b.GetEntity(ctx, "ent-1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, b.DeleteEntity(ctx, "ent-1"), ErrNotFound)
		})
	}
}

func TestBackend_AppendRevisionNumbersPerPair(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			f := seed(t, b)
			require.NoError(t, b.CreateEntity(ctx, newEntity("ent-1", "api-key", models.KindSecret, epoch)))

			for i := 1; i <= 3; i++ {
				rev := &models.Revision{EntityID: "ent-1", EnvironmentID: f.dev.ID, Value: fmt.Sprintf("v%d", i), CreatedAt: epoch, CreatedByID: "user-1"}
				require.NoError(t, b.AppendRevision(ctx, rev))
				assert.Equal(t, i, rev.Version)
			}
			prodRev := &models.Revision{EntityID: "ent-1", EnvironmentID: f.prod.ID, Value: "p1", CreatedAt: epoch, CreatedByID: "user-1"}
			require.NoError(t, b.AppendRevision(ctx, prodRev))
			assert.Equal(t, 1, prodRev.Version)

			head, err := b.GetHeadRevision(ctx, "ent-1", f.dev.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, head.Version)
			assert.Equal(t, "v3", head.Value)

			v2, err := b.GetRevision(ctx, "ent-1", f.dev.ID, 2)
			require.NoError(t, err)
			assert.Equal(t, "v2", v2.Value)

			_, err = b.GetRevision(ctx, "ent-1", f.dev.ID, 9)
			assert.ErrorIs(t, err, ErrNotFound)

			revs, total, err := b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID, Desc: true, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, revs, 2)
			assert.Equal(t, 3, revs[0].Version)
			assert.Equal(t, 2, revs[1].Version)

			revs, _, err = b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID, Desc: true, Limit: 2, Offset: 2})
			require.NoError(t, err)
			require.Len(t, revs, 1)
			assert.Equal(t, 1, revs[0].Version)

			n, err := b.DeleteRevisions(ctx, "ent-1", f.dev.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)
			_, err = b.GetHeadRevision(ctx, "ent-1", f.dev.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			// The other environment is untouched.
			head, err = b.GetHeadRevision(ctx, "ent-1", f.prod.ID)
			require.NoError(t, err)
			assert.Equal(t, "p1", head.Value)
		})
	}
}

func TestBackend_ListRevisionsByCreatedAt(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			f := seed(t, b)
			require.NoError(t, b.CreateEntity(ctx, newEntity("ent-1", "api-key", models.KindSecret, epoch)))

			// Concurrent writers can stamp createdAt out of version order.
			for _, h := range []int{2, 1, 3} {
				rev := &models.Revision{EntityID: "ent-1", EnvironmentID: f.dev.ID, Value: fmt.Sprintf("h%d", h), CreatedAt: epoch.Add(time.Duration(h) * time.Hour), CreatedByID: "user-1"}
				require.NoError(t, b.AppendRevision(ctx, rev))
			}

			revs, total, err := b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID, Sort: "createdAt"})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, revs, 3)
			assert.Equal(t, []int{2, 1, 3}, []int{revs[0].Version, revs[1].Version, revs[2].Version})

			revs, _, err = b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID, Sort: "createdAt", Desc: true, Limit: 1})
			require.NoError(t, err)
			require.Len(t, revs, 1)
			assert.Equal(t, "h3", revs[0].Value)
		})
	}
}

func TestBackend_AppendRevisionUnknownEntity(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			f := seed(t, b)
			rev := &models.Revision{EntityID: "ghost", EnvironmentID: f.dev.ID, Value: "x", CreatedAt: epoch, CreatedByID: "user-1"}
			assert.ErrorIs(t, b.AppendRevision(context.Background(), rev), ErrNotFound)
		})
	}
}

func TestBackend_DeleteEntityCascadesRevisions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			f := seed(t, b)
			require.NoError(t, b.CreateEntity(ctx, newEntity("ent-1", "api-key", models.KindSecret, epoch)))
			require.NoError(t, b.AppendRevision(ctx, &models.Revision{EntityID: "ent-1", EnvironmentID: f.dev.ID, Value: "a", CreatedAt: epoch, CreatedByID: "u"}))

			require.NoError(t, b.DeleteEntity(ctx, "ent-1"))
			_, total, err := b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID})
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestBackend_ConcurrentAppendsHaveNoGaps(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			f := seed(t, b)
			require.NoError(t, b.CreateEntity(ctx, newEntity("ent-1", "api-key", models.KindSecret, epoch)))

			const writers = 20
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rev := &models.Revision{EntityID: "ent-1", EnvironmentID: f.dev.ID, Value: fmt.Sprint(i), CreatedAt: epoch, CreatedByID: "u"}
					errs <- b.AppendRevision(ctx, rev)
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			revs, total, err := b.ListRevisions(ctx, RevisionFilter{EntityID: "ent-1", EnvironmentID: f.dev.ID})
			require.NoError(t, err)
			require.Equal(t, writers, total)
			for i, r := range revs {
				assert.Equal(t, i+1, r.Version)
			}
		})
	}
}

func TestBackend_ListEntities(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			seed(t, b)
			names := []string{"database-url", "api-key", "stripe-key", "redis-url"}
			for i, n := range names {
				require.NoError(t, b.CreateEntity(ctx, newEntity(fmt.Sprintf("ent-%d", i), n, models.KindSecret, epoch.Add(time.Duration(i)*time.Hour))))
			}
			require.NoError(t, b.CreateEntity(ctx, newEntity("var-1", "log-level", models.KindVariable, epoch)))

			got, total, err := b.ListEntities(ctx, EntityFilter{ProjectID: "proj-1", Kind: models.KindSecret, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, 4, total)
			require.Len(t, got, 2)
			assert.Equal(t, "api-key", got[0].Name)
			assert.Equal(t, "database-url", got[1].Name)

			got, total, err = b.ListEntities(ctx, EntityFilter{ProjectID: "proj-1", Kind: models.KindSecret, Search: "KEY"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, got, 2)
			assert.Equal(t, "api-key", got[0].Name)
			assert.Equal(t, "stripe-key", got[1].Name)

			got, _, err = b.ListEntities(ctx, EntityFilter{ProjectID: "proj-1", Kind: models.KindSecret, Sort: "createdAt", Desc: true, Limit: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "redis-url", got[0].Name)

			got, total, err = b.ListEntities(ctx, EntityFilter{ProjectID: "proj-1", Kind: models.KindSecret, Limit: 2, Offset: 4})
			require.NoError(t, err)
			assert.Equal(t, 4, total)
			assert.Empty(t, got)
		})
	}
}

func TestBackend_ListDueForRotation(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			seed(t, b)
			past := epoch.Add(-time.Hour)
			future := epoch.Add(time.Hour)

			due := newEntity("ent-due", "due", models.KindSecret, epoch)
			due.RotateAfter, due.RotateAt = models.Rotate24h, &past
			later := newEntity("ent-later", "later", models.KindSecret, epoch)
			later.RotateAfter, later.RotateAt = models.Rotate24h, &future
			never := newEntity("ent-never", "never", models.KindSecret, epoch)

			for _, e := range []*models.Entity{due, later, never} {
				require.NoError(t, b.CreateEntity(ctx, e))
			}

			got, err := b.ListDueForRotation(ctx, epoch)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "ent-due", got[0].ID)
		})
	}
}

func TestBackend_TokensAndPolicies(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)

			tok := &models.Token{ID: "tok-1", DisplayName: "ci", Policies: []string{"default", "deploy"}, CreatedAt: epoch}
			require.NoError(t, b.WriteToken(ctx, tok, "hash-1"))
			got, err := b.GetToken(ctx, "hash-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"default", "deploy"}, got.Policies)
			assert.False(t, got.IsRevoked())

			require.NoError(t, b.RevokeToken(ctx, "tok-1"))
			got, err = b.GetToken(ctx, "hash-1")
			require.NoError(t, err)
			assert.True(t, got.IsRevoked())

			_, err = b.GetToken(ctx, "unknown")
			assert.ErrorIs(t, err, ErrNotFound)

			root, err := b.GetPolicy(ctx, PolicyRoot)
			require.NoError(t, err)
			assert.True(t, root.Rules["*"].Grants(models.AuthDeleteSecret))

			deploy := &models.Policy{Name: "deploy", Rules: map[string]models.PathRule{
				"acme/api": {Authorities: []models.Authority{models.AuthReadSecret}},
			}}
			require.NoError(t, b.WritePolicy(ctx, deploy))
			names, err := b.ListPolicies(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"default", "deploy", "root"}, names)

			assert.Error(t, b.DeletePolicy(ctx, PolicyRoot))
			require.NoError(t, b.DeletePolicy(ctx, "deploy"))
			_, err = b.GetPolicy(ctx, "deploy")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackend_AuditLog(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			ops := []struct{ op, resource string }{
				{"secret.create", "acme/api/secret/api-key"},
				{"secret.update", "acme/api/secret/api-key"},
				{"variable.create", "acme/web/variable/log-level"},
			}
			for i, o := range ops {
				require.NoError(t, b.WriteAuditEntry(ctx, &models.AuditEntry{
					RequestID: fmt.Sprintf("req-%d", i),
					Timestamp: epoch.Add(time.Duration(i) * time.Minute),
					ActorID:   "user-1",
					Operation: o.op,
					Resource:  o.resource,
					Outcome:   "success",
					Metadata:  map[string]any{"n": i},
				}))
			}

			entries, total, err := b.QueryAuditLog(ctx, AuditFilter{Resource: "acme/api/", Desc: true})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, entries, 2)
			assert.Equal(t, "secret.update", entries[0].Operation)

			since := epoch.Add(90 * time.Second)
			entries, total, err = b.QueryAuditLog(ctx, AuditFilter{Since: &since})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, entries, 1)
			assert.Equal(t, "variable.create", entries[0].Operation)

			_, total, err = b.QueryAuditLog(ctx, AuditFilter{Operation: "secret.create"})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
		})
	}
}
