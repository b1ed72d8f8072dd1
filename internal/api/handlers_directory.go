package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/slug"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// Workspaces, projects and environments are managed by operators holding sudo on
// sys/directory.

type directoryRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// nameAndSlug validates the request, deriving the slug from the name when absent.
func (d directoryRequest) nameAndSlug() (string, string, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return "", "", errs.Validation("name must not be empty")
	}
	s := d.Slug
	if s == "" {
		s = slug.Make(name)
	}
	if !slug.Valid(s) {
		return "", "", errs.Validation("invalid slug %q", s)
	}
	return name, s, nil
}

func directoryErr(err error, what string) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return errs.Validation("%s already exists", what)
	case errors.Is(err, storage.ErrNotFound):
		return errs.NotFound("%s not found", what)
	default:
		return err
	}
}

func (s *Server) decodeDirectory(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if !s.requireSys(w, r, "directory", models.AuthSudo) {
		return "", "", false
	}
	var req directoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return "", "", false
	}
	name, sl, err := req.nameAndSlug()
	if err != nil {
		writeError(w, r, err)
		return "", "", false
	}
	return name, sl, true
}

// WorkspaceCreateHandler handles POST /v1/workspaces
func (s *Server) WorkspaceCreateHandler(w http.ResponseWriter, r *http.Request) {
	name, sl, ok := s.decodeDirectory(w, r)
	if !ok {
		return
	}
	ws := &models.Workspace{ID: uuid.NewString(), Name: name, Slug: sl, CreatedAt: s.now().UTC()}
	if err := s.store.CreateWorkspace(r.Context(), ws); err != nil {
		writeError(w, r, directoryErr(err, "workspace "+sl))
		return
	}
	s.audit.Record(r.Context(), actorID(r), "workspace.create", sl, audit.OutcomeSuccess, nil)
	writeJSON(w, http.StatusCreated, ws)
}

// ProjectCreateHandler handles POST /v1/workspaces/{workspace}/projects
func (s *Server) ProjectCreateHandler(w http.ResponseWriter, r *http.Request) {
	name, sl, ok := s.decodeDirectory(w, r)
	if !ok {
		return
	}
	wsSlug := chi.URLParam(r, "workspace")
	ws, err := s.store.GetWorkspaceBySlug(r.Context(), wsSlug)
	if err != nil {
		writeError(w, r, directoryErr(err, "workspace "+wsSlug))
		return
	}
	p := &models.Project{ID: uuid.NewString(), WorkspaceID: ws.ID, Name: name, Slug: sl, CreatedAt: s.now().UTC()}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeError(w, r, directoryErr(err, "project "+sl))
		return
	}
	s.audit.Record(r.Context(), actorID(r), "project.create", ws.Slug+"/"+sl, audit.OutcomeSuccess, nil)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) projectFromPath(r *http.Request) (*models.Workspace, *models.Project, error) {
	wsSlug, projSlug := chi.URLParam(r, "workspace"), chi.URLParam(r, "project")
	ws, err := s.store.GetWorkspaceBySlug(r.Context(), wsSlug)
	if err != nil {
		return nil, nil, directoryErr(err, "workspace "+wsSlug)
	}
	p, err := s.store.GetProjectBySlug(r.Context(), ws.ID, projSlug)
	if err != nil {
		return nil, nil, directoryErr(err, "project "+projSlug)
	}
	return ws, p, nil
}

// EnvironmentCreateHandler handles POST /v1/workspaces/{workspace}/projects/{project}/environments
func (s *Server) EnvironmentCreateHandler(w http.ResponseWriter, r *http.Request) {
	name, sl, ok := s.decodeDirectory(w, r)
	if !ok {
		return
	}
	ws, p, err := s.projectFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	env := &models.Environment{ID: uuid.NewString(), ProjectID: p.ID, Name: name, Slug: sl, CreatedAt: s.now().UTC()}
	if err := s.store.CreateEnvironment(r.Context(), env); err != nil {
		writeError(w, r, directoryErr(err, "environment "+sl))
		return
	}
	s.audit.Record(r.Context(), actorID(r), "environment.create", ws.Slug+"/"+p.Slug+"/"+sl, audit.OutcomeSuccess, nil)
	writeJSON(w, http.StatusCreated, env)
}

// EnvironmentListHandler handles GET /v1/workspaces/{workspace}/projects/{project}/environments.
// Any caller able to read secrets or variables of the project may list its environments.
func (s *Server) EnvironmentListHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromCtx(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, errs.KindUnauthorized, "unauthenticated")
		return
	}
	base := chi.URLParam(r, "workspace") + "/" + chi.URLParam(r, "project") + "/"
	if !s.gate.IsAllowed(r.Context(), p.Policies, models.AuthReadSecret, base+models.KindSecret.Plural()) &&
		!s.gate.IsAllowed(r.Context(), p.Policies, models.AuthReadVariable, base+models.KindVariable.Plural()) {
		writeError(w, r, errs.Unauthorized("%s may not read %s", p.ID, strings.TrimSuffix(base, "/")))
		return
	}
	_, proj, err := s.projectFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envs, err := s.store.ListEnvironments(r.Context(), proj.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if envs == nil {
		envs = []*models.Environment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}
