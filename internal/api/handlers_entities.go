package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/vault"
	"github.com/org/envvault/pkg/models"
)

// entityRoutes mounts the secret or variable endpoints of one project.
func (s *Server) entityRoutes(kind models.Kind) func(chi.Router) {
	h := entityHandlers{s: s, kind: kind}
	return func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/export", h.export)
		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
			r.Get("/environments/{environment}", h.head)
			r.Delete("/environments/{environment}", h.deleteValue)
			r.Get("/environments/{environment}/history", h.history)
			r.Post("/environments/{environment}/rollback", h.rollback)
		})
	}
}

type entityHandlers struct {
	s    *Server
	kind models.Kind
}

// authorize runs the gate for the route's workspace, project and entity.
func (h entityHandlers) authorize(w http.ResponseWriter, r *http.Request, action models.Action) (*policy.Grant, bool) {
	p, ok := principalFromCtx(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, errs.KindUnauthorized, "unauthenticated")
		return nil, false
	}
	ref := policy.Ref{
		Workspace: chi.URLParam(r, "workspace"),
		Project:   chi.URLParam(r, "project"),
		Kind:      h.kind,
		Entity:    chi.URLParam(r, "entity"),
	}
	g, err := h.s.gate.Authorize(r.Context(), p, ref, models.AuthorityFor(h.kind, action))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return g, true
}

// target authorizes the request and resolves the {entity} slug.
func (h entityHandlers) target(w http.ResponseWriter, r *http.Request, action models.Action) (*policy.Grant, *models.Entity, bool) {
	g, ok := h.authorize(w, r, action)
	if !ok {
		return nil, nil, false
	}
	ent, err := h.s.vault.ResolveEntity(r.Context(), g, chi.URLParam(r, "entity"))
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}
	return g, ent, true
}

// GET .../{kind}?page=&limit=&sort=&order=&search=
func (h entityHandlers) list(w http.ResponseWriter, r *http.Request) {
	req, err := pagination.FromQuery(r.URL.Query(), h.s.cfg.Pagination)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.Base = r.URL.Path
	g, ok := h.authorize(w, r, models.ActionRead)
	if !ok {
		return
	}
	page, err := h.s.vault.ListEntities(r.Context(), g, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// POST .../{kind}
func (h entityHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in vault.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, ok := h.authorize(w, r, models.ActionCreate)
	if !ok {
		return
	}
	res, err := h.s.vault.CreateEntity(r.Context(), g, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET .../{kind}/{entity}
func (h entityHandlers) get(w http.ResponseWriter, r *http.Request) {
	_, ent, ok := h.target(w, r, models.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// PATCH .../{kind}/{entity}
func (h entityHandlers) update(w http.ResponseWriter, r *http.Request) {
	var in vault.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, ent, ok := h.target(w, r, models.ActionUpdate)
	if !ok {
		return
	}
	res, err := h.s.vault.UpdateEntity(r.Context(), g, ent.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DELETE .../{kind}/{entity}
func (h entityHandlers) delete(w http.ResponseWriter, r *http.Request) {
	g, ent, ok := h.target(w, r, models.ActionDelete)
	if !ok {
		return
	}
	if err := h.s.vault.DeleteEntity(r.Context(), g, ent.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET .../{kind}/{entity}/environments/{environment}[?version=N]
// An environment without a value answers 200 with a null revision.
func (h entityHandlers) head(w http.ResponseWriter, r *http.Request) {
	g, ent, ok := h.target(w, r, models.ActionRead)
	if !ok {
		return
	}
	env := chi.URLParam(r, "environment")
	var (
		rev *models.Revision
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		var version int
		if version, err = intParam(v, "version"); err == nil {
			rev, err = h.s.vault.GetRevision(r.Context(), g, ent.ID, env, version)
		}
	} else {
		rev, err = h.s.vault.Head(r.Context(), g, ent.ID, env)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

// DELETE .../{kind}/{entity}/environments/{environment}
func (h entityHandlers) deleteValue(w http.ResponseWriter, r *http.Request) {
	g, ent, ok := h.target(w, r, models.ActionDelete)
	if !ok {
		return
	}
	n, err := h.s.vault.DeleteEnvironmentValue(r.Context(), g, ent.ID, chi.URLParam(r, "environment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

// GET .../{kind}/{entity}/environments/{environment}/history
func (h entityHandlers) history(w http.ResponseWriter, r *http.Request) {
	req, err := pagination.FromQuery(r.URL.Query(), h.s.cfg.Pagination)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.Base = r.URL.Path
	g, ent, ok := h.target(w, r, models.ActionRead)
	if !ok {
		return
	}
	page, err := h.s.vault.History(r.Context(), g, ent.ID, chi.URLParam(r, "environment"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// POST .../{kind}/{entity}/environments/{environment}/rollback {"version": N}
func (h entityHandlers) rollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version int `json:"version"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	g, ent, ok := h.target(w, r, models.ActionUpdate)
	if !ok {
		return
	}
	res, err := h.s.vault.Rollback(r.Context(), g, ent.ID, chi.URLParam(r, "environment"), body.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET .../{kind}/export?environment=dev[&format=dotenv]
func (h entityHandlers) export(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("environment")
	if env == "" {
		writeError(w, r, errs.Validation("environment query parameter is required"))
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "dotenv" {
		writeError(w, r, errs.Validation("format must be json or dotenv, got %q", format))
		return
	}
	g, ok := h.authorize(w, r, models.ActionRead)
	if !ok {
		return
	}
	vars, err := h.s.vault.Export(r.Context(), g, env)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if format == "dotenv" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(vault.ExportDotEnv(vars))) //nolint:errcheck
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environment": env, "values": vars})
}
