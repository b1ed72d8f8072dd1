package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// PolicyWriteHandler handles PUT /v1/sys/policies/{name}
func (s *Server) PolicyWriteHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "policies", models.AuthSudo) {
		return
	}
	name := chi.URLParam(r, "name")
	if name == storage.PolicyRoot {
		writeError(w, r, errs.Validation("policy %q is built in", name))
		return
	}

	var req struct {
		Rules map[string]models.PathRule `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pol := &models.Policy{Name: name, Rules: req.Rules, CreatedAt: s.now().UTC()}
	if err := s.store.WritePolicy(r.Context(), pol); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit.Record(r.Context(), actorID(r), "policy.write", "sys/policies/"+name, audit.OutcomeSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}

// PolicyReadHandler handles GET /v1/sys/policies/{name}
func (s *Server) PolicyReadHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "policies", models.AuthSudo) {
		return
	}
	name := chi.URLParam(r, "name")
	pol, err := s.store.GetPolicy(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errs.NotFound("policy %q not found", name)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// PolicyDeleteHandler handles DELETE /v1/sys/policies/{name}
func (s *Server) PolicyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "policies", models.AuthSudo) {
		return
	}
	name := chi.URLParam(r, "name")
	if name == storage.PolicyRoot || name == storage.PolicyDefault {
		writeError(w, r, errs.Validation("policy %q is built in", name))
		return
	}
	if err := s.store.DeletePolicy(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errs.NotFound("policy %q not found", name)
		}
		writeError(w, r, err)
		return
	}
	s.audit.Record(r.Context(), actorID(r), "policy.delete", "sys/policies/"+name, audit.OutcomeSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}

// PolicyListHandler handles GET /v1/sys/policies
func (s *Server) PolicyListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "policies", models.AuthSudo) {
		return
	}
	names, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": names})
}

func actorID(r *http.Request) string {
	p, _ := principalFromCtx(r.Context())
	return p.ID
}
