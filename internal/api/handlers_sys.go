package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/pagination"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

// requireSys checks the principal carries one of the authorities on sys/<area>.
func (s *Server) requireSys(w http.ResponseWriter, r *http.Request, area string, required ...models.Authority) bool {
	p, ok := principalFromCtx(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, errs.KindUnauthorized, "unauthenticated")
		return false
	}
	if err := s.gate.AuthorizePath(r.Context(), p, "sys/"+area, required...); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

// AuditLogHandler handles GET /v1/sys/audit?operation=&resource=&since=&page=&limit=&order=&search=
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "audit", models.AuthReadAudit) {
		return
	}
	q := r.URL.Query()
	req, err := pagination.FromQuery(q, s.cfg.Pagination)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := storage.AuditFilter{
		Operation: q.Get("operation"),
		Resource:  q.Get("resource"),
	}
	// Links carry the filters.
	filters := url.Values{}
	for _, name := range []string{"operation", "resource"} {
		if v := q.Get(name); v != "" {
			filters.Set(name, v)
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, r, errs.Validation("since must be RFC 3339, got %q", since))
			return
		}
		filter.Since = &t
		filters.Set("since", since)
	}
	req.Base = r.URL.Path
	if len(filters) > 0 {
		req.Base += "?" + filters.Encode()
	}
	page, err := s.audit.Query(r.Context(), req, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// RotationDueHandler handles GET /v1/sys/rotation/due[?asOf=RFC3339]
func (s *Server) RotationDueHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "rotation", models.AuthSudo) {
		return
	}
	asOf := s.now().UTC()
	if v := r.URL.Query().Get("asOf"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, errs.Validation("asOf must be RFC 3339, got %q", v))
			return
		}
		asOf = t
	}
	due, err := s.scheduler.DueForRotation(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if due == nil {
		due = []*models.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asOf": asOf, "entities": due})
}
