package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/pkg/models"
)

type tokenView struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Policies    []string   `json:"policies"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func viewToken(t *models.Token) tokenView {
	v := tokenView{ID: t.ID, DisplayName: t.DisplayName, Policies: t.Policies, CreatedAt: t.CreatedAt}
	if !t.ExpiresAt.IsZero() {
		exp := t.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// TokenCreateHandler handles POST /v1/auth/tokens
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSys(w, r, "tokens", models.AuthSudo) {
		return
	}
	var req struct {
		DisplayName string   `json:"displayName"`
		Policies    []string `json:"policies"`
		TTL         string   `json:"ttl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		var err error
		if ttl, err = time.ParseDuration(req.TTL); err != nil || ttl < 0 {
			writeError(w, r, errs.Validation("invalid ttl %q", req.TTL))
			return
		}
	}
	if len(req.Policies) == 0 {
		req.Policies = []string{storage.PolicyDefault}
	}

	tok, plaintext, err := s.tokens.CreateToken(r.Context(), req.DisplayName, req.Policies, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit.Record(r.Context(), actorID(r), "token.create", "sys/tokens/"+tok.ID, audit.OutcomeSuccess,
		map[string]any{"policies": tok.Policies})
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": plaintext,
		"info":  viewToken(tok),
	})
}

// TokenLookupSelfHandler handles GET /v1/auth/tokens/self
func (s *Server) TokenLookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	tok, err := s.tokens.ValidateToken(r.Context(), r.Header.Get(TokenHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewToken(tok))
}

// TokenRevokeHandler handles DELETE /v1/auth/tokens/{id}
func (s *Server) TokenRevokeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != actorID(r) && !s.requireSys(w, r, "tokens", models.AuthSudo) {
		return
	}
	if err := s.tokens.RevokeToken(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit.Record(r.Context(), actorID(r), "token.revoke", "sys/tokens/"+id, audit.OutcomeSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}
