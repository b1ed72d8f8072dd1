package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/errs"
)

type errorBody struct {
	Errors []string  `json:"errors"`
	Kind   errs.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeStatus(w http.ResponseWriter, code int, kind errs.Kind, msg string) {
	writeJSON(w, code, errorBody{Errors: []string{msg}, Kind: kind})
}

// writeError maps err onto its status code. Internal errors are logged and their
// message is not echoed back.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()
	if kind == errs.KindInternal {
		log.Error().Err(err).
			Str("request_id", audit.RequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	writeStatus(w, errs.HTTPStatus(err), kind, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	return nil
}

func intParam(raw, name string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}
