package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"voicestudio/internal/app/batch"
	"voicestudio/pkg/slg"

	"github.com/go-chi/chi/v5"
)

func statusCode(kind string) int {
	switch kind {
	case "ok":
		return http.StatusOK
	case "no_segment":
		return http.StatusNotFound
	case "busy", "not_generated":
		return http.StatusConflict
	case "missing_reference", "effect_processing", "bad_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slg.GetSlog(r.Context()).Error("failed to write response", "err", err)
	}
}

// writeResult answers a command. Commands never fail with a bare status: the
// body is always a batch.Result.
func writeResult(w http.ResponseWriter, r *http.Request, okCode int, err error, okMessage string) {
	res := batch.ResultOf(err, okMessage)
	if res.OK {
		writeJSON(w, r, okCode, res)
		return
	}

	slg.GetSlog(r.Context()).Warn("command failed", "path", r.URL.Path, "kind", res.Kind, "err", err)
	writeJSON(w, r, statusCode(res.Kind), res)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, r, http.StatusBadRequest, batch.Result{OK: false, Message: msg, Kind: "bad_request"})
}

func segmentIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 1 {
		return 0, fmt.Errorf("invalid segment index %q", chi.URLParam(r, "index"))
	}
	return index, nil
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}
