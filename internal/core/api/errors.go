package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/solatis/factkeeper/internal/types"
)

// errorResponse is the wire shape of every non-2xx body.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v with the given status. Encoding failures at this
// point can only be programming errors; they are logged, not surfaced.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps an error to its HTTP status and serializes it.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// storeErrStatus distinguishes "you asked for something absent" from "the
// database is unhappy". Everything non-sentinel from the store is treated
// as a backend fault so clients retry rather than give up.
func storeErrStatus(err error) int {
	if errors.Is(err, types.ErrRuleNotFound) {
		return http.StatusNotFound
	}
	return http.StatusServiceUnavailable
}
