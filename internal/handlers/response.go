package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/fleet"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Field   string `json:"field,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, errorResponse{Error: msg, Detail: detail})
}

// readJSON decodes the request body into v, writing a 400 on failure. An
// empty body leaves v unchanged.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", "")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", "")
		return false
	}
	return true
}

// writeServiceError maps a fleet.Service error to a status code.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr *fleet.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, fleet.ErrRequestNotPending):
		writeError(w, http.StatusConflict, "Request is no longer pending", "")
	default:
		log.WithError(err).WithField("op", op).Error("Datastore operation failed")
		writeError(w, http.StatusInternalServerError, "Database error", db.Detail(err))
	}
}
