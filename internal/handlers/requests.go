package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/fleet"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// RequestHandler serves the pending request queue and completions.
type RequestHandler struct {
	service   *fleet.Service
	snapshots Snapshots
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(service *fleet.Service, snapshots Snapshots) *RequestHandler {
	return &RequestHandler{
		service:   service,
		snapshots: snapshots,
	}
}

type requestList struct {
	Requests []models.LoanerRequest `json:"requests"`
}

// List returns pending and approved requests.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, "list_pending", err)
		return
	}
	if rows == nil {
		rows = []models.LoanerRequest{}
	}
	writeJSON(w, http.StatusOK, requestList{Requests: rows})
}

// Outgoing returns the active loaners a completion may close.
func (h *RequestHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListOutgoingCandidates(r.Context())
	if err != nil {
		writeServiceError(w, "list_outgoing", err)
		return
	}
	if rows == nil {
		rows = []models.LoanerRequest{}
	}
	writeJSON(w, http.StatusOK, requestList{Requests: rows})
}

// Create records a new pending request.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in fleet.NewRequest
	if !readJSON(w, r, &in) {
		return
	}

	row, err := h.service.CreateRequest(r.Context(), in)
	if err != nil {
		writeServiceError(w, "create_request", err)
		return
	}
	refreshActive(r.Context(), h.snapshots)
	writeJSON(w, http.StatusCreated, row)
}

// Complete activates the request in the path and, for a swap, closes the
// outgoing loaner named in the body.
func (h *RequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var in fleet.CompleteInput
	if !readJSON(w, r, &in) {
		return
	}
	in.RequestID = mux.Vars(r)["id"]

	result, err := h.service.CompleteRequest(r.Context(), in)
	if result.Outcome != fleet.OutcomeFailed {
		refreshActive(r.Context(), h.snapshots)
	}
	if err != nil {
		if errors.Is(err, fleet.ErrOutgoingNotClosed) {
			log.WithError(err).WithField("request_id", in.RequestID).Error("Completion left outgoing loaner open")
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:   "Request is active but failed to close outgoing loaner",
				Outcome: string(result.Outcome),
			})
			return
		}
		writeServiceError(w, "complete_request", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
