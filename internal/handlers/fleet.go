package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/dashboard"
	"github.com/ukydev/loaner-command-center/internal/fleet"
	"github.com/ukydev/loaner-command-center/internal/middleware"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// Snapshots is the part of dashboard.Poller the API reads from.
type Snapshots interface {
	Active() dashboard.Snapshot
	History() dashboard.Snapshot
	RefreshActive(ctx context.Context) error
}

// ActiveVehicle is an active loaner with its derived board fields.
type ActiveVehicle struct {
	models.LoanerRequest
	fleet.Velocity
	DaysInFleet  int `json:"days_in_fleet"`
	ContractDays int `json:"contract_days"`
}

// ActiveResponse is the body of GET /api/fleet/active.
type ActiveResponse struct {
	Vehicles  []ActiveVehicle `json:"vehicles"`
	Total     int             `json:"total"`
	Facets    fleet.Facets    `json:"facets"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// HistoryVehicle is a historical loaner with its time in fleet.
type HistoryVehicle struct {
	models.LoanerRequest
	DaysInFleet int `json:"days_in_fleet"`
}

// HistoryResponse is the body of GET /api/fleet/history.
type HistoryResponse struct {
	Vehicles  []HistoryVehicle `json:"vehicles"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// FleetHandler serves the active board, history and loaner writes.
type FleetHandler struct {
	service   *fleet.Service
	snapshots Snapshots
	now       func() time.Time
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(service *fleet.Service, snapshots Snapshots) *FleetHandler {
	return &FleetHandler{
		service:   service,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Active returns the last polled active fleet, filtered by query parameters.
// Total counts the unfiltered fleet; facets are built from it too.
func (h *FleetHandler) Active(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Active()
	now := h.now().UTC()

	filter := filterFromQuery(r)
	matched := filter.Apply(snap.Vehicles, now)

	vehicles := make([]ActiveVehicle, 0, len(matched))
	for i := range matched {
		v := &matched[i]
		days := fleet.DaysInFleet(v, now)
		vehicles = append(vehicles, ActiveVehicle{
			LoanerRequest: *v,
			Velocity:      fleet.Classify(days),
			DaysInFleet:   days,
			ContractDays:  fleet.ContractDays(v, now),
		})
	}

	writeJSON(w, http.StatusOK, ActiveResponse{
		Vehicles:  vehicles,
		Total:     len(snap.Vehicles),
		Facets:    fleet.BuildFacets(snap.Vehicles),
		FetchedAt: snap.FetchedAt,
	})
}

func filterFromQuery(r *http.Request) fleet.ActiveFilter {
	q := r.URL.Query()
	return fleet.ActiveFilter{
		Search:   q.Get("search"),
		Contract: q.Get("contract"),
		Days:     q.Get("days"),
		Mileage:  q.Get("mileage"),
		Make:     q.Get("make"),
		Model:    q.Get("model"),
		Year:     q.Get("year"),
	}
}

// History returns the last polled history snapshot.
func (h *FleetHandler) History(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.History()
	now := h.now().UTC()

	vehicles := make([]HistoryVehicle, 0, len(snap.Vehicles))
	for i := range snap.Vehicles {
		v := &snap.Vehicles[i]
		vehicles = append(vehicles, HistoryVehicle{
			LoanerRequest: *v,
			DaysInFleet:   fleet.HistoryDaysInFleet(v, now),
		})
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Vehicles: vehicles, FetchedAt: snap.FetchedAt})
}

// AddLoaner puts a vehicle directly into the active fleet.
func (h *FleetHandler) AddLoaner(w http.ResponseWriter, r *http.Request) {
	var in fleet.NewLoaner
	if !readJSON(w, r, &in) {
		return
	}

	row, err := h.service.AddLoaner(r.Context(), in)
	if err != nil {
		writeServiceError(w, "add_loaner", err)
		return
	}
	refreshActive(r.Context(), h.snapshots)
	writeJSON(w, http.StatusCreated, row)
}

// RequestSwap files a swap request for the loaner in the path, attributed
// to the caller.
func (h *FleetHandler) RequestSwap(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User context not found", "")
		return
	}

	var in fleet.SwapInput
	if !readJSON(w, r, &in) {
		return
	}
	in.LoanerID = mux.Vars(r)["id"]
	in.RequestedBy = claims.UserID

	req, err := h.service.RequestSwap(r.Context(), in)
	if err != nil {
		writeServiceError(w, "request_swap", err)
		return
	}
	refreshActive(r.Context(), h.snapshots)
	writeJSON(w, http.StatusCreated, req)
}

// refreshActive re-polls the active fleet after a write. Failures are
// logged; the next scheduled poll catches up.
func refreshActive(ctx context.Context, snapshots Snapshots) {
	if snapshots == nil {
		return
	}
	if err := snapshots.RefreshActive(ctx); err != nil {
		log.WithError(err).Warn("Failed to refresh active fleet after write")
	}
}
