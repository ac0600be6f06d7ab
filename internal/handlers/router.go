package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ukydev/loaner-command-center/internal/middleware"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// Routes are the pieces mounted by NewRouter.
type Routes struct {
	Auth     *middleware.AuthMiddleware
	Fleet    *FleetHandler
	Requests *RequestHandler
	// Webhooks is served under /webhooks/ without bearer auth.
	Webhooks http.Handler
	// WebhookLimit wraps Webhooks; nil means unlimited.
	WebhookLimit func(http.Handler) http.Handler
}

// NewRouter builds the dashboard API and webhook router.
func NewRouter(rt Routes) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", Health).Methods(http.MethodGet)

	if rt.Webhooks != nil {
		hooks := rt.Webhooks
		if rt.WebhookLimit != nil {
			hooks = rt.WebhookLimit(hooks)
		}
		router.PathPrefix("/webhooks/").Handler(hooks)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(rt.Auth.Authenticate)

	view := rt.Auth.RequirePermission(models.ActionViewFleet)
	manage := rt.Auth.RequirePermission(models.ActionManageFleet)

	api.Handle("/fleet/active", view(http.HandlerFunc(rt.Fleet.Active))).Methods(http.MethodGet)
	api.Handle("/fleet/history", view(http.HandlerFunc(rt.Fleet.History))).Methods(http.MethodGet)
	api.Handle("/fleet/loaners", manage(http.HandlerFunc(rt.Fleet.AddLoaner))).Methods(http.MethodPost)
	api.Handle("/fleet/loaners/{id}/swap", manage(http.HandlerFunc(rt.Fleet.RequestSwap))).Methods(http.MethodPost)

	api.Handle("/requests", view(http.HandlerFunc(rt.Requests.List))).Methods(http.MethodGet)
	api.Handle("/requests", manage(http.HandlerFunc(rt.Requests.Create))).Methods(http.MethodPost)
	api.Handle("/requests/outgoing", view(http.HandlerFunc(rt.Requests.Outgoing))).Methods(http.MethodGet)
	api.Handle("/requests/{id}/complete", manage(http.HandlerFunc(rt.Requests.Complete))).Methods(http.MethodPost)

	return router
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
