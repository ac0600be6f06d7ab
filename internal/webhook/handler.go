// Package webhook ingests Dealerware vehicle events into the loaner datastore.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/models"
	"github.com/ukydev/loaner-command-center/internal/notify"
)

const (
	DealerwarePath = "/webhooks/dealerware"
	OBDPath        = "/webhooks/obd"

	resourceVehicle = "Vehicle"
	stateInfleet    = "Infleet"
	stateDefleet    = "Defleet"

	// NoActiveLoanerWarning is returned when a Defleet matches nothing.
	NoActiveLoanerWarning = "No active loaner found for this VIN"
)

// Handler serves the vendor webhook routes.
type Handler struct {
	Store db.Store
	// Secret is the shared Dealerware signing secret.
	Secret string
	// MissingConfig names datastore settings that are not configured.
	MissingConfig []string
	Publisher     notify.Publisher
	Now           func() time.Time
}

// NewHandler creates a webhook Handler.
func NewHandler(store db.Store, secret string, missing []string, publisher notify.Publisher) *Handler {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	return &Handler{Store: store, Secret: secret, MissingConfig: missing, Publisher: publisher, Now: time.Now}
}

type dealerwarePayload struct {
	Resource  string          `json:"resource"`
	State     string          `json:"state"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
	Signature string          `json:"signature"`
}

type vehicleData struct {
	VIN          string     `json:"vin"`
	Year         looseInt   `json:"year"`
	Make         *string    `json:"make"`
	Model        *string    `json:"model"`
	Color        *string    `json:"color"`
	LicensePlate *string    `json:"licensePlate"`
	Mileage      looseFloat `json:"mileage"`
	CustomerID   *string    `json:"customerId"`
	CustomerName *string    `json:"customerName"`
	DateInfleet  *string    `json:"dateInfleet"`
}

type obdPayload struct {
	VIN     string     `json:"vin"`
	Mileage looseFloat `json:"mileage"`
}

// ServeHTTP dispatches on method first, then path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}
	switch r.URL.Path {
	case DealerwarePath:
		h.handleDealerware(w, r)
	case OBDPath:
		h.handleOBD(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h *Handler) handleDealerware(w http.ResponseWriter, r *http.Request) {
	if len(h.MissingConfig) > 0 {
		log.WithField("missing", h.MissingConfig).Error("Datastore is not configured")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "Server configuration error",
			"detail": "Missing: " + strings.Join(h.MissingConfig, ", ") + ". Set them in the environment or the config file and restart.",
		})
		return
	}
	if h.Secret == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Signature validation failed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	var payload dealerwarePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}

	if payload.Resource != resourceVehicle {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid resource"})
		return
	}

	if !Verify(h.Secret, payload.Data, payload.Signature) {
		log.WithField("state", payload.State).Warn("Dealerware signature mismatch")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Signature validation failed"})
		return
	}

	ts, err := eventTimestamp(payload.Timestamp, h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid timestamp"})
		return
	}

	var data vehicleData
	if len(payload.Data) > 0 && string(payload.Data) != "null" {
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
			return
		}
	}

	switch payload.State {
	case stateInfleet:
		h.handleInfleet(r.Context(), w, data, ts)
	case stateDefleet:
		h.handleDefleet(r.Context(), w, data, ts)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Unsupported state"})
	}
}

func (h *Handler) handleInfleet(ctx context.Context, w http.ResponseWriter, data vehicleData, ts models.Timestamp) {
	if data.VIN == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing vin in data"})
		return
	}

	row := models.LoanerRequest{
		VIN:                  data.VIN,
		Status:               models.StatusActive,
		RequestType:          models.RequestTypeInfleet,
		Year:                 data.Year.Ptr(),
		Make:                 data.Make,
		Model:                data.Model,
		Color:                data.Color,
		LicensePlate:         data.LicensePlate,
		MileageAtInfleet:     data.Mileage.Ptr(),
		CustomerID:           data.CustomerID,
		CustomerName:         data.CustomerName,
		InfleetApprovedAt:    models.TimestampPtr(models.At(h.now())),
		InfleetDealerMatched: models.Bool(true),
	}
	if data.DateInfleet != nil && *data.DateInfleet != "" {
		d, err := models.ParseTimestamp(*data.DateInfleet)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid dateInfleet"})
			return
		}
		row.DateInfleet = &d
	}

	id, err := h.Store.InsertLoaner(ctx, row)
	if err != nil {
		log.WithError(err).WithField("vin", data.VIN).Error("Infleet insert failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Database error", "detail": db.Detail(err)})
		return
	}

	if id != "" {
		h.audit(ctx, models.AuditInfleetMatched, id, data.VIN, ts)
	}
	h.publish(ctx, notify.Event{Type: "infleet", VIN: data.VIN, LoanerRequestID: id, Timestamp: ts.String()})

	log.WithFields(log.Fields{"vin": data.VIN, "id": id}).Info("Infleet recorded")
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "event": "infleet", "vin": data.VIN})
}

func (h *Handler) handleDefleet(ctx context.Context, w http.ResponseWriter, data vehicleData, ts models.Timestamp) {
	if data.VIN == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing vin in data"})
		return
	}

	rows, err := h.Store.FindLoaners(ctx, db.Query{
		Filter: db.Where(db.Eq("vin", data.VIN), db.Eq("status", models.StatusActive)),
		Order:  []db.Order{db.Desc("infleet_approved_at")},
		Limit:  1,
	})
	if err != nil {
		log.WithError(err).WithField("vin", data.VIN).Error("Defleet lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Database error"})
		return
	}
	if len(rows) == 0 {
		log.WithField("vin", data.VIN).Warn("Defleet: no active loaner found for vin")
		h.publish(ctx, notify.Event{Type: "defleet", VIN: data.VIN, Timestamp: ts.String(), Warning: NoActiveLoanerWarning})
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"event":   "defleet",
			"vin":     data.VIN,
			"warning": NoActiveLoanerWarning,
		})
		return
	}

	id := rows[0].ID
	var mileage any
	if m := data.Mileage.Ptr(); m != nil {
		mileage = *m
	}
	_, err = h.Store.UpdateLoaners(ctx, db.Where(db.Eq("id", id)), models.Patch{
		"status":                   models.StatusReturnRequested,
		"mileage_at_defleet":       mileage,
		"defleet_dealer_timestamp": ts,
		"defleet_dealer_matched":   true,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"vin": data.VIN, "id": id}).Error("Defleet update failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Database error"})
		return
	}

	h.audit(ctx, models.AuditDefleetMatched, id, data.VIN, ts)
	h.publish(ctx, notify.Event{Type: "defleet", VIN: data.VIN, LoanerRequestID: id, Timestamp: ts.String()})

	log.WithFields(log.Fields{"vin": data.VIN, "id": id}).Info("Defleet recorded")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": "defleet", "vin": data.VIN})
}

// audit records a matched event; failures are logged only.
func (h *Handler) audit(ctx context.Context, event models.AuditEventType, id, vin string, ts models.Timestamp) {
	err := h.Store.InsertAudit(ctx, models.AuditEvent{
		Event:           event,
		LoanerRequestID: id,
		Actor:           models.ActorDealerwareWebhook,
		Metadata:        map[string]any{"vin": vin, "timestamp": ts.String()},
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"event": event, "id": id}).Error("Audit insert failed")
	}
}

func (h *Handler) publish(ctx context.Context, e notify.Event) {
	if h.Publisher == nil {
		return
	}
	if err := h.Publisher.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event", e.Type).Error("Event publish failed")
	}
}

func (h *Handler) handleOBD(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	var payload obdPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	mileage := payload.Mileage.Ptr()
	if payload.VIN == "" || mileage == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing vin or mileage"})
		return
	}
	// TODO: record current_mileage on the active loaner once the column exists.
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "vin": payload.VIN, "mileage": *mileage})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}
