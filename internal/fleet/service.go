package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// Outcome enumerates how far a completion got.
type Outcome string

const (
	OutcomeFailed        Outcome = "failed"
	OutcomeActivatedOnly Outcome = "activated_only"
	OutcomeCompleted     Outcome = "completed"
)

// Completion is the result of CompleteRequest.
type Completion struct {
	Outcome    Outcome `json:"outcome"`
	RequestID  string  `json:"request_id"`
	OutgoingID string  `json:"outgoing_id,omitempty"`
}

// CompleteInput names the pending request to activate and, for a swap, the
// active loaner leaving the fleet.
type CompleteInput struct {
	RequestID    string `json:"request_id"`
	OutgoingID   string `json:"outgoing_id,omitempty"`
	PStockNumber string `json:"p_stock_number,omitempty"`
}

// NewLoaner is a manually added active loaner.
type NewLoaner struct {
	VIN              string   `json:"vin"`
	Year             *int     `json:"year,omitempty"`
	Make             string   `json:"make,omitempty"`
	Model            string   `json:"model,omitempty"`
	Color            string   `json:"color,omitempty"`
	Trim             string   `json:"trim,omitempty"`
	LicensePlate     string   `json:"license_plate,omitempty"`
	MileageAtInfleet *float64 `json:"mileage_at_infleet,omitempty"`
	VehicleCost      *float64 `json:"vehicle_cost,omitempty"`
	RDRDate          string   `json:"rdr_date,omitempty"`
}

// NewRequest is a pending loaner request.
type NewRequest struct {
	VIN              string   `json:"vin"`
	Year             *int     `json:"year,omitempty"`
	Make             string   `json:"make,omitempty"`
	Model            string   `json:"model,omitempty"`
	Color            string   `json:"color,omitempty"`
	LicensePlate     string   `json:"license_plate,omitempty"`
	MileageAtInfleet *float64 `json:"mileage_at_infleet,omitempty"`
	CustomerID       string   `json:"customer_id,omitempty"`
	CustomerName     string   `json:"customer_name,omitempty"`
}

// SwapInput asks to replace an active loaner's vehicle.
type SwapInput struct {
	LoanerID       string   `json:"-"`
	ReplacementVIN string   `json:"replacement_vin"`
	Year           *int     `json:"year,omitempty"`
	Make           string   `json:"make,omitempty"`
	Model          string   `json:"model,omitempty"`
	Color          string   `json:"color,omitempty"`
	Trim           string   `json:"trim,omitempty"`
	Miles          *float64 `json:"miles,omitempty"`
	RequestedBy    string   `json:"-"`
}

// Service implements the dashboard's reads and writes against the datastore.
type Service struct {
	Loaners db.LoanerCollection
	Swaps   db.SwapRequestCollection
	Now     func() time.Time
}

// NewService creates a Service using the wall clock.
func NewService(loaners db.LoanerCollection, swaps db.SwapRequestCollection) *Service {
	return &Service{Loaners: loaners, Swaps: swaps, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ListActive returns loaners in service, most recently in-fleeted first.
func (s *Service) ListActive(ctx context.Context) ([]models.LoanerRequest, error) {
	return s.Loaners.FindLoaners(ctx, db.Query{
		Filter: db.Where(db.Eq("status", models.StatusActive)),
		Order:  []db.Order{db.Desc("date_infleet")},
	})
}

// ListPending returns requests awaiting completion, newest first.
func (s *Service) ListPending(ctx context.Context) ([]models.LoanerRequest, error) {
	return s.Loaners.FindLoaners(ctx, db.Query{
		Filter: db.Where(db.In("status", statusValues(models.PendingStatuses)...)),
		Order:  []db.Order{db.Desc("created_at")},
	})
}

// ListOutgoingCandidates returns active loaners that a completion may close.
func (s *Service) ListOutgoingCandidates(ctx context.Context) ([]models.LoanerRequest, error) {
	return s.Loaners.FindLoaners(ctx, db.Query{
		Filter: db.Where(db.Eq("status", models.StatusActive)),
		Order:  []db.Order{db.Desc("infleet_approved_at")},
	})
}

// ListHistory returns loaners that have left or are leaving the fleet.
func (s *Service) ListHistory(ctx context.Context) ([]models.LoanerRequest, error) {
	return s.Loaners.FindLoaners(ctx, db.Query{
		Filter: db.Where(db.In("status", statusValues(models.HistoryStatuses)...)),
		Order:  []db.Order{db.Desc("defleet_confirmed_at"), db.Desc("infleet_approved_at")},
	})
}

// AddLoaner puts a vehicle straight into the active fleet.
func (s *Service) AddLoaner(ctx context.Context, in NewLoaner) (models.LoanerRequest, error) {
	vin := strings.TrimSpace(in.VIN)
	if vin == "" {
		return models.LoanerRequest{}, invalid("vin", "is required")
	}
	if err := nonNegative("mileage_at_infleet", in.MileageAtInfleet); err != nil {
		return models.LoanerRequest{}, err
	}
	if err := nonNegative("vehicle_cost", in.VehicleCost); err != nil {
		return models.LoanerRequest{}, err
	}

	now := s.now()
	rdr := models.DateOf(now)
	if strings.TrimSpace(in.RDRDate) != "" {
		parsed, err := models.ParseTimestamp(in.RDRDate)
		if err != nil {
			return models.LoanerRequest{}, invalid("rdr_date", "must be a date (YYYY-MM-DD)")
		}
		rdr = parsed
	}

	row := models.LoanerRequest{
		VIN:               vin,
		Status:            models.StatusActive,
		RequestType:       models.RequestTypeManual,
		Year:              in.Year,
		Make:              models.OptionalString(in.Make),
		Model:             models.OptionalString(in.Model),
		Color:             models.OptionalString(in.Color),
		Trim:              models.OptionalString(in.Trim),
		LicensePlate:      models.OptionalString(in.LicensePlate),
		MileageAtInfleet:  in.MileageAtInfleet,
		VehicleCost:       in.VehicleCost,
		RDRDate:           models.TimestampPtr(rdr),
		InfleetApprovedAt: models.TimestampPtr(models.At(now)),
		DateInfleet:       models.TimestampPtr(models.DateOf(now)),
	}
	id, err := s.Loaners.InsertLoaner(ctx, row)
	if err != nil {
		return models.LoanerRequest{}, err
	}
	row.ID = id
	log.WithFields(log.Fields{"vin": vin, "id": id}).Info("Loaner added")
	return row, nil
}

// CreateRequest records a pending loaner request.
func (s *Service) CreateRequest(ctx context.Context, in NewRequest) (models.LoanerRequest, error) {
	vin := strings.TrimSpace(in.VIN)
	if vin == "" {
		return models.LoanerRequest{}, invalid("vin", "is required")
	}
	if err := nonNegative("mileage_at_infleet", in.MileageAtInfleet); err != nil {
		return models.LoanerRequest{}, err
	}
	row := models.LoanerRequest{
		VIN:              vin,
		Status:           models.StatusPending,
		Year:             in.Year,
		Make:             models.OptionalString(in.Make),
		Model:            models.OptionalString(in.Model),
		Color:            models.OptionalString(in.Color),
		LicensePlate:     models.OptionalString(in.LicensePlate),
		MileageAtInfleet: in.MileageAtInfleet,
		CustomerID:       models.OptionalString(in.CustomerID),
		CustomerName:     models.OptionalString(in.CustomerName),
	}
	id, err := s.Loaners.InsertLoaner(ctx, row)
	if err != nil {
		return models.LoanerRequest{}, err
	}
	row.ID = id
	return row, nil
}

// CompleteRequest activates a pending request and, when OutgoingID is set,
// closes the loaner it replaces. The two writes are independent: a failure
// closing the outgoing loaner leaves the request active and is reported as
// OutcomeActivatedOnly.
func (s *Service) CompleteRequest(ctx context.Context, in CompleteInput) (Completion, error) {
	result := Completion{Outcome: OutcomeFailed, RequestID: in.RequestID, OutgoingID: in.OutgoingID}
	if strings.TrimSpace(in.RequestID) == "" {
		return result, invalid("request_id", "is required")
	}
	pStock := strings.TrimSpace(in.PStockNumber)
	if in.OutgoingID != "" && pStock == "" {
		return result, invalid("p_stock_number", "Enter P stock number for the vehicle coming out.")
	}

	now := s.now()
	matched, err := s.Loaners.UpdateLoaners(ctx,
		db.Where(db.Eq("id", in.RequestID), db.In("status", statusValues(models.PendingStatuses)...)),
		models.Patch{
			"status":              models.StatusActive,
			"infleet_approved_at": models.At(now),
			"date_infleet":        models.DateOf(now),
			"request_type":        models.RequestTypeManual,
		})
	if err != nil {
		return result, err
	}
	if matched == 0 {
		return result, ErrRequestNotPending
	}
	result.Outcome = OutcomeActivatedOnly

	if in.OutgoingID != "" {
		matched, err := s.Loaners.UpdateLoaners(ctx,
			db.Where(db.Eq("id", in.OutgoingID), db.Eq("status", models.StatusActive)),
			models.Patch{
				"status":               models.StatusClosed,
				"defleet_confirmed_at": models.At(now),
				"p_stock_number":       pStock,
			})
		if err != nil {
			log.WithError(err).WithField("outgoing_id", in.OutgoingID).Error("Failed to close outgoing loaner")
			return result, fmt.Errorf("%w: %w", ErrOutgoingNotClosed, err)
		}
		if matched == 0 {
			log.WithField("outgoing_id", in.OutgoingID).Error("Outgoing loaner is not active")
			return result, fmt.Errorf("%w: outgoing loaner is not active", ErrOutgoingNotClosed)
		}
	}

	result.Outcome = OutcomeCompleted
	log.WithFields(log.Fields{"request_id": in.RequestID, "outgoing_id": in.OutgoingID}).Info("Request completed")
	return result, nil
}

// RequestSwap files a pending swap request for an active loaner.
func (s *Service) RequestSwap(ctx context.Context, in SwapInput) (models.SwapRequest, error) {
	if strings.TrimSpace(in.LoanerID) == "" {
		return models.SwapRequest{}, invalid("loaner_id", "is required")
	}
	vin := strings.TrimSpace(in.ReplacementVIN)
	if vin == "" {
		return models.SwapRequest{}, invalid("replacement_vin", "is required")
	}
	if in.RequestedBy == "" {
		return models.SwapRequest{}, invalid("requested_by", "is required")
	}
	if err := nonNegative("miles", in.Miles); err != nil {
		return models.SwapRequest{}, err
	}

	parts := make([]string, 0, 3)
	if in.Year != nil && *in.Year != 0 {
		parts = append(parts, fmt.Sprint(*in.Year))
	}
	for _, p := range []string{in.Make, in.Model} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	req := models.SwapRequest{
		LoanerID:             in.LoanerID,
		ReplacementVIN:       vin,
		ReplacementMakeModel: models.OptionalString(strings.Join(parts, " ")),
		ReplacementColor:     models.OptionalString(in.Color),
		ReplacementTrim:      models.OptionalString(in.Trim),
		ReplacementMiles:     in.Miles,
		Status:               models.StatusPending,
		RequestedBy:          in.RequestedBy,
	}
	if err := s.Swaps.InsertSwapRequest(ctx, req); err != nil {
		return models.SwapRequest{}, err
	}
	return req, nil
}

func nonNegative(field string, v *float64) error {
	if v != nil && *v < 0 {
		return invalid(field, "must not be negative")
	}
	return nil
}

func statusValues(statuses []models.Status) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = s
	}
	return out
}
