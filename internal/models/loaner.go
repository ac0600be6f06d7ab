package models

import (
	"strconv"
	"strings"
)

// Status is the lifecycle state of a loaner_requests row.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusActive          Status = "active"
	StatusReturnRequested Status = "return_requested"
	StatusClosed          Status = "closed"
	StatusConfirmed       Status = "confirmed"
)

// RequestType records how a row entered the fleet.
type RequestType string

const (
	RequestTypeManual  RequestType = "manual"
	RequestTypeInfleet RequestType = "infleet"
)

// ContractStatus is "on_contract" or anything else (off contract).
type ContractStatus string

const ContractOnContract ContractStatus = "on_contract"

var (
	// PendingStatuses are the statuses a request can be completed from.
	PendingStatuses = []Status{StatusPending, StatusApproved}
	// HistoryStatuses are shown on the history board.
	HistoryStatuses = []Status{StatusClosed, StatusConfirmed, StatusReturnRequested}
)

// IsValidStatus checks if a status is one of the known lifecycle states
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusActive, StatusReturnRequested, StatusClosed, StatusConfirmed:
		return true
	default:
		return false
	}
}

// IsPendingLike reports whether a request in this status may be completed.
// An absent status counts as pending.
func (s Status) IsPendingLike() bool {
	return s == "" || s == StatusPending || s == StatusApproved
}

// IsTerminal reports whether no write path moves the row back to active.
func (s Status) IsTerminal() bool {
	return s == StatusReturnRequested || s == StatusClosed || s == StatusConfirmed
}

// LoanerRequest is one vehicle's lifecycle instance in the loaner program.
// Nullable columns are pointers; nil means absent.
type LoanerRequest struct {
	ID           string      `json:"id,omitempty" bson:"_id,omitempty"`
	VIN          string      `json:"vin" bson:"vin"`
	Status       Status      `json:"status,omitempty" bson:"status,omitempty"`
	RequestType  RequestType `json:"request_type,omitempty" bson:"request_type,omitempty"`
	PStockNumber *string     `json:"p_stock_number,omitempty" bson:"p_stock_number,omitempty"`

	Year         *int    `json:"year,omitempty" bson:"year,omitempty"`
	Make         *string `json:"make,omitempty" bson:"make,omitempty"`
	Model        *string `json:"model,omitempty" bson:"model,omitempty"`
	Color        *string `json:"color,omitempty" bson:"color,omitempty"`
	Trim         *string `json:"trim,omitempty" bson:"trim,omitempty"`
	LicensePlate *string `json:"license_plate,omitempty" bson:"license_plate,omitempty"`

	DateInfleet            *Timestamp `json:"date_infleet,omitempty" bson:"date_infleet,omitempty"`
	RDRDate                *Timestamp `json:"rdr_date,omitempty" bson:"rdr_date,omitempty"`
	InfleetApprovedAt      *Timestamp `json:"infleet_approved_at,omitempty" bson:"infleet_approved_at,omitempty"`
	DefleetConfirmedAt     *Timestamp `json:"defleet_confirmed_at,omitempty" bson:"defleet_confirmed_at,omitempty"`
	DefleetDealerTimestamp *Timestamp `json:"defleet_dealer_timestamp,omitempty" bson:"defleet_dealer_timestamp,omitempty"`

	MileageAtInfleet *float64 `json:"mileage_at_infleet,omitempty" bson:"mileage_at_infleet,omitempty"`
	MileageAtDefleet *float64 `json:"mileage_at_defleet,omitempty" bson:"mileage_at_defleet,omitempty"`
	VehicleCost      *float64 `json:"vehicle_cost,omitempty" bson:"vehicle_cost,omitempty"`

	ContractStatus ContractStatus `json:"contract_status,omitempty" bson:"contract_status,omitempty"`
	ContractDate   *Timestamp     `json:"contract_date,omitempty" bson:"contract_date,omitempty"`

	CustomerID   *string `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	CustomerName *string `json:"customer_name,omitempty" bson:"customer_name,omitempty"`

	InfleetDealerMatched *bool      `json:"infleet_dealer_matched,omitempty" bson:"infleet_dealer_matched,omitempty"`
	DefleetDealerMatched *bool      `json:"defleet_dealer_matched,omitempty" bson:"defleet_dealer_matched,omitempty"`
	CreatedAt            *Timestamp `json:"created_at,omitempty" bson:"created_at,omitempty"`
}

// OnContract reports whether the vehicle is currently on a customer contract.
func (r *LoanerRequest) OnContract() bool {
	return r.ContractStatus == ContractOnContract
}

// Title renders "year make model", skipping absent parts.
func (r *LoanerRequest) Title() string {
	parts := make([]string, 0, 3)
	if r.Year != nil {
		parts = append(parts, strconv.Itoa(*r.Year))
	}
	if r.Make != nil && *r.Make != "" {
		parts = append(parts, *r.Make)
	}
	if r.Model != nil && *r.Model != "" {
		parts = append(parts, *r.Model)
	}
	return strings.Join(parts, " ")
}

// Patch is a column -> value update applied to every row matching a filter.
// A nil value clears the column.
type Patch map[string]any
