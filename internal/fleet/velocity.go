package fleet

import (
	"time"

	"github.com/ukydev/loaner-command-center/internal/models"
)

const (
	// CandidateThresholdDays marks a loaner as a cost velocity candidate.
	CandidateThresholdDays = 180
	// UrgentThresholdDays is ten days short of seven 30-day months.
	UrgentThresholdDays = 7*30 - 10

	day = 24 * time.Hour
)

// Velocity are the presentation flags derived from days in fleet.
// Urgent implies Candidate.
type Velocity struct {
	Candidate bool `json:"cost_velocity_candidate"`
	Urgent    bool `json:"urgent"`
}

// Classify derives the velocity flags for a days-in-fleet count.
func Classify(days int) Velocity {
	return Velocity{
		Candidate: days >= CandidateThresholdDays,
		Urgent:    days >= UrgentThresholdDays,
	}
}

// DaysInFleet counts whole days since the loaner entered service, using
// rdr_date, then date_infleet, then infleet_approved_at. Rows with none of
// those, or with a start in the future, count as 0.
func DaysInFleet(v *models.LoanerRequest, now time.Time) int {
	start := firstSet(v.RDRDate, v.DateInfleet, v.InfleetApprovedAt)
	if start == nil {
		return 0
	}
	return wholeDays(start.Time, now)
}

// HistoryDaysInFleet measures a historical record from infleet to defleet,
// falling back to now while the vehicle has not been defleeted.
func HistoryDaysInFleet(v *models.LoanerRequest, now time.Time) int {
	start := firstSet(v.InfleetApprovedAt, v.DateInfleet)
	if start == nil {
		return 0
	}
	end := now
	if stop := firstSet(v.DefleetConfirmedAt, v.DefleetDealerTimestamp); stop != nil {
		end = stop.Time
	}
	return wholeDays(start.Time, end)
}

// ContractDays is the number of days the vehicle has been on its current
// contract, or 0 when it is off contract or has no contract date.
func ContractDays(v *models.LoanerRequest, now time.Time) int {
	if !v.OnContract() || v.ContractDate == nil || v.ContractDate.IsZero() {
		return 0
	}
	return wholeDays(v.ContractDate.Time, now)
}

func firstSet(stamps ...*models.Timestamp) *models.Timestamp {
	for _, ts := range stamps {
		if ts != nil && !ts.IsZero() {
			return ts
		}
	}
	return nil
}

func wholeDays(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / day)
}
