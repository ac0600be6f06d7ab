package fleet

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/loaner-command-center/internal/models"
)

// MileageThreshold splits the mileage filter buckets.
const MileageThreshold = 10000

// Filter values; an empty string or "all" disables a filter.
const (
	FilterAll = "all"

	ContractOn  = "on_contract"
	ContractOff = "off_contract"

	DaysUnder6Months = "under_6mo"
	Days6MonthsPlus  = "6mo_plus"
	DaysUrgent       = "urgent"
	daysUrgentLegacy = "10d_from_7mo"

	MileageUnder10k = "under_10k"
	Mileage10kPlus  = "10k_plus"
)

// ActiveFilter narrows the active fleet board.
type ActiveFilter struct {
	Search   string
	Contract string
	Days     string
	Mileage  string
	Make     string
	Model    string
	Year     string
}

func enabled(v string) bool {
	return v != "" && v != FilterAll
}

// Active reports whether any filter other than search is set.
func (f ActiveFilter) Active() bool {
	return enabled(f.Contract) || enabled(f.Days) || enabled(f.Mileage) ||
		enabled(f.Make) || enabled(f.Model) || enabled(f.Year)
}

// Match reports whether v passes every enabled filter.
func (f ActiveFilter) Match(v *models.LoanerRequest, now time.Time) bool {
	if !f.matchSearch(v) {
		return false
	}

	if enabled(f.Contract) {
		on := v.OnContract()
		if f.Contract == ContractOn && !on {
			return false
		}
		if f.Contract == ContractOff && on {
			return false
		}
	}

	if enabled(f.Days) {
		days := DaysInFleet(v, now)
		switch f.Days {
		case DaysUnder6Months:
			if days >= CandidateThresholdDays {
				return false
			}
		case Days6MonthsPlus:
			if days < CandidateThresholdDays {
				return false
			}
		case DaysUrgent, daysUrgentLegacy:
			if days < UrgentThresholdDays {
				return false
			}
		}
	}

	if enabled(f.Mileage) {
		if v.MileageAtInfleet == nil {
			return false
		}
		m := *v.MileageAtInfleet
		if f.Mileage == MileageUnder10k && m >= MileageThreshold {
			return false
		}
		if f.Mileage == Mileage10kPlus && m < MileageThreshold {
			return false
		}
	}

	if enabled(f.Make) && deref(v.Make) != f.Make {
		return false
	}
	if enabled(f.Model) && deref(v.Model) != f.Model {
		return false
	}
	if enabled(f.Year) && (v.Year == nil || strconv.Itoa(*v.Year) != f.Year) {
		return false
	}
	return true
}

func (f ActiveFilter) matchSearch(v *models.LoanerRequest) bool {
	if f.Search == "" {
		return true
	}
	if strings.Contains(v.VIN, f.Search) || strings.Contains(deref(v.LicensePlate), f.Search) {
		return true
	}
	return strings.Contains(strings.ToLower(v.Title()), strings.ToLower(f.Search))
}

// Apply returns the rows of vehicles that pass f, in their original order.
func (f ActiveFilter) Apply(vehicles []models.LoanerRequest, now time.Time) []models.LoanerRequest {
	out := make([]models.LoanerRequest, 0, len(vehicles))
	for i := range vehicles {
		if f.Match(&vehicles[i], now) {
			out = append(out, vehicles[i])
		}
	}
	return out
}

// Facets are the distinct values offered by the make/model/year filters.
type Facets struct {
	Makes  []string `json:"makes"`
	Models []string `json:"models"`
	Years  []int    `json:"years"`
}

// BuildFacets collects sorted distinct makes and models, and years newest
// first.
func BuildFacets(vehicles []models.LoanerRequest) Facets {
	makes := map[string]struct{}{}
	modelNames := map[string]struct{}{}
	years := map[int]struct{}{}
	for _, v := range vehicles {
		if s := deref(v.Make); s != "" {
			makes[s] = struct{}{}
		}
		if s := deref(v.Model); s != "" {
			modelNames[s] = struct{}{}
		}
		if v.Year != nil && *v.Year != 0 {
			years[*v.Year] = struct{}{}
		}
	}

	facets := Facets{Makes: sortedKeys(makes), Models: sortedKeys(modelNames), Years: make([]int, 0, len(years))}
	for y := range years {
		facets.Years = append(facets.Years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(facets.Years)))
	return facets
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
