package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/loaner-command-center/internal/models"
)

func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func sampleFleet() []models.LoanerRequest {
	return []models.LoanerRequest{
		{VIN: "1HG123", Year: intPtr(2024), Make: strPtr("Honda"), Model: strPtr("Civic"), LicensePlate: strPtr("ABC123"),
			MileageAtInfleet: floatPtr(5000), RDRDate: daysAgo(10)},
		{VIN: "5YJ3E1", Year: intPtr(2025), Make: strPtr("Tesla"), Model: strPtr("Model 3"),
			MileageAtInfleet: floatPtr(12000), RDRDate: daysAgo(185), ContractStatus: models.ContractOnContract},
		{VIN: "WBA999", Year: intPtr(2023), Make: strPtr("BMW"), Model: strPtr("X5"), RDRDate: daysAgo(195)},
		{VIN: "1HG777", Year: intPtr(2024), Make: strPtr("Honda"), Model: strPtr("Accord"),
			MileageAtInfleet: floatPtr(10000), RDRDate: daysAgo(30)},
	}
}

func vins(rows []models.LoanerRequest) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.VIN
	}
	return out
}

func TestActiveFilter_Apply(t *testing.T) {
	fleet := sampleFleet()
	tests := []struct {
		name   string
		filter ActiveFilter
		want   []string
	}{
		{"no filters", ActiveFilter{}, []string{"1HG123", "5YJ3E1", "WBA999", "1HG777"}},
		{"all is no filter", ActiveFilter{Contract: FilterAll, Days: FilterAll}, []string{"1HG123", "5YJ3E1", "WBA999", "1HG777"}},
		{"search vin", ActiveFilter{Search: "1HG"}, []string{"1HG123", "1HG777"}},
		{"search plate", ActiveFilter{Search: "ABC"}, []string{"1HG123"}},
		{"search title case-insensitive", ActiveFilter{Search: "tesla model"}, []string{"5YJ3E1"}},
		{"on contract", ActiveFilter{Contract: ContractOn}, []string{"5YJ3E1"}},
		{"off contract", ActiveFilter{Contract: ContractOff}, []string{"1HG123", "WBA999", "1HG777"}},
		{"under 6 months", ActiveFilter{Days: DaysUnder6Months}, []string{"1HG123", "1HG777"}},
		{"6 months plus", ActiveFilter{Days: Days6MonthsPlus}, []string{"5YJ3E1", "WBA999"}},
		{"urgent", ActiveFilter{Days: DaysUrgent}, []string{"WBA999"}},
		{"under 10k excludes missing mileage", ActiveFilter{Mileage: MileageUnder10k}, []string{"1HG123"}},
		{"10k plus includes threshold", ActiveFilter{Mileage: Mileage10kPlus}, []string{"5YJ3E1", "1HG777"}},
		{"make and year", ActiveFilter{Make: "Honda", Year: "2024"}, []string{"1HG123", "1HG777"}},
		{"model", ActiveFilter{Model: "X5"}, []string{"WBA999"}},
		{"combined", ActiveFilter{Make: "Honda", Mileage: Mileage10kPlus}, []string{"1HG777"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vins(tt.filter.Apply(fleet, testNow)))
		})
	}
}

func TestActiveFilter_Active(t *testing.T) {
	assert.False(t, ActiveFilter{}.Active())
	assert.False(t, ActiveFilter{Search: "x", Make: FilterAll}.Active())
	assert.True(t, ActiveFilter{Year: "2024"}.Active())
}

func TestBuildFacets(t *testing.T) {
	facets := BuildFacets(sampleFleet())
	assert.Equal(t, []string{"BMW", "Honda", "Tesla"}, facets.Makes)
	assert.Equal(t, []string{"Accord", "Civic", "Model 3", "X5"}, facets.Models)
	assert.Equal(t, []int{2025, 2024, 2023}, facets.Years)

	empty := BuildFacets(nil)
	assert.Empty(t, empty.Makes)
	assert.Empty(t, empty.Years)
}
