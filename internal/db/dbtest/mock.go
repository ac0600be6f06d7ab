// Package dbtest provides a testify mock of the datastore collections.
package dbtest

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// MockStore is a mock implementation of db.Store
type MockStore struct {
	mock.Mock
}

var _ db.Store = (*MockStore)(nil)

func (m *MockStore) InsertLoaner(ctx context.Context, row models.LoanerRequest) (string, error) {
	args := m.Called(ctx, row)
	return args.String(0), args.Error(1)
}

func (m *MockStore) UpdateLoaners(ctx context.Context, filter db.Filter, patch models.Patch) (int64, error) {
	args := m.Called(ctx, filter, patch)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) FindLoaners(ctx context.Context, q db.Query) ([]models.LoanerRequest, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LoanerRequest), args.Error(1)
}

func (m *MockStore) InsertSwapRequest(ctx context.Context, req models.SwapRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockStore) InsertAudit(ctx context.Context, event models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// FilterHas matches a filter containing an equality condition column = value.
func FilterHas(column string, value any) any {
	return mock.MatchedBy(func(f db.Filter) bool {
		for _, c := range f {
			if c.Column == column && c.Op == db.OpEq && len(c.Values) == 1 && c.Values[0] == value {
				return true
			}
		}
		return false
	})
}
