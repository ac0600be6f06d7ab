package db

import (
	"context"

	"github.com/ukydev/loaner-command-center/internal/models"
)

// Logical tables in the hosted datastore.
const (
	TableLoanerRequests = "loaner_requests"
	TableSwapRequests   = "loaner_swap_requests"
	TableAudit          = "loaner_audit"
)

// LoanerCollection defines the interface for loaner_requests operations.
type LoanerCollection interface {
	// InsertLoaner creates a row and returns its identifier, or "" when the
	// backend did not report one.
	InsertLoaner(ctx context.Context, row models.LoanerRequest) (string, error)
	// UpdateLoaners applies patch to every row matching filter and returns
	// the number of rows matched.
	UpdateLoaners(ctx context.Context, filter Filter, patch models.Patch) (int64, error)
	FindLoaners(ctx context.Context, q Query) ([]models.LoanerRequest, error)
}

// SwapRequestCollection defines the interface for loaner_swap_requests operations.
type SwapRequestCollection interface {
	InsertSwapRequest(ctx context.Context, req models.SwapRequest) error
}

// AuditCollection defines the interface for the append-only loaner_audit table.
type AuditCollection interface {
	InsertAudit(ctx context.Context, event models.AuditEvent) error
}

// Store is implemented by every datastore backend.
type Store interface {
	LoanerCollection
	SwapRequestCollection
	AuditCollection
}
