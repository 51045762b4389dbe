package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store runs the aggregate queries behind the rollups. A nil customerID
// aggregates across all customers.
type Store interface {
	RequestsByStatus(ctx context.Context, customerID *uuid.UUID) (map[string]int, error)
	TestsByStatus(ctx context.Context) (map[string]int, error)
	ResultCounts(ctx context.Context) (total, abnormal int, err error)
	InvoicesByStatus(ctx context.Context, customerID *uuid.UUID) (map[string]Bucket, error)
	// PaidBetween sums the net total of invoices paid in [from, to).
	PaidBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}
