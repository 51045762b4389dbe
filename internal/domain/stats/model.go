package stats

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bucket is the count and net total of the invoices in one payment status.
type Bucket struct {
	Count  int
	Amount decimal.Decimal
}

type RequestStats struct {
	TotalRequests            int            `json:"total_requests"`
	RequestsByInternalStatus map[string]int `json:"requests_by_internal_status"`
}

type CustomerStats struct {
	CustomerID uuid.UUID `json:"customer_id"`
	RequestStats
	TotalInvoices    int             `json:"total_invoices"`
	TotalBilled      decimal.Decimal `json:"total_billed"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
}

type LabStats struct {
	TotalTests      int            `json:"total_tests"`
	TestsByStatus   map[string]int `json:"tests_by_status"`
	TotalResults    int            `json:"total_results"`
	AbnormalResults int            `json:"abnormal_results"`
	// AbnormalRate is a percentage.
	AbnormalRate float64 `json:"abnormal_rate"`
}

type InvoiceStats struct {
	TotalInvoices         int             `json:"total_invoices"`
	CountsByPaymentStatus map[string]int  `json:"counts_by_payment_status"`
	PaidRevenue           decimal.Decimal `json:"paid_revenue"`
	PendingRevenue        decimal.Decimal `json:"pending_revenue"`
	RevenueThisMonth      decimal.Decimal `json:"revenue_this_month"`
	// PaymentRate is the percentage of invoices that are paid.
	PaymentRate float64 `json:"payment_rate"`
}

type Dashboard struct {
	Requests    RequestStats `json:"requests"`
	Lab         LabStats     `json:"lab"`
	Invoices    InvoiceStats `json:"invoices"`
	GeneratedAt time.Time    `json:"generated_at"`
}
