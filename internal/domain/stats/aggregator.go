package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lims/lims/internal/domain/billing"
	"github.com/lims/lims/internal/domain/customer"
)

// Aggregator computes read-only rollups. Every rollup is independent, so
// they are safe to run concurrently.
type Aggregator struct {
	store     Store
	customers customer.Lookup
	logger    zerolog.Logger
}

func NewAggregator(store Store, customers customer.Lookup, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, customers: customers, logger: logger}
}

// Rate is num/den as a percentage rounded to 2 dp, and 0 when den is 0.
func Rate(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(num)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(den)), 2).
		InexactFloat64()
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func (a *Aggregator) requestStats(ctx context.Context, customerID *uuid.UUID) (RequestStats, error) {
	byStatus, err := a.store.RequestsByStatus(ctx, customerID)
	if err != nil {
		return RequestStats{}, err
	}
	return RequestStats{TotalRequests: sum(byStatus), RequestsByInternalStatus: byStatus}, nil
}

func (a *Aggregator) CustomerStats(ctx context.Context, customerID uuid.UUID) (*CustomerStats, error) {
	if _, err := a.customers.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	out := &CustomerStats{CustomerID: customerID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := a.requestStats(gctx, &customerID)
		out.RequestStats = rs
		return err
	})
	var buckets map[string]Bucket
	g.Go(func() error {
		var err error
		buckets, err = a.store.InvoicesByStatus(gctx, &customerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paid := buckets[string(billing.PaymentPaid)]
	pending := buckets[string(billing.PaymentPending)]
	overdue := buckets[string(billing.PaymentOverdue)]
	for _, b := range buckets {
		out.TotalInvoices += b.Count
	}
	out.TotalPaid = paid.Amount
	out.TotalOutstanding = pending.Amount.Add(overdue.Amount)
	out.TotalBilled = out.TotalPaid.Add(out.TotalOutstanding)
	return out, nil
}

func (a *Aggregator) LabStats(ctx context.Context) (*LabStats, error) {
	byStatus, err := a.store.TestsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	total, abnormal, err := a.store.ResultCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &LabStats{
		TotalTests:      sum(byStatus),
		TestsByStatus:   byStatus,
		TotalResults:    total,
		AbnormalResults: abnormal,
		AbnormalRate:    Rate(abnormal, total),
	}, nil
}

// InvoiceStats rolls up all invoices. Revenue this month counts invoices
// paid in now's calendar month.
func (a *Aggregator) InvoiceStats(ctx context.Context, now time.Time) (*InvoiceStats, error) {
	buckets, err := a.store.InvoicesByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	thisMonth, err := a.store.PaidBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}

	out := &InvoiceStats{
		CountsByPaymentStatus: make(map[string]int, len(buckets)),
		RevenueThisMonth:      thisMonth,
	}
	for status, b := range buckets {
		out.TotalInvoices += b.Count
		out.CountsByPaymentStatus[status] = b.Count
	}
	out.PaidRevenue = buckets[string(billing.PaymentPaid)].Amount
	out.PendingRevenue = buckets[string(billing.PaymentPending)].Amount.
		Add(buckets[string(billing.PaymentOverdue)].Amount)
	out.PaymentRate = Rate(buckets[string(billing.PaymentPaid)].Count, out.TotalInvoices)
	return out, nil
}

// Dashboard runs the request, lab and invoice rollups concurrently.
func (a *Aggregator) Dashboard(ctx context.Context, now time.Time) (*Dashboard, error) {
	d := &Dashboard{GeneratedAt: now}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := a.requestStats(gctx, nil)
		d.Requests = rs
		return err
	})
	g.Go(func() error {
		ls, err := a.LabStats(gctx)
		if err == nil {
			d.Lab = *ls
		}
		return err
	})
	g.Go(func() error {
		is, err := a.InvoiceStats(gctx, now)
		if err == nil {
			d.Invoices = *is
		}
		return err
	})
	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Msg("dashboard rollup failed")
		return nil, err
	}
	return d, nil
}
