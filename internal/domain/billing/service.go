package billing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/customer"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/telemetry"
	"github.com/lims/lims/internal/platform/validation"
)

const (
	numberAttempts  = 3
	DefaultDueDays  = 30
	defaultItemName = "Laboratory Testing Service"
	exportPageSize  = 500
)

type Service struct {
	invoices  InvoiceRepository
	requests  RequestSource
	customers customer.Lookup
	tx        db.Transactor
	numbers   *numbering.Generator
	prices    *PriceList
	taxRate   decimal.Decimal
	dueDays   int
	now       func() time.Time
	metrics   *telemetry.Provider
	logger    zerolog.Logger
}

func NewService(invoices InvoiceRepository, requests RequestSource, customers customer.Lookup, tx db.Transactor, numbers *numbering.Generator, logger zerolog.Logger) *Service {
	return &Service{
		invoices:  invoices,
		requests:  requests,
		customers: customers,
		tx:        tx,
		numbers:   numbers,
		prices:    StandardPriceList(DefaultUnitPrice),
		taxRate:   DefaultTaxRate,
		dueDays:   DefaultDueDays,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Service) SetPriceList(p *PriceList) {
	s.prices = p
}

func (s *Service) SetDefaultTaxRate(rate decimal.Decimal) {
	s.taxRate = rate
}

func (s *Service) SetDueDays(days int) {
	s.dueDays = days
}

func (s *Service) SetTelemetry(p *telemetry.Provider) {
	s.metrics = p
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GenerateInvoiceFromTestRequest bills one line per sample, priced by
// panel. A request without samples is billed a single flat service line.
func (s *Service) GenerateInvoiceFromTestRequest(ctx context.Context, testRequestID uuid.UUID, issuedByID *uuid.UUID) (*Invoice, error) {
	tr, err := s.requests.GetTestRequest(ctx, testRequestID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNotInvoiced(ctx, tr.ID); err != nil {
		return nil, err
	}

	data := CreateInvoiceData{
		TestRequestID: tr.ID,
		CustomerID:    tr.CustomerID,
		IssuedByID:    issuedByID,
	}
	for _, sample := range tr.Samples {
		panel := ""
		if sample.Panel != nil {
			panel = *sample.Panel
		}
		data.LineItems = append(data.LineItems, LineItemData{
			Description: fmt.Sprintf("%s - Sample: %s", panel, sample.CustomerSampleID),
			Quantity:    1,
			UnitPrice:   s.prices.PriceFor(panel),
		})
	}
	if len(data.LineItems) == 0 {
		data.LineItems = []LineItemData{{
			Description: defaultItemName,
			Quantity:    1,
			UnitPrice:   s.prices.Fallback(),
		}}
	}
	return s.create(ctx, data, tr)
}

func (s *Service) ensureNotInvoiced(ctx context.Context, testRequestID uuid.UUID) error {
	_, err := s.invoices.GetByTestRequest(ctx, testRequestID)
	switch {
	case err == nil:
		return apperr.AlreadyExists("invoice already exists for test request %s", testRequestID)
	case apperr.Is(err, apperr.KindNotFound):
		return nil
	default:
		return err
	}
}

// CreateInvoice persists an invoice and its line items in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, data CreateInvoiceData) (*Invoice, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	tr, err := s.requests.GetTestRequest(ctx, data.TestRequestID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, data, tr)
}

func (s *Service) create(ctx context.Context, data CreateInvoiceData, tr *lab.TestRequest) (*Invoice, error) {
	if err := validation.Struct(data); err != nil {
		return nil, err
	}
	rate := s.taxRate
	if data.TaxRate != nil {
		rate = *data.TaxRate
	}
	if err := checkTaxRate(rate); err != nil {
		return nil, err
	}
	subTotal, err := subTotalOf(data)
	if err != nil {
		return nil, err
	}
	if _, err := s.customers.GetCustomer(ctx, data.CustomerID); err != nil {
		return nil, err
	}
	if tr.CustomerID != data.CustomerID {
		return nil, apperr.Validation("test request %s does not belong to customer %s", tr.RequestNo, data.CustomerID)
	}

	now := s.now()
	taxAmount, netTotal := Totals(subTotal, rate)
	if err := checkAmount("net_total", netTotal); err != nil {
		return nil, err
	}
	inv := &Invoice{
		TestRequestID: data.TestRequestID,
		CustomerID:    data.CustomerID,
		IssueDate:     now,
		DueDate:       now.AddDate(0, 0, s.dueDays),
		SubTotal:      subTotal,
		TaxRate:       rate,
		TaxAmount:     taxAmount,
		NetTotal:      netTotal,
		PaymentStatus: PaymentPending,
		Notes:         data.Notes,
	}
	if data.DueDate != nil {
		inv.DueDate = *data.DueDate
	}
	if id, ok := auth.ActorOr(ctx, data.IssuedByID); ok {
		inv.IssuedByID = &id
	}

	err = db.RetryTx(ctx, s.tx, numberAttempts, func(ctx context.Context) error {
		no, err := s.numbers.Next(ctx, numbering.Invoice)
		if err != nil {
			return err
		}
		inv.InvoiceNo = no
		inv.LineItems = nil
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		for i, d := range data.LineItems {
			li := &InvoiceLineItem{
				InvoiceID:   inv.ID,
				Position:    i + 1,
				Description: d.Description,
				Quantity:    d.Quantity,
				UnitPrice:   d.UnitPrice,
				LineTotal:   LineTotal(d.Quantity, d.UnitPrice),
			}
			if err := s.invoices.AddLineItem(ctx, li); err != nil {
				return fmt.Errorf("add line item: %w", err)
			}
			inv.LineItems = append(inv.LineItems, li)
		}
		return nil
	}, errNumberTaken)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.metrics.InvoiceCreated(inv.NetTotal.InexactFloat64())
	s.logger.Info().
		Str("invoice_no", inv.InvoiceNo).
		Str("request_no", tr.RequestNo).
		Str("net_total", inv.NetTotal.StringFixed(2)).
		Msg("invoice created")
	return inv, nil
}

// subTotalOf derives the subtotal from the line items when there are any.
// A caller-supplied subtotal must then agree with them.
func subTotalOf(data CreateInvoiceData) (decimal.Decimal, error) {
	if len(data.LineItems) == 0 {
		if data.SubTotal == nil {
			return decimal.Zero, apperr.Validation("sub_total is required when no line items are given")
		}
		if err := checkAmount("sub_total", *data.SubTotal); err != nil {
			return decimal.Zero, err
		}
		return *data.SubTotal, nil
	}
	sum := decimal.Zero
	for _, li := range data.LineItems {
		if err := checkAmount("unit_price", li.UnitPrice); err != nil {
			return decimal.Zero, err
		}
		if err := checkAmount("line_total", LineTotal(li.Quantity, li.UnitPrice)); err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(LineTotal(li.Quantity, li.UnitPrice))
	}
	if data.SubTotal != nil && !data.SubTotal.IsZero() && !data.SubTotal.Equal(sum) {
		return decimal.Zero, apperr.Validation("sub_total %s does not match line items total %s", data.SubTotal.StringFixed(2), sum.StringFixed(2))
	}
	return sum, nil
}

func checkTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return apperr.Validation("tax_rate must be at least 0 and below 1")
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return apperr.Validation("tax_rate must have at most %d decimal places", RateScale)
	}
	return nil
}

// UpdateInvoice merges the supplied fields into the stored invoice and
// recomputes tax and net total from the merged subtotal and rate.
func (s *Service) UpdateInvoice(ctx context.Context, id uuid.UUID, data UpdateInvoiceData) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if paymentFlow.Terminal(cur.PaymentStatus) {
			return apperr.InvalidState("cannot update a %s invoice", strings.ToLower(string(cur.PaymentStatus)))
		}
		if data.SubTotal != nil {
			items, err := s.invoices.GetLineItems(ctx, cur.ID)
			if err != nil {
				return err
			}
			if len(items) > 0 && !data.SubTotal.Equal(cur.SubTotal) {
				return apperr.Validation("sub_total of an invoice with line items is derived from them")
			}
			if err := checkAmount("sub_total", *data.SubTotal); err != nil {
				return err
			}
			cur.SubTotal = *data.SubTotal
		}
		if data.TaxRate != nil {
			if err := checkTaxRate(*data.TaxRate); err != nil {
				return err
			}
			cur.TaxRate = *data.TaxRate
		}
		cur.TaxAmount, cur.NetTotal = Totals(cur.SubTotal, cur.TaxRate)
		if err := checkAmount("net_total", cur.NetTotal); err != nil {
			return err
		}
		if data.DueDate != nil {
			cur.DueDate = *data.DueDate
		}
		if data.Notes != nil {
			cur.Notes = data.Notes
		}
		if err := s.invoices.Update(ctx, cur); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, inv)
}

// MarkInvoiceAsPaid records payment. Paying a paid invoice again is a
// no-op.
func (s *Service) MarkInvoiceAsPaid(ctx context.Context, id uuid.UUID, proofRef *string) (*Invoice, error) {
	return s.settle(ctx, id, PaymentPaid, func(inv *Invoice) {
		now := s.now()
		inv.PaidAt = &now
		if proofRef != nil && *proofRef != "" {
			inv.PaymentProofRef = proofRef
		}
	})
}

func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.settle(ctx, id, PaymentCancelled, nil)
}

func (s *Service) settle(ctx context.Context, id uuid.UUID, to PaymentStatus, stamp func(*Invoice)) (*Invoice, error) {
	var inv *Invoice
	changed := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		inv = cur
		if cur.PaymentStatus == to {
			return nil
		}
		if err := paymentFlow.Validate(cur.PaymentStatus, to); err != nil {
			return err
		}
		cur.PaymentStatus = to
		if stamp != nil {
			stamp(cur)
		}
		changed = true
		return s.invoices.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.InvoiceEvent(string(to))
		s.logger.Info().
			Str("invoice_no", inv.InvoiceNo).
			Str("payment_status", string(to)).
			Msg("invoice settled")
	}
	return s.withLineItems(ctx, inv)
}

// MarkOverdue flags every pending invoice due before now.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	numbers, err := s.invoices.MarkOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	for range numbers {
		s.metrics.InvoiceEvent(string(PaymentOverdue))
	}
	s.logger.Info().Int("invoices", len(numbers)).Time("as_of", now).Msg("overdue invoices marked")
	return numbers, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, inv)
}

func (s *Service) GetInvoiceByTestRequest(ctx context.Context, testRequestID uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByTestRequest(ctx, testRequestID)
	if err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, inv)
}

func (s *Service) withLineItems(ctx context.Context, inv *Invoice) (*Invoice, error) {
	items, err := s.invoices.GetLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, apperr.Validation("unknown payment_status %q", f.PaymentStatus)
	}
	return s.invoices.List(ctx, f, limit, offset)
}

func (s *Service) ListInvoicesByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	if _, err := s.customers.GetCustomer(ctx, customerID); err != nil {
		return nil, 0, err
	}
	return s.invoices.List(ctx, InvoiceFilter{CustomerID: &customerID}, limit, offset)
}

// ExportMonth writes every invoice issued in month's calendar month as an
// XLSX workbook and returns how many were written.
func (s *Service) ExportMonth(ctx context.Context, month time.Time, w io.Writer) (int, error) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	to := from.AddDate(0, 1, 0)
	f := InvoiceFilter{IssuedFrom: &from, IssuedTo: &to}

	var all []*Invoice
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.invoices.List(ctx, f, exportPageSize, offset)
		if err != nil {
			return 0, err
		}
		all = append(all, page...)
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	names := make(map[uuid.UUID]string)
	for _, inv := range all {
		if _, ok := names[inv.CustomerID]; ok {
			continue
		}
		c, err := s.customers.GetCustomer(ctx, inv.CustomerID)
		if err != nil {
			return 0, err
		}
		names[inv.CustomerID] = c.Name
	}
	if err := WriteInvoiceWorkbook(w, all, names); err != nil {
		return 0, err
	}
	s.logger.Info().Str("month", from.Format("2006-01")).Int("invoices", len(all)).Msg("invoices exported")
	return len(all), nil
}
