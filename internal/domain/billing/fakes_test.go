package billing

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/domain/customer"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/numbering"
	"github.com/lims/lims/internal/platform/apperr"
)

// memInvoices is a map-backed InvoiceRepository that also serves as its
// own transactor. A failed transaction restores the pre-transaction maps.
type memInvoices struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	seq      int
	invoices map[uuid.UUID]Invoice
	items    map[uuid.UUID][]InvoiceLineItem
	failOn   map[string]error
}

func newMemInvoices() *memInvoices {
	return &memInvoices{
		invoices: make(map[uuid.UUID]Invoice),
		items:    make(map[uuid.UUID][]InvoiceLineItem),
		failOn:   make(map[string]error),
	}
}

type memTxKey struct{}

func (m *memInvoices) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	invoices := make(map[uuid.UUID]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = v
	}
	items := make(map[uuid.UUID][]InvoiceLineItem, len(m.items))
	for k, v := range m.items {
		items[k] = append([]InvoiceLineItem(nil), v...)
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.invoices, m.items = invoices, items
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memInvoices) Create(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn["Create"]; ok {
		return err
	}
	for _, existing := range m.invoices {
		if existing.TestRequestID == inv.TestRequestID {
			return apperr.AlreadyExists("invoice already exists for test request %s", inv.TestRequestID)
		}
		if existing.InvoiceNo == inv.InvoiceNo {
			return errNumberTaken
		}
	}
	m.seq++
	inv.ID = uuid.New()
	inv.CreatedAt = time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
	inv.UpdatedAt = inv.CreatedAt
	c := *inv
	c.LineItems = nil
	m.invoices[inv.ID] = c
	return nil
}

func (m *memInvoices) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice")
	}
	return &inv, nil
}

func (m *memInvoices) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *memInvoices) GetByTestRequest(ctx context.Context, testRequestID uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.TestRequestID == testRequestID {
			c := inv
			return &c, nil
		}
	}
	return nil, apperr.NotFound("invoice")
}

func (m *memInvoices) Update(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice")
	}
	c := *inv
	c.LineItems = nil
	m.invoices[inv.ID] = c
	return nil
}

func (m *memInvoices) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Invoice
	for _, inv := range m.invoices {
		if f.CustomerID != nil && inv.CustomerID != *f.CustomerID {
			continue
		}
		if f.PaymentStatus != "" && inv.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.IssuedFrom != nil && inv.IssueDate.Before(*f.IssuedFrom) {
			continue
		}
		if f.IssuedTo != nil && !inv.IssueDate.Before(*f.IssuedTo) {
			continue
		}
		c := inv
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memInvoices) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var numbers []string
	for id, inv := range m.invoices {
		if inv.PaymentStatus == PaymentPending && inv.DueDate.Before(now) {
			inv.PaymentStatus = PaymentOverdue
			m.invoices[id] = inv
			numbers = append(numbers, inv.InvoiceNo)
		}
	}
	sort.Strings(numbers)
	return numbers, nil
}

func (m *memInvoices) AddLineItem(ctx context.Context, li *InvoiceLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn["AddLineItem"]; ok {
		return err
	}
	li.ID = uuid.New()
	m.items[li.InvoiceID] = append(m.items[li.InvoiceID], *li)
	return nil
}

func (m *memInvoices) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*InvoiceLineItem
	for _, li := range m.items[invoiceID] {
		c := li
		out = append(out, &c)
	}
	return out, nil
}

// =========== collaborators ===========

type mockRequests map[uuid.UUID]*lab.TestRequest

func (m mockRequests) GetTestRequest(ctx context.Context, id uuid.UUID) (*lab.TestRequest, error) {
	tr, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("test request")
	}
	return tr, nil
}

type mockCustomers map[uuid.UUID]*customer.Customer

func (m mockCustomers) GetCustomer(ctx context.Context, id uuid.UUID) (*customer.Customer, error) {
	c, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("customer")
	}
	return c, nil
}

var testNow = time.Date(2024, 10, 15, 10, 30, 0, 0, time.UTC)

type billingEnv struct {
	svc        *Service
	store      *memInvoices
	requests   mockRequests
	customers  mockCustomers
	customerID uuid.UUID
}

func newBillingEnv(t *testing.T) *billingEnv {
	t.Helper()
	store := newMemInvoices()
	customerID := uuid.New()
	customers := mockCustomers{customerID: {ID: customerID, Name: "Siam Vet Clinic"}}
	requests := mockRequests{}

	numbers := numbering.NewGenerator(numbering.NewMemoryCounter())
	numbers.SetClock(func() time.Time { return testNow })
	svc := NewService(store, requests, customers, store, numbers, zerolog.Nop())
	svc.SetClock(func() time.Time { return testNow })
	return &billingEnv{svc: svc, store: store, requests: requests, customers: customers, customerID: customerID}
}

// addRequest registers a test request whose samples carry the given panels.
func (e *billingEnv) addRequest(panels ...string) *lab.TestRequest {
	tr := &lab.TestRequest{
		ID:         uuid.New(),
		RequestNo:  "TR-20241015-" + uuid.NewString()[:6],
		CustomerID: e.customerID,
	}
	for i, p := range panels {
		panel := p
		tr.Samples = append(tr.Samples, &lab.TestRequestSample{
			ID:               uuid.New(),
			TestRequestID:    tr.ID,
			CustomerSampleID: "S-" + string(rune('A'+i)),
			Panel:            &panel,
			RequestedQty:     1,
		})
	}
	e.requests[tr.ID] = tr
	return tr
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
