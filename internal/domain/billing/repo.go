package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/domain/lab"
)

// errNumberTaken is returned by Create when the invoice number collides.
var errNumberTaken = errors.New("invoice number already taken")

type InvoiceRepository interface {
	// Create fails with apperr AlreadyExists when the test request is
	// already invoiced.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByTestRequest(ctx context.Context, testRequestID uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// MarkOverdue moves pending invoices due before now to OVERDUE and
	// returns their numbers.
	MarkOverdue(ctx context.Context, now time.Time) ([]string, error)
	// Line Items
	AddLineItem(ctx context.Context, li *InvoiceLineItem) error
	GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLineItem, error)
}

// RequestSource loads a test request with its samples.
type RequestSource interface {
	GetTestRequest(ctx context.Context, id uuid.UUID) (*lab.TestRequest, error)
}
