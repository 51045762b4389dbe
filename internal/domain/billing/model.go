package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/workflow"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentOverdue   PaymentStatus = "OVERDUE"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

var paymentFlow = workflow.Machine[PaymentStatus]{
	Entity: "payment",
	Order:  []PaymentStatus{PaymentPending, PaymentOverdue, PaymentPaid},
	Edges: map[PaymentStatus][]PaymentStatus{
		PaymentPending:   {PaymentPaid, PaymentOverdue, PaymentCancelled},
		PaymentOverdue:   {PaymentPaid, PaymentCancelled},
		PaymentPaid:      {},
		PaymentCancelled: {},
	},
}

func (s PaymentStatus) Valid() bool { return paymentFlow.Known(s) }

// Invoice maps to the invoice table. At most one exists per test request.
type Invoice struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	InvoiceNo       string             `db:"invoice_no" json:"invoice_no"`
	TestRequestID   uuid.UUID          `db:"test_request_id" json:"test_request_id"`
	CustomerID      uuid.UUID          `db:"customer_id" json:"customer_id"`
	IssuedByID      *uuid.UUID         `db:"issued_by_id" json:"issued_by_id,omitempty"`
	IssueDate       time.Time          `db:"issue_date" json:"issue_date"`
	DueDate         time.Time          `db:"due_date" json:"due_date"`
	SubTotal        decimal.Decimal    `db:"sub_total" json:"sub_total"`
	TaxRate         decimal.Decimal    `db:"tax_rate" json:"tax_rate"`
	TaxAmount       decimal.Decimal    `db:"tax_amount" json:"tax_amount"`
	NetTotal        decimal.Decimal    `db:"net_total" json:"net_total"`
	PaymentStatus   PaymentStatus      `db:"payment_status" json:"payment_status"`
	PaymentProofRef *string            `db:"payment_proof_ref" json:"payment_proof_ref,omitempty"`
	PaidAt          *time.Time         `db:"paid_at" json:"paid_at,omitempty"`
	Notes           *string            `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
	LineItems       []*InvoiceLineItem `db:"-" json:"line_items,omitempty"`
}

// InvoiceLineItem maps to the invoice_line_item table.
type InvoiceLineItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Position    int             `db:"position" json:"position"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

type CreateInvoiceData struct {
	TestRequestID uuid.UUID        `json:"test_request_id" validate:"required"`
	CustomerID    uuid.UUID        `json:"customer_id" validate:"required"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	SubTotal      *decimal.Decimal `json:"sub_total,omitempty"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`
	IssuedByID    *uuid.UUID       `json:"issued_by_id,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	LineItems     []LineItemData   `json:"line_items" validate:"dive"`
}

type LineItemData struct {
	Description string          `json:"description" validate:"required"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type UpdateInvoiceData struct {
	DueDate  *time.Time       `json:"due_date,omitempty"`
	SubTotal *decimal.Decimal `json:"sub_total,omitempty"`
	TaxRate  *decimal.Decimal `json:"tax_rate,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
}

// InvoiceFilter narrows List. Zero fields are ignored.
type InvoiceFilter struct {
	CustomerID    *uuid.UUID
	PaymentStatus PaymentStatus
	IssuedFrom    *time.Time
	IssuedTo      *time.Time
}
