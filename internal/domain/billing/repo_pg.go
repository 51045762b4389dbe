package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const invCols = `id, invoice_no, test_request_id, customer_id, issued_by_id, issue_date, due_date,
	sub_total::text, tax_rate::text, tax_amount::text, net_total::text, payment_status, payment_proof_ref,
	paid_at, notes, created_at, updated_at`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var sub, rate, tax, net string
	err := row.Scan(&inv.ID, &inv.InvoiceNo, &inv.TestRequestID, &inv.CustomerID, &inv.IssuedByID, &inv.IssueDate, &inv.DueDate,
		&sub, &rate, &tax, &net, &inv.PaymentStatus, &inv.PaymentProofRef,
		&inv.PaidAt, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("invoice")
	}
	if err != nil {
		return nil, err
	}
	if err := parseDecimals([]string{sub, rate, tax, net}, &inv.SubTotal, &inv.TaxRate, &inv.TaxAmount, &inv.NetTotal); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.InvoiceNo, err)
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	now := time.Now()
	inv.CreatedAt, inv.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, invoice_no, test_request_id, customer_id, issued_by_id, issue_date, due_date,
			sub_total, tax_rate, tax_amount, net_total, payment_status, payment_proof_ref, paid_at, notes,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		inv.ID, inv.InvoiceNo, inv.TestRequestID, inv.CustomerID, inv.IssuedByID, inv.IssueDate, inv.DueDate,
		inv.SubTotal.String(), inv.TaxRate.String(), inv.TaxAmount.String(), inv.NetTotal.String(),
		inv.PaymentStatus, inv.PaymentProofRef, inv.PaidAt, inv.Notes,
		inv.CreatedAt, inv.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "invoice_test_request_id_key"):
		return apperr.Wrap(apperr.AlreadyExists("invoice already exists for test request %s", inv.TestRequestID), err)
	case db.IsUniqueViolation(err, "invoice_invoice_no_key"):
		return errNumberTaken
	}
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`, id))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id))
}

func (r *invoiceRepoPG) GetByTestRequest(ctx context.Context, testRequestID uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE test_request_id = $1`, testRequestID))
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	inv.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET due_date=$2, sub_total=$3, tax_rate=$4, tax_amount=$5, net_total=$6,
			payment_status=$7, payment_proof_ref=$8, paid_at=$9, notes=$10, updated_at=$11
		WHERE id = $1`,
		inv.ID, inv.DueDate, inv.SubTotal.String(), inv.TaxRate.String(), inv.TaxAmount.String(), inv.NetTotal.String(),
		inv.PaymentStatus, inv.PaymentProofRef, inv.PaidAt, inv.Notes, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice")
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.CustomerID != nil {
		where += fmt.Sprintf(` AND customer_id = $%d`, idx)
		args = append(args, *f.CustomerID)
		idx++
	}
	if f.PaymentStatus != "" {
		where += fmt.Sprintf(` AND payment_status = $%d`, idx)
		args = append(args, f.PaymentStatus)
		idx++
	}
	if f.IssuedFrom != nil {
		where += fmt.Sprintf(` AND issue_date >= $%d`, idx)
		args = append(args, *f.IssuedFrom)
		idx++
	}
	if f.IssuedTo != nil {
		where += fmt.Sprintf(` AND issue_date < $%d`, idx)
		args = append(args, *f.IssuedTo)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invCols + ` FROM invoice` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE invoice SET payment_status = $1, updated_at = $3
		WHERE payment_status = $2 AND due_date < $3
		RETURNING invoice_no`, PaymentOverdue, PaymentPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		numbers = append(numbers, no)
	}
	return numbers, rows.Err()
}

func (r *invoiceRepoPG) AddLineItem(ctx context.Context, li *InvoiceLineItem) error {
	li.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line_item (id, invoice_id, position, description, quantity, unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		li.ID, li.InvoiceID, li.Position, li.Description, li.Quantity, li.UnitPrice.String(), li.LineTotal.String())
	return err
}

func (r *invoiceRepoPG) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, position, description, quantity, unit_price::text, line_total::text
		FROM invoice_line_item WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*InvoiceLineItem
	for rows.Next() {
		var li InvoiceLineItem
		var price, total string
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Position, &li.Description, &li.Quantity, &price, &total); err != nil {
			return nil, err
		}
		if err := parseDecimals([]string{price, total}, &li.UnitPrice, &li.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

// parseDecimals reads NUMERIC columns scanned as text into dst, in order.
func parseDecimals(values []string, dst ...*decimal.Decimal) error {
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}
