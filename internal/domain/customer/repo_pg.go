package customer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const customerCols = `id, name, legal_entity_id, operator_id_card, email, phone, address, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.LegalEntityID, &c.OperatorIDCard,
		&c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("customer")
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Customer) error {
	c.ID = uuid.New()
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO customer (id, name, legal_entity_id, operator_id_card, email, phone, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Name, c.LegalEntityID, c.OperatorIDCard, c.Email, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "customer_legal_entity_id_key"):
		return apperr.AlreadyExists("customer with legal entity id %s already exists", c.LegalEntityID)
	case db.IsUniqueViolation(err, "customer_operator_id_card_key"):
		return apperr.AlreadyExists("customer with operator id card %s already exists", c.OperatorIDCard)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return scanCustomer(r.conn(ctx).QueryRow(ctx, `SELECT `+customerCols+` FROM customer WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return scanCustomer(r.conn(ctx).QueryRow(ctx, `SELECT `+customerCols+` FROM customer WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Customer) error {
	c.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE customer SET name=$2, email=$3, phone=$4, address=$5, updated_at=$6
		WHERE id = $1`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("customer")
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM customer WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("customer")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM customer`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+customerCols+` FROM customer ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
