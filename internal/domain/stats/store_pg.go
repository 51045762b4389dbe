package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lims/lims/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func (s *storePG) countBy(ctx context.Context, query string, args ...interface{}) (map[string]int, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *storePG) RequestsByStatus(ctx context.Context, customerID *uuid.UUID) (map[string]int, error) {
	return s.countBy(ctx, `
		SELECT lab_internal_status, COUNT(*) FROM test_request
		WHERE $1::uuid IS NULL OR customer_id = $1
		GROUP BY lab_internal_status`, customerID)
}

func (s *storePG) TestsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countBy(ctx, `SELECT lab_result_status, COUNT(*) FROM lab_test GROUP BY lab_result_status`)
}

func (s *storePG) ResultCounts(ctx context.Context) (int, int, error) {
	var total, abnormal int
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_abnormal) FROM lab_result`).Scan(&total, &abnormal)
	return total, abnormal, err
}

func (s *storePG) InvoicesByStatus(ctx context.Context, customerID *uuid.UUID) (map[string]Bucket, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT payment_status, COUNT(*), COALESCE(SUM(net_total), 0)::text FROM invoice
		WHERE $1::uuid IS NULL OR customer_id = $1
		GROUP BY payment_status`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Bucket)
	for rows.Next() {
		var status, amount string
		var b Bucket
		if err := rows.Scan(&status, &b.Count, &amount); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out[status] = b
	}
	return out, rows.Err()
}

func (s *storePG) PaidBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var amount string
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(net_total), 0)::text FROM invoice
		WHERE payment_status = 'PAID' AND paid_at >= $1 AND paid_at < $2`, from, to).Scan(&amount)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(amount)
}
