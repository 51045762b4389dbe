package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

// PGCounter increments a row of document_counter. When ctx carries a
// transaction the increment joins it, so a rolled back creation also
// gives its number back. Each draw is floored at the highest number
// already stored for the scope, which keeps retries after a collision
// moving forward and lets the counter take over from another backend.
type PGCounter struct {
	conn   func(ctx context.Context) db.Queryable
	seeder Seeder
}

func NewPGCounter(pool *pgxpool.Pool) *PGCounter {
	return &PGCounter{
		conn:   func(ctx context.Context) db.Queryable { return db.Conn(ctx, pool) },
		seeder: NewPGSeeder(pool),
	}
}

func (c *PGCounter) Next(ctx context.Context, s Scope) (int64, error) {
	floor, err := c.seeder.MaxSequence(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("seed counter %s: %w", s.Key, err)
	}
	var v int64
	err = c.conn(ctx).QueryRow(ctx, `
		INSERT INTO document_counter (scope, value, updated_at)
		VALUES ($1, $2::bigint + 1, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET value = GREATEST(document_counter.value, $2::bigint) + 1, updated_at = NOW()
		RETURNING value`, s.Key, floor).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", s.Key, err)
	}
	return v, nil
}

// Seeder reports the highest sequence already used in a scope.
type Seeder interface {
	MaxSequence(ctx context.Context, s Scope) (int64, error)
}

var numberColumns = map[Kind]struct{ table, column string }{
	Request: {"test_request", "request_no"},
	Case:    {"lab_test", "case_no"},
	Invoice: {"invoice", "invoice_no"},
}

// PGSeeder reads the highest issued number of a scope from the table that
// stores it.
type PGSeeder struct {
	pool *pgxpool.Pool
}

func NewPGSeeder(pool *pgxpool.Pool) *PGSeeder {
	return &PGSeeder{pool: pool}
}

func (p *PGSeeder) MaxSequence(ctx context.Context, s Scope) (int64, error) {
	col, ok := numberColumns[s.Kind]
	if !ok {
		return 0, fmt.Errorf("unknown document kind: %s", s.Kind)
	}
	// Sequences may outgrow their padding, so order by length first.
	q := fmt.Sprintf(`SELECT %[1]s FROM %[2]s WHERE %[1]s LIKE $1
		ORDER BY LENGTH(%[1]s) DESC, %[1]s DESC LIMIT 1`, col.column, col.table)
	var last string
	err := db.Conn(ctx, p.pool).QueryRow(ctx, q, s.Key+"-%").Scan(&last)
	if db.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("max %s: %w", col.column, err)
	}
	return ParseSequence(s, last)
}

// ParseSequence extracts the sequence part of a number issued in scope s.
func ParseSequence(s Scope, number string) (int64, error) {
	suffix, ok := strings.CutPrefix(number, s.Key+"-")
	if !ok {
		return 0, fmt.Errorf("number %q is outside scope %s", number, s.Key)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sequence of %q: %w", number, err)
	}
	return n, nil
}
