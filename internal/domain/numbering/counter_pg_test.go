package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lims/lims/internal/platform/db"
)

// counterTable emulates the document_counter upsert.
type counterTable struct {
	values map[string]int64
}

func (t *counterTable) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (t *counterTable) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not supported")
}

func (t *counterTable) QueryRow(_ context.Context, _ string, args ...interface{}) pgx.Row {
	scope := args[0].(string)
	floor := args[1].(int64)
	cur, ok := t.values[scope]
	switch {
	case !ok:
		cur = floor + 1
	case cur > floor:
		cur++
	default:
		cur = floor + 1
	}
	t.values[scope] = cur
	return intRow(cur)
}

func (t *counterTable) snapshot() map[string]int64 {
	out := make(map[string]int64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

type intRow int64

func (r intRow) Scan(dest ...interface{}) error {
	*dest[0].(*int64) = int64(r)
	return nil
}

func newPGCounter(table *counterTable, seeder Seeder) *PGCounter {
	return &PGCounter{
		conn:   func(context.Context) db.Queryable { return table },
		seeder: seeder,
	}
}

func TestPGCounter_SkipsNumbersAlreadyStored(t *testing.T) {
	s, _ := ScopeOf(Request, time.Now())
	table := &counterTable{values: map[string]int64{s.Key: 4}}
	c := newPGCounter(table, &stubSeeder{last: 5})
	ctx := context.Background()

	before := table.snapshot()
	v, err := c.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	// The creation rolls back and the next attempt draws again.
	table.values = before
	v, err = c.Next(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v, "a retry must not draw the stored number again")
}

func TestPGCounter_SeedsMissingScope(t *testing.T) {
	s, _ := ScopeOf(Invoice, time.Now())
	table := &counterTable{values: map[string]int64{}}
	c := newPGCounter(table, &stubSeeder{last: 41})

	v, err := c.Next(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, int64(42), table.values[s.Key])
}

func TestPGCounter_AheadOfStoredNumbers(t *testing.T) {
	s, _ := ScopeOf(Case, time.Now())
	table := &counterTable{values: map[string]int64{s.Key: 9}}
	c := newPGCounter(table, &stubSeeder{last: 3})

	v, err := c.Next(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
}

func TestPGCounter_SeederError(t *testing.T) {
	s, _ := ScopeOf(Request, time.Now())
	table := &counterTable{values: map[string]int64{}}
	c := newPGCounter(table, &stubSeeder{err: errors.New("boom")})

	_, err := c.Next(context.Background(), s)
	require.Error(t, err)
	assert.Empty(t, table.values, "no increment when the floor is unknown")
}
