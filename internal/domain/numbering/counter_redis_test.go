package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSeeder struct {
	last  int64
	err   error
	calls int
}

func (s *stubSeeder) MaxSequence(_ context.Context, _ Scope) (int64, error) {
	s.calls++
	return s.last, s.err
}

func newRedisCounter(t *testing.T, seeder Seeder) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCounter(rdb, seeder), mr
}

func TestRedisCounter_SeedsFromDatabase(t *testing.T) {
	seeder := &stubSeeder{last: 41}
	c, mr := newRedisCounter(t, seeder)
	s, _ := ScopeOf(Invoice, time.Now())

	v, err := c.Next(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = c.Next(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)
	assert.Equal(t, 1, seeder.calls, "seed runs only for a missing key")

	got, err := mr.Get(redisKeyPrefix + s.Key)
	require.NoError(t, err)
	assert.Equal(t, "43", got)
	assert.True(t, mr.TTL(redisKeyPrefix+s.Key) > 0)
}

func TestRedisCounter_ReseedsAfterKeyLoss(t *testing.T) {
	seeder := &stubSeeder{last: 0}
	c, mr := newRedisCounter(t, seeder)
	s, _ := ScopeOf(Request, time.Now())

	_, err := c.Next(context.Background(), s)
	require.NoError(t, err)

	mr.FlushAll()
	seeder.last = 10

	v, err := c.Next(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)
}

func TestRedisCounter_SeederError(t *testing.T) {
	c, _ := newRedisCounter(t, &stubSeeder{err: errors.New("db down")})
	s, _ := ScopeOf(Case, time.Now())

	_, err := c.Next(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRedisCounter_WithGenerator(t *testing.T) {
	c, _ := newRedisCounter(t, nil)
	g := NewGenerator(c)
	g.SetClock(func() time.Time { return fixedNow })

	no, err := g.Next(context.Background(), Invoice)
	require.NoError(t, err)
	assert.Equal(t, "INV-202410-0001", no)
}
