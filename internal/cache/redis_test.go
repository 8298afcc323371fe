package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/model"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("SPORTSFEED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPORTSFEED_TEST_REDIS_ADDR not set")
	}
	r, err := NewRedis(context.Background(), RedisConfig{
		Addr:      addr,
		KeyPrefix: "sportsfeed:test:" + t.Name() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Clear(context.Background())
		_ = r.Close()
	})
	return r
}

func TestRedisStore_RoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	q := model.NewQuery(model.DomainOdds, nil)

	_, err := r.Put(ctx, q, &model.Payload{Records: []model.Record{{"home_team": "KC", "total": 47.5}}}, "odds_api", time.Minute)
	require.NoError(t, err)

	e, err := r.Get(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "odds_api", e.Source)
	assert.Equal(t, q.Key(), e.Key)
	total, ok := e.Payload.Records[0].Float("total")
	require.True(t, ok)
	assert.InDelta(t, 47.5, total, 1e-9)
}

func TestRedisStore_ExpiredStillLatest(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	q := model.NewQuery(model.DomainSchedule, nil)

	base := time.Now()
	r.now = func() time.Time { return base }
	_, err := r.Put(ctx, q, &model.Payload{}, "espn", time.Minute)
	require.NoError(t, err)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	e, err := r.Get(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = r.Latest(ctx, q)
	require.NoError(t, err)
	assert.NotNil(t, e)

	require.NoError(t, r.Invalidate(ctx, q))
	e, err = r.Latest(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestGzipRoundTrip(t *testing.T) {
	in := []byte(`{"key":"odds"}`)
	z, err := gzipBytes(in)
	require.NoError(t, err)
	out, err := gunzip(z)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
