package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/model"
)

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// StaleRetention is how long an entry outlives its TTL in Redis so it
	// can still serve as last-known-good. Default: 7 days.
	StaleRetention time.Duration
}

// RedisStore is a Store shared across processes. Values are gzipped JSON
// entries written with a single SET, so replacement is atomic per key.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", cfg.Addr)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sportsfeed:cache:"
	}
	retention := cfg.StaleRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention, now: time.Now}
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Get(ctx context.Context, q model.Query) (*Entry, error) {
	e, err := r.Latest(ctx, q)
	if err != nil || e == nil {
		return nil, err
	}
	if !e.Fresh(r.now()) {
		return nil, nil
	}
	return e, nil
}

func (r *RedisStore) Latest(ctx context.Context, q model.Query) (*Entry, error) {
	val, err := r.client.Get(ctx, r.prefix+q.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}

	raw, err := gunzip(val)
	if err != nil {
		return nil, eris.Wrap(err, "cache: decompress entry")
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, eris.Wrap(err, "cache: decode entry")
	}
	return &e, nil
}

func (r *RedisStore) Put(ctx context.Context, q model.Query, payload *model.Payload, source string, ttl time.Duration) (*Entry, error) {
	e := &Entry{
		Key:       q.Key(),
		Query:     q,
		Payload:   payload,
		FetchedAt: r.now().UTC(),
		TTL:       ttl,
		Source:    source,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrap(err, "cache: encode entry")
	}
	val, err := gzipBytes(raw)
	if err != nil {
		return nil, eris.Wrap(err, "cache: compress entry")
	}
	if err := r.client.Set(ctx, r.prefix+e.Key, val, ttl+r.retention).Err(); err != nil {
		return nil, eris.Wrap(err, "cache: redis set")
	}
	return e, nil
}

func (r *RedisStore) Invalidate(ctx context.Context, q model.Query) error {
	return eris.Wrap(r.client.Del(ctx, r.prefix+q.Key()).Err(), "cache: redis del")
}

// Clear deletes every key under the prefix.
func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return eris.Wrap(err, "cache: redis clear")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "cache: redis scan")
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return eris.Wrap(err, "cache: redis clear")
		}
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close() //nolint:errcheck
	return io.ReadAll(zr)
}
