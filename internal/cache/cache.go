// Package cache holds the last successful payload per query. Entries are
// immutable; expiry is checked when an entry is read and expired entries
// stay available as last-known-good.
package cache

import (
	"context"
	"time"

	"github.com/sells-group/sportsfeed/internal/model"
)

// Entry is one cached payload. It is never modified after creation.
type Entry struct {
	Key       string         `json:"key"`
	Query     model.Query    `json:"query"`
	Payload   *model.Payload `json:"payload"`
	FetchedAt time.Time      `json:"fetched_at"`
	TTL       time.Duration  `json:"ttl"`
	Source    string         `json:"source"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Age returns how long ago the payload was fetched.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Store is the CacheStore contract. Get and Latest return (nil, nil) on a miss.
type Store interface {
	// Get returns the entry only while it is fresh.
	Get(ctx context.Context, q model.Query) (*Entry, error)
	// Latest returns the entry regardless of TTL.
	Latest(ctx context.Context, q model.Query) (*Entry, error)
	// Put stores a new entry, replacing any previous one for the query.
	Put(ctx context.Context, q model.Query, payload *model.Payload, source string, ttl time.Duration) (*Entry, error)
	// Invalidate drops the entry for the query.
	Invalidate(ctx context.Context, q model.Query) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
}
