package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/sportsfeed/internal/model"
)

// Memory is an in-process Store. Each key maps to an immutable *Entry and a
// put is a single map store, so readers see either the old entry or the new
// one.
type Memory struct {
	entries sync.Map // key -> *Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// WithClock sets the time source used for freshness checks and FetchedAt.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, q model.Query) (*Entry, error) {
	e := m.load(q)
	if e == nil || !e.Fresh(m.now()) {
		return nil, nil
	}
	return e, nil
}

func (m *Memory) Latest(_ context.Context, q model.Query) (*Entry, error) {
	return m.load(q), nil
}

func (m *Memory) Put(_ context.Context, q model.Query, payload *model.Payload, source string, ttl time.Duration) (*Entry, error) {
	e := &Entry{
		Key:       q.Key(),
		Query:     q,
		Payload:   payload,
		FetchedAt: m.now(),
		TTL:       ttl,
		Source:    source,
	}
	m.entries.Store(e.Key, e)
	return e, nil
}

// Store writes a prepared entry as-is. Tests use it to plant entries with a
// chosen FetchedAt.
func (m *Memory) Store(e *Entry) {
	m.entries.Store(e.Key, e)
}

func (m *Memory) Invalidate(_ context.Context, q model.Query) error {
	m.entries.Delete(q.Key())
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.entries.Range(func(k, _ any) bool {
		m.entries.Delete(k)
		return true
	})
	return nil
}

// Len returns the number of entries, fresh or not.
func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *Memory) load(q model.Query) *Entry {
	v, ok := m.entries.Load(q.Key())
	if !ok {
		return nil
	}
	return v.(*Entry)
}
