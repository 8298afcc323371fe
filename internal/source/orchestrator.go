package source

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sportsfeed/internal/cache"
	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/resilience"
)

// Ledger is the quota accounting the orchestrator needs.
type Ledger interface {
	Check(name string) error
	Consume(name string)
	Reconcile(name string, u model.Usage)
}

// Resolved is the outcome of resolving a query.
type Resolved struct {
	Query     model.Query    `json:"query"`
	Payload   *model.Payload `json:"payload"`
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	FromCache bool           `json:"from_cache"`
	Stale     bool           `json:"stale"`
	Attempts  []Attempt      `json:"attempts,omitempty"`
}

// Orchestrator walks a domain's source chain in priority order.
type Orchestrator struct {
	chains   map[model.Domain][]Descriptor
	ledger   Ledger
	cache    cache.Store
	breakers *resilience.Breakers
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithBreakers skips sources whose circuit breaker is open.
func WithBreakers(b *resilience.Breakers) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// NewOrchestrator creates an orchestrator. Each chain is ordered by
// ascending priority; ties keep configuration order.
func NewOrchestrator(chains map[model.Domain][]Descriptor, ledger Ledger, c cache.Store, opts ...Option) *Orchestrator {
	ordered := make(map[model.Domain][]Descriptor, len(chains))
	for d, chain := range chains {
		cp := append([]Descriptor(nil), chain...)
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Priority < cp[j].Priority })
		ordered[d] = cp
	}
	o := &Orchestrator{
		chains: ordered,
		ledger: ledger,
		cache:  c,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chain returns the ordered descriptors for a domain.
func (o *Orchestrator) Chain(d model.Domain) []Descriptor {
	return append([]Descriptor(nil), o.chains[d]...)
}

// Resolve returns data for q. A fresh cache entry short-circuits the chain
// unless forceRefresh is set. Otherwise each source is tried in order; the
// first success is cached and returned. When every source fails the last
// cached entry is returned marked stale, and ErrSourcesExhausted only when
// nothing was ever cached.
func (o *Orchestrator) Resolve(ctx context.Context, q model.Query, forceRefresh bool) (*Resolved, error) {
	log := zap.L().With(zap.String("query", q.Key()))

	if !forceRefresh {
		entry, err := o.cache.Get(ctx, q)
		if err != nil {
			log.Warn("source: cache read failed", zap.Error(err))
		} else if entry != nil {
			log.Debug("source: cache hit", zap.String("source", entry.Source))
			return o.fromEntry(q, entry, nil), nil
		}
	}

	chain := o.chains[q.Domain]
	attempts := make([]Attempt, 0, len(chain))

	for _, d := range chain {
		if ctx.Err() != nil {
			break
		}
		name := d.Name()

		if d.RequiresQuota {
			if err := o.checkQuota(name); err != nil {
				log.Info("source: skipping, quota unavailable", zap.String("source", name), zap.Error(err))
				attempts = append(attempts, Attempt{Source: name, Outcome: OutcomeSkippedQuota, Error: err.Error()})
				continue
			}
		}

		var br *resilience.Breaker
		if o.breakers != nil {
			br = o.breakers.For(name)
			if err := br.Allow(); err != nil {
				log.Info("source: skipping, circuit open", zap.String("source", name))
				attempts = append(attempts, Attempt{Source: name, Outcome: OutcomeSkippedBreaker, Error: err.Error()})
				continue
			}
		}

		start := o.now()
		payload, err := o.fetch(ctx, d, q)
		elapsed := o.now().Sub(start)
		if br != nil {
			if err == nil || SourceFault(err) {
				br.Record(err)
			} else {
				br.Skip()
			}
		}
		if d.RequiresQuota {
			o.account(name, payload, err)
		}

		if err != nil {
			log.Warn("source: fetch failed",
				zap.String("source", name),
				zap.String("charge", ChargeOf(err).String()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			attempts = append(attempts, Attempt{Source: name, Outcome: OutcomeFailed, Error: err.Error(), Duration: elapsed})
			continue
		}

		attempts = append(attempts, Attempt{Source: name, Outcome: OutcomeOK, Duration: elapsed})
		log.Info("source: fetched",
			zap.String("source", name),
			zap.Int("records", payload.Len()),
			zap.Duration("elapsed", elapsed),
		)

		entry, cerr := o.cache.Put(ctx, q, payload, name, d.TTL)
		if cerr != nil {
			log.Warn("source: cache write failed", zap.Error(cerr))
			entry = &cache.Entry{Key: q.Key(), Query: q, Payload: payload, FetchedAt: o.now(), TTL: d.TTL, Source: name}
		}
		res := o.fromEntry(q, entry, attempts)
		res.FromCache = false
		return res, nil
	}

	// Every source failed or was skipped. Fall back to the last known good
	// entry even if the caller's context is done.
	entry, err := o.cache.Latest(context.WithoutCancel(ctx), q)
	if err != nil {
		log.Warn("source: cache fallback read failed", zap.Error(err))
	}
	if entry != nil {
		res := o.fromEntry(q, entry, attempts)
		res.Stale = true
		log.Warn("source: all sources failed, serving cached data",
			zap.String("source", entry.Source),
			zap.Duration("age", entry.Age(o.now())),
		)
		return res, nil
	}

	log.Error("source: all sources exhausted", zap.Int("attempts", len(attempts)))
	return nil, &ExhaustedError{Query: q, Attempts: attempts, Cause: ctx.Err()}
}

func (o *Orchestrator) fromEntry(q model.Query, e *cache.Entry, attempts []Attempt) *Resolved {
	res := &Resolved{
		Query:     q,
		Payload:   e.Payload,
		Source:    e.Source,
		FetchedAt: e.FetchedAt,
		FromCache: true,
		Attempts:  attempts,
	}
	// Replayed payloads carry their own age.
	if e.Payload != nil && !e.Payload.AsOf.IsZero() {
		res.FetchedAt = e.Payload.AsOf
		if o.now().Sub(e.Payload.AsOf) >= e.TTL {
			res.Stale = true
		}
	}
	return res
}

func (o *Orchestrator) checkQuota(name string) error {
	if o.ledger == nil {
		return eris.Errorf("source: no quota ledger for %s", name)
	}
	return o.ledger.Check(name)
}

// account charges the ledger for a live call. Successful calls are always
// charged; failures are charged unless the source reports otherwise.
func (o *Orchestrator) account(name string, payload *model.Payload, err error) {
	if o.ledger == nil {
		return
	}
	var usage *model.Usage
	if err == nil {
		o.ledger.Consume(name)
		usage = payload.Usage
	} else {
		if ChargeOf(err) != NotCharged {
			o.ledger.Consume(name)
		}
		usage = UsageOf(err)
	}
	if usage != nil {
		o.ledger.Reconcile(name, *usage)
	}
}

type fetchResult struct {
	payload *model.Payload
	err     error
}

// fetch calls the source under its timeout. A source that ignores its
// context is abandoned when the deadline passes.
func (o *Orchestrator) fetch(ctx context.Context, d Descriptor, q model.Query) (*model.Payload, error) {
	name := d.Name()
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if d.Timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, d.Timeout)
	}
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		p, err := d.Source.Fetch(fctx, q)
		ch <- fetchResult{payload: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.payload == nil {
			return nil, Fail(name, ChargeUnknown, nil, eris.New("source: empty payload"))
		}
		return r.payload, nil
	case <-fctx.Done():
		return nil, Fail(name, ChargeUnknown, nil, eris.Wrapf(fctx.Err(), "source: %s fetch abandoned", name))
	}
}
