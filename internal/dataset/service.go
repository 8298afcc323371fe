// Package dataset is the entry point for consumers: it resolves a query
// through the source chain, validates the result and attaches a quality
// report.
package dataset

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
	"github.com/sells-group/sportsfeed/internal/quota"
	"github.com/sells-group/sportsfeed/internal/resilience"
	"github.com/sells-group/sportsfeed/internal/source"
	"github.com/sells-group/sportsfeed/internal/store"
	"github.com/sells-group/sportsfeed/internal/validate"
)

// Resolver resolves a query through a source chain.
type Resolver interface {
	Resolve(ctx context.Context, q model.Query, forceRefresh bool) (*source.Resolved, error)
}

// QuotaReporter exposes ledger state for status reads.
type QuotaReporter interface {
	Snapshot() []quota.Status
}

// Options controls a single Get.
type Options struct {
	// ForceRefresh skips the fresh-cache lookup.
	ForceRefresh bool
}

// Request is one query in a GetMany batch.
type Request struct {
	Domain  model.Domain      `json:"domain"`
	Params  map[string]string `json:"params,omitempty"`
	Options Options           `json:"-"`
}

// Result is a dataset with its provenance and quality annotation.
type Result struct {
	Domain    model.Domain     `json:"domain"`
	Data      []model.Record   `json:"data"`
	Quality   quality.Report   `json:"quality"`
	Source    string           `json:"source"`
	FetchedAt time.Time        `json:"fetched_at"`
	FromCache bool             `json:"from_cache"`
	Stale     bool             `json:"stale"`
	Attempts  []source.Attempt `json:"attempts,omitempty"`

	// Validation is the full rule output behind Quality.
	Validation *validate.Result `json:"-"`
}

// Status is a read-only view of the pipeline.
type Status struct {
	Quota       []quota.Status                  `json:"quota"`
	Reports     map[model.Domain]quality.Report `json:"reports"`
	Overall     quality.Overall                 `json:"overall"`
	Breakers    map[string]string               `json:"breakers,omitempty"`
	GeneratedAt time.Time                       `json:"generated_at"`
}

// Service implements getDataset and the status read.
type Service struct {
	resolver   Resolver
	store      store.Store
	history    *quality.History
	aggregator *quality.Aggregator
	quota      QuotaReporter
	breakers   *resilience.Breakers
	validation validate.Options
	now        func() time.Time

	// latest holds the newest report per domain for Status.
	mu     sync.RWMutex
	latest map[model.Domain]quality.Report
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists snapshots and reports. Persistence is best effort.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithHistory replaces the default in-memory report history.
func WithHistory(h *quality.History) Option {
	return func(s *Service) { s.history = h }
}

// WithAggregator replaces the default domain weighting.
func WithAggregator(a *quality.Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

// WithValidation sets the dataset-level check options.
func WithValidation(o validate.Options) Option {
	return func(s *Service) { s.validation = o }
}

// WithQuota reports ledger state in Status.
func WithQuota(q QuotaReporter) Option {
	return func(s *Service) { s.quota = q }
}

// WithBreakers reports breaker state in Status.
func WithBreakers(b *resilience.Breakers) Option {
	return func(s *Service) { s.breakers = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(resolver Resolver, opts ...Option) *Service {
	s := &Service{
		resolver:   resolver,
		history:    quality.NewHistory(quality.DefaultHistorySize),
		aggregator: quality.NewAggregator(nil),
		validation: validate.DefaultOptions(),
		now:        time.Now,
		latest:     make(map[model.Domain]quality.Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// History returns the in-memory report history.
func (s *Service) History() *quality.History { return s.history }

// Store returns the configured store, or nil.
func (s *Service) Store() store.Store { return s.store }

// Get resolves, validates and scores one dataset. It returns an error
// wrapping source.ErrSourcesExhausted when no source or cache entry could
// serve the query; validation problems never fail the call.
func (s *Service) Get(ctx context.Context, domain model.Domain, params map[string]string, opts Options) (*Result, error) {
	q := model.NewQuery(domain, params)
	res, err := s.resolver.Resolve(ctx, q, opts.ForceRefresh)
	if err != nil {
		return nil, err
	}

	var records []model.Record
	if res.Payload != nil {
		records = res.Payload.Records
	}
	vopts := s.validation
	vopts.Now = s.now()
	vres := validate.Dataset(domain, records, vopts)
	report := quality.NewReport(vres, res.Source, res.Stale, vopts.Now)

	s.record(ctx, report)
	if !res.FromCache && !res.Stale && res.Source != source.NameSnapshot {
		s.saveSnapshot(ctx, q, res)
	}

	zap.L().Info("dataset: served",
		zap.String("query", q.Key()),
		zap.String("source", res.Source),
		zap.Bool("from_cache", res.FromCache),
		zap.Bool("stale", res.Stale),
		zap.Int("records", len(records)),
		zap.Float64("confidence", report.Confidence),
		zap.String("trust_level", string(report.TrustLevel)),
	)

	return &Result{
		Domain:     domain,
		Data:       records,
		Quality:    report,
		Source:     res.Source,
		FetchedAt:  res.FetchedAt,
		FromCache:  res.FromCache,
		Stale:      res.Stale,
		Attempts:   res.Attempts,
		Validation: vres,
	}, nil
}

// GetMany runs the requests concurrently. Results line up with reqs; a
// failed request leaves a nil slot and its error is joined into the
// returned error while the other results are still returned.
func (s *Service) GetMany(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	for i, r := range reqs {
		g.Go(func() error {
			results[i], errs[i] = s.Get(ctx, r.Domain, r.Params, r.Options)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// Status reports quota, breaker and quality state without fetching or
// charging anything. Domains with no report in memory are filled from the
// store when one is configured.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	out := &Status{
		Reports:     make(map[model.Domain]quality.Report),
		GeneratedAt: s.now().UTC(),
	}
	if s.quota != nil {
		out.Quota = s.quota.Snapshot()
	}
	if s.breakers != nil {
		out.Breakers = s.breakers.States()
	}

	s.mu.RLock()
	for d, r := range s.latest {
		out.Reports[d] = r
	}
	s.mu.RUnlock()

	if s.store != nil {
		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		for _, d := range model.AllDomains() {
			if _, ok := out.Reports[d]; ok {
				continue
			}
			g.Go(func() error {
				reps, err := s.store.ListReports(ctx, store.ReportFilter{Domain: d, Limit: 1})
				if err != nil {
					return eris.Wrapf(err, "dataset: load latest %s report", d)
				}
				if len(reps) > 0 {
					mu.Lock()
					out.Reports[d] = reps[0]
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			zap.L().Warn("dataset: status store read failed", zap.Error(err))
		}
	}

	out.Overall = s.aggregator.Aggregate(out.Reports)
	return out, nil
}

func (s *Service) record(ctx context.Context, r quality.Report) {
	s.history.Add(r)
	s.mu.Lock()
	s.latest[r.Domain] = r
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.SaveReport(context.WithoutCancel(ctx), r); err != nil {
		zap.L().Warn("dataset: save report failed",
			zap.String("domain", string(r.Domain)),
			zap.Error(err),
		)
	}
}

func (s *Service) saveSnapshot(ctx context.Context, q model.Query, res *source.Resolved) {
	if s.store == nil || res.Payload.Len() == 0 {
		return
	}
	err := s.store.SaveSnapshot(context.WithoutCancel(ctx), &store.Snapshot{
		Key:       q.Key(),
		Domain:    q.Domain,
		Source:    res.Source,
		Payload:   &model.Payload{Records: res.Payload.Records},
		FetchedAt: res.FetchedAt,
	})
	if err != nil {
		zap.L().Warn("dataset: save snapshot failed",
			zap.String("query", q.Key()),
			zap.Error(err),
		)
	}
}
