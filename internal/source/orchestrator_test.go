package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/cache"
	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quota"
	"github.com/sells-group/sportsfeed/internal/resilience"
	"github.com/sells-group/sportsfeed/internal/store"
)

type fakeSource struct {
	name    string
	domains []model.Domain
	calls   atomic.Int32
	fetch   func(ctx context.Context, q model.Query) (*model.Payload, error)
}

func (f *fakeSource) Name() string            { return f.name }
func (f *fakeSource) Domains() []model.Domain { return f.domains }
func (f *fakeSource) Fetch(ctx context.Context, q model.Query) (*model.Payload, error) {
	f.calls.Add(1)
	return f.fetch(ctx, q)
}

func okSource(name string, records ...model.Record) *fakeSource {
	return &fakeSource{
		name:    name,
		domains: model.AllDomains(),
		fetch: func(context.Context, model.Query) (*model.Payload, error) {
			return &model.Payload{Records: records}, nil
		},
	}
}

func failSource(name string, err error) *fakeSource {
	return &fakeSource{
		name:    name,
		domains: model.AllDomains(),
		fetch: func(context.Context, model.Query) (*model.Payload, error) {
			return nil, err
		},
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clock  *clock
	ledger *quota.Ledger
	cache  *cache.Memory
}

func newHarness(t *testing.T, limits quota.Limits) *harness {
	t.Helper()
	c := &clock{t: time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC)}
	ledger := quota.NewLedger(quota.NewMemoryStore(nil), map[string]quota.Limits{"primary": limits},
		quota.WithClock(c.Now), quota.WithLocation(time.UTC))
	return &harness{
		clock:  c,
		ledger: ledger,
		cache:  cache.NewMemory().WithClock(c.Now),
	}
}

func (h *harness) orchestrator(chain []Descriptor, opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	return NewOrchestrator(map[model.Domain][]Descriptor{model.DomainOdds: chain}, h.ledger, h.cache, opts...)
}

func (h *harness) used(t *testing.T) (daily, monthly int) {
	t.Helper()
	st, ok := h.ledger.Status("primary")
	require.True(t, ok)
	return st.Daily.Used, st.Monthly.Used
}

func oddsQuery() model.Query {
	return model.NewQuery(model.DomainOdds, nil)
}

func TestResolve_FreshCacheSkipsSources(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	primary := okSource("primary", model.Record{"game_id": "live"})
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: 5 * time.Minute}})

	_, err := h.cache.Put(context.Background(), oddsQuery(), &model.Payload{Records: []model.Record{{"game_id": "cached"}}}, "primary", 5*time.Minute)
	require.NoError(t, err)

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.False(t, res.Stale)
	assert.Equal(t, "cached", res.Payload.Records[0].String("game_id"))
	assert.Equal(t, int32(0), primary.calls.Load())

	daily, monthly := h.used(t)
	assert.Equal(t, 0, daily)
	assert.Equal(t, 0, monthly)
}

func TestResolve_PriorityOrder(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	low := okSource("low", model.Record{"game_id": "low"})
	high := okSource("high", model.Record{"game_id": "high"})
	o := h.orchestrator([]Descriptor{
		{Source: low, Priority: 5, TTL: time.Minute},
		{Source: high, Priority: 1, TTL: time.Minute},
	})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.Equal(t, "high", res.Source)
	assert.False(t, res.FromCache)
	assert.Equal(t, int32(1), high.calls.Load())
	assert.Equal(t, int32(0), low.calls.Load())

	names := []string{}
	for _, d := range o.Chain(model.DomainOdds) {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"high", "low"}, names)
}

func TestResolve_SuccessConsumesOnceAndCaches(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	primary := okSource("primary", model.Record{"game_id": "g1"})
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: 5 * time.Minute}})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Source)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeOK, res.Attempts[0].Outcome)

	// Second call within TTL is a cache hit and costs nothing.
	h.clock.Advance(time.Minute)
	res, err = o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	daily, monthly := h.used(t)
	assert.Equal(t, 1, daily)
	assert.Equal(t, 1, monthly)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestResolve_QuotaExhaustedFallsThrough(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 1, Monthly: 500})
	h.ledger.Consume("primary")

	primary := okSource("primary", model.Record{"game_id": "primary"})
	secondary := okSource("secondary", model.Record{"game_id": "secondary"})
	o := h.orchestrator([]Descriptor{
		{Source: primary, Priority: 1, RequiresQuota: true, TTL: time.Minute},
		{Source: secondary, Priority: 2, TTL: time.Minute},
	})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.Equal(t, "secondary", res.Source)
	assert.Equal(t, int32(0), primary.calls.Load())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, OutcomeSkippedQuota, res.Attempts[0].Outcome)

	daily, _ := h.used(t)
	assert.Equal(t, 1, daily, "skipped source must not be charged")
}

func TestResolve_FailureCharging(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		charged bool
	}{
		{"not charged", Fail("primary", NotCharged, nil, errors.New("401")), false},
		{"charged", Fail("primary", Charged, nil, errors.New("bad json")), true},
		{"unknown classification", Fail("primary", ChargeUnknown, nil, errors.New("reset")), true},
		{"plain error", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
			o := h.orchestrator([]Descriptor{
				{Source: failSource("primary", tt.err), Priority: 1, RequiresQuota: true, TTL: time.Minute},
				{Source: okSource("secondary"), Priority: 2, TTL: time.Minute},
			})

			res, err := o.Resolve(context.Background(), oddsQuery(), false)
			require.NoError(t, err)
			assert.Equal(t, "secondary", res.Source)
			assert.Equal(t, OutcomeFailed, res.Attempts[0].Outcome)

			daily, _ := h.used(t)
			if tt.charged {
				assert.Equal(t, 1, daily)
			} else {
				assert.Equal(t, 0, daily)
			}
		})
	}
}

func TestResolve_ReconcilesProviderUsage(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	primary := &fakeSource{
		name:    "primary",
		domains: model.AllDomains(),
		fetch: func(context.Context, model.Query) (*model.Payload, error) {
			return &model.Payload{Usage: &model.Usage{Used: 450, Remaining: 50}}, nil
		},
	}
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: time.Minute}})

	_, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)

	daily, monthly := h.used(t)
	assert.Equal(t, 1, daily)
	assert.Equal(t, 450, monthly)
}

func TestResolve_RejectedCallReconcilesWithoutCharge(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	rejected := Fail("primary", NotCharged, &model.Usage{Used: 500, Remaining: 0}, errors.New("429"))
	o := h.orchestrator([]Descriptor{
		{Source: failSource("primary", rejected), Priority: 1, RequiresQuota: true, TTL: time.Minute},
		{Source: okSource("secondary"), Priority: 2, TTL: time.Minute},
	})

	_, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)

	daily, monthly := h.used(t)
	assert.Equal(t, 0, daily)
	assert.Equal(t, 500, monthly)
	assert.False(t, h.ledger.CanConsume("primary"))
}

func TestResolve_TimeoutMovesOn(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	slow := &fakeSource{
		name:    "primary",
		domains: model.AllDomains(),
		fetch: func(context.Context, model.Query) (*model.Payload, error) {
			// Ignores its context on purpose.
			time.Sleep(300 * time.Millisecond)
			return &model.Payload{}, nil
		},
	}
	o := h.orchestrator([]Descriptor{
		{Source: slow, Priority: 1, RequiresQuota: true, TTL: time.Minute, Timeout: 20 * time.Millisecond},
		{Source: okSource("secondary"), Priority: 2, TTL: time.Minute},
	})

	start := time.Now()
	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, "secondary", res.Source)

	// A timed out call may have been accepted upstream.
	daily, _ := h.used(t)
	assert.Equal(t, 1, daily)
}

func TestResolve_AllFailServesStaleCache(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	_, err := h.cache.Put(context.Background(), oddsQuery(), &model.Payload{Records: []model.Record{{"game_id": "old"}}}, "primary", time.Hour)
	require.NoError(t, err)
	fetchedAt := h.clock.Now()
	// Two hours past a one hour TTL.
	h.clock.Advance(3 * time.Hour)

	o := h.orchestrator([]Descriptor{
		{Source: failSource("primary", errors.New("down")), Priority: 1, TTL: time.Hour},
		{Source: failSource("secondary", errors.New("down")), Priority: 2, TTL: time.Hour},
	})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.FromCache)
	assert.Equal(t, fetchedAt, res.FetchedAt)
	assert.Equal(t, "old", res.Payload.Records[0].String("game_id"))
	assert.Len(t, res.Attempts, 2)
}

func TestResolve_AllFailNoCache(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	o := h.orchestrator([]Descriptor{
		{Source: failSource("primary", errors.New("down")), Priority: 1, TTL: time.Minute},
	})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrSourcesExhausted))

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Len(t, ex.Attempts, 1)
}

func TestResolve_EmptyChainIsExhausted(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	o := NewOrchestrator(nil, h.ledger, h.cache)

	_, err := o.Resolve(context.Background(), model.NewQuery(model.DomainInjuries, nil), false)
	assert.True(t, errors.Is(err, ErrSourcesExhausted))
}

func TestResolve_ForceRefreshBypassesCache(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	_, err := h.cache.Put(context.Background(), oddsQuery(), &model.Payload{Records: []model.Record{{"game_id": "cached"}}}, "primary", time.Hour)
	require.NoError(t, err)

	primary := okSource("primary", model.Record{"game_id": "live"})
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: time.Hour}})

	res, err := o.Resolve(context.Background(), oddsQuery(), true)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "live", res.Payload.Records[0].String("game_id"))

	entry, err := h.cache.Get(context.Background(), oddsQuery())
	require.NoError(t, err)
	assert.Equal(t, "live", entry.Payload.Records[0].String("game_id"))
}

func TestResolve_OpenBreakerSkipsSource(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, Probes: 1}).WithClock(h.clock.Now)
	primary := failSource("primary", eris.New("down"))
	o := h.orchestrator([]Descriptor{
		{Source: primary, Priority: 1, TTL: time.Minute},
		{Source: okSource("secondary"), Priority: 2, TTL: time.Minute},
	}, WithBreakers(breakers))

	_, err := o.Resolve(context.Background(), oddsQuery(), true)
	require.NoError(t, err)
	assert.Equal(t, resilience.Open, breakers.For("primary").State())

	res, err := o.Resolve(context.Background(), oddsQuery(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedBreaker, res.Attempts[0].Outcome)
	assert.Equal(t, int32(1), primary.calls.Load())
}

type snapshotMap map[string]*store.Snapshot

func (m snapshotMap) LatestSnapshot(_ context.Context, key string) (*store.Snapshot, error) {
	return m[key], nil
}

func TestResolve_SnapshotMissesDoNotTripBreaker(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	breakers := resilience.NewBreakers(resilience.DefaultBreakerConfig()).WithClock(h.clock.Now)

	saved := model.NewQuery(model.DomainOdds, map[string]string{"sport": "americanfootball_nfl_saved"})
	snaps := snapshotMap{saved.Key(): {
		Key:       saved.Key(),
		Domain:    model.DomainOdds,
		Payload:   &model.Payload{Records: []model.Record{{"game_id": "saved"}}},
		FetchedAt: h.clock.Now().Add(-time.Hour),
	}}
	o := h.orchestrator([]Descriptor{
		{Source: failSource("live", errors.New("down")), Priority: 1, TTL: time.Minute},
		{Source: NewSnapshot(snaps), Priority: 9, TTL: time.Minute},
	}, WithBreakers(breakers))

	for i := 0; i < 6; i++ {
		q := model.NewQuery(model.DomainOdds, map[string]string{"sport": fmt.Sprintf("unsaved_%d", i)})
		_, err := o.Resolve(context.Background(), q, false)
		require.ErrorIs(t, err, ErrSourcesExhausted)
	}
	assert.Equal(t, resilience.Open, breakers.For("live").State())
	assert.Equal(t, resilience.Closed, breakers.For(NameSnapshot).State())

	res, err := o.Resolve(context.Background(), saved, false)
	require.NoError(t, err)
	assert.Equal(t, NameSnapshot, res.Source)
	assert.Equal(t, "saved", res.Payload.Records[0].String("game_id"))
}

func TestResolve_BadQueriesDoNotTripBreaker(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}).WithClock(h.clock.Now)
	primary := &fakeSource{
		name:    "primary",
		domains: model.AllDomains(),
		fetch: func(_ context.Context, q model.Query) (*model.Payload, error) {
			if q.Param("event_id", "") == "" {
				return nil, Fail("primary", NotCharged, nil, eris.Wrap(ErrBadQuery, "source: event_id required"))
			}
			return &model.Payload{Records: []model.Record{{"game_id": "evt"}}}, nil
		},
	}
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: time.Minute}}, WithBreakers(breakers))

	for i := 0; i < 5; i++ {
		_, err := o.Resolve(context.Background(), oddsQuery(), true)
		require.Error(t, err)
	}
	assert.Equal(t, resilience.Closed, breakers.For("primary").State())
	daily, _ := h.used(t)
	assert.Equal(t, 0, daily)

	res, err := o.Resolve(context.Background(), model.NewQuery(model.DomainOdds, map[string]string{"event_id": "evt"}), false)
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Source)
}

func TestSourceFault(t *testing.T) {
	assert.False(t, SourceFault(nil))
	assert.False(t, SourceFault(Fail("snapshot", NotCharged, nil, eris.Wrap(ErrNoSnapshot, "miss"))))
	assert.False(t, SourceFault(Fail("odds_api", NotCharged, nil, eris.Wrap(ErrNotConfigured, "no key"))))
	assert.False(t, SourceFault(Fail("odds_api", NotCharged, nil, &fetcher.NotSentError{Err: errors.New("limiter")})))
	assert.True(t, SourceFault(Fail("espn", ChargeUnknown, nil, errors.New("502"))))
}

func TestResolve_SnapshotPayloadCarriesAge(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	asOf := h.clock.Now().Add(-2 * time.Hour)
	replay := &fakeSource{
		name:    "snapshot",
		domains: model.AllDomains(),
		fetch: func(context.Context, model.Query) (*model.Payload, error) {
			return &model.Payload{AsOf: asOf}, nil
		},
	}
	o := h.orchestrator([]Descriptor{{Source: replay, Priority: 9, TTL: time.Minute}})

	res, err := o.Resolve(context.Background(), oddsQuery(), false)
	require.NoError(t, err)
	assert.Equal(t, asOf, res.FetchedAt)
	assert.True(t, res.Stale)
}

func TestResolve_ConcurrentQueries(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 1000, Monthly: 1000})
	primary := okSource("primary", model.Record{"game_id": "g"})
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, RequiresQuota: true, TTL: time.Hour}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := model.NewQuery(model.DomainOdds, map[string]string{"week": fmt.Sprint(i % 10)})
			_, err := o.Resolve(context.Background(), q, false)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	daily, monthly := h.used(t)
	assert.Equal(t, int(primary.calls.Load()), daily)
	assert.Equal(t, daily, monthly)
	assert.GreaterOrEqual(t, daily, 10)
}

func TestChargeOf(t *testing.T) {
	assert.Equal(t, NotCharged, ChargeOf(Fail("x", NotCharged, nil, errors.New("e"))))
	assert.Equal(t, ChargeUnknown, ChargeOf(errors.New("e")))
	assert.True(t, errors.Is(Fail("x", Charged, nil, errors.New("e")), ErrSourceUnavailable))
	assert.Nil(t, UsageOf(errors.New("e")))
}

func TestResolve_CanceledContext(t *testing.T) {
	h := newHarness(t, quota.Limits{Daily: 16, Monthly: 500})
	primary := okSource("primary")
	o := h.orchestrator([]Descriptor{{Source: primary, Priority: 1, TTL: time.Minute}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Resolve(ctx, oddsQuery(), false)
	assert.ErrorIs(t, err, ErrSourcesExhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), primary.calls.Load())

	_, err = h.cache.Put(context.Background(), oddsQuery(), &model.Payload{}, "primary", time.Nanosecond)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	res, err := o.Resolve(ctx, oddsQuery(), false)
	require.NoError(t, err)
	assert.True(t, res.Stale)
}
