package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sportsfeed/internal/cache"
	"github.com/sells-group/sportsfeed/internal/config"
	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/quality"
	"github.com/sells-group/sportsfeed/internal/quota"
	"github.com/sells-group/sportsfeed/internal/resilience"
	"github.com/sells-group/sportsfeed/internal/source"
	"github.com/sells-group/sportsfeed/internal/store"
	"github.com/sells-group/sportsfeed/internal/validate"
)

// appEnv holds everything the commands share.
type appEnv struct {
	Store    store.Store // nil when persistence is disabled
	Cache    cache.Store
	Ledger   *quota.Ledger
	Breakers *resilience.Breakers
	Service  *dataset.Service

	closers []func() error
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv wires store, cache, sources, ledger and the dataset service.
// Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	env := &appEnv{}

	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if st != nil {
		env.Store = st
		env.closers = append(env.closers, st.Close)
	}

	cs, err := initCache(ctx, c.Cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Cache = cs
	if rs, ok := cs.(*cache.RedisStore); ok {
		env.closers = append(env.closers, rs.Close)
	}

	chainCfg, err := source.LoadChainConfig(c.Sources.ChainPath)
	if err != nil {
		env.Close()
		return nil, err
	}
	chains, err := source.BuildChains(chainCfg, buildRegistry(c.Sources, env.Store))
	if err != nil {
		env.Close()
		return nil, err
	}

	limits := make(map[string]quota.Limits)
	for _, name := range source.QuotaSources(chains) {
		l := c.Quota.LimitsFor(name)
		limits[name] = quota.Limits{Daily: l.Daily, Monthly: l.Monthly}
	}
	env.Ledger = quota.NewLedger(quota.NewFileStore(c.Quota.StatePath), limits,
		quota.WithWarnRatio(c.Quota.WarnRatio))

	env.Breakers = resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		Cooldown:         time.Duration(c.Breaker.CooldownSecs) * time.Second,
		Probes:           c.Breaker.Probes,
	})

	orch := source.NewOrchestrator(chains, env.Ledger, env.Cache, source.WithBreakers(env.Breakers))

	opts := []dataset.Option{
		dataset.WithQuota(env.Ledger),
		dataset.WithBreakers(env.Breakers),
		dataset.WithHistory(quality.NewHistory(c.Validation.HistorySize)),
		dataset.WithValidation(validate.Options{
			StaleAfter:         time.Duration(c.Validation.StaleAfterMins) * time.Minute,
			ConsensusThreshold: validate.Threshold(c.Validation.ConsensusThreshold),
			LineTolerance:      c.Validation.LineTolerance,
		}),
	}
	if env.Store != nil {
		opts = append(opts, dataset.WithStore(env.Store))
	}
	env.Service = dataset.NewService(orch, opts...)

	zap.L().Info("environment ready",
		zap.String("store", c.Store.Driver),
		zap.String("cache", c.Cache.Backend),
		zap.Strings("metered_sources", source.QuotaSources(chains)),
	)
	return env, nil
}

func initCache(ctx context.Context, c config.CacheConfig) (cache.Store, error) {
	switch c.Backend {
	case "redis":
		return cache.NewRedis(ctx, cache.RedisConfig{
			Addr:           c.RedisAddr,
			Password:       c.RedisPassword,
			DB:             c.RedisDB,
			KeyPrefix:      c.KeyPrefix,
			StaleRetention: time.Duration(c.StaleRetentionHours) * time.Hour,
		})
	case "memory", "":
		return cache.NewMemory(), nil
	default:
		return nil, eris.Errorf("cache: unknown backend %q", c.Backend)
	}
}

// buildRegistry registers every available source. The metered client never
// retries so a single logical call spends at most one unit of quota.
func buildRegistry(c config.SourcesConfig, st store.Store) *source.Registry {
	limiters := fetcher.DefaultLimiters()
	timeout := time.Duration(c.TimeoutSecs) * time.Second

	metered := fetcher.New(fetcher.Options{
		UserAgent:    c.UserAgent,
		Timeout:      timeout,
		MaxAttempts:  1,
		Limiters:     limiters,
		SecretParams: []string{"apiKey"},
	})
	open := fetcher.New(fetcher.Options{
		UserAgent:   c.UserAgent,
		Timeout:     timeout,
		MaxAttempts: c.MaxRetries,
		Limiters:    limiters,
	})

	reg := source.NewRegistry(
		source.NewOddsAPI(metered, c.OddsAPIBaseURL, c.OddsAPIKey),
		source.NewESPN(open, c.ESPNBaseURL),
	)
	if st != nil {
		reg.Register(source.NewSnapshot(st))
	}
	return reg
}

// parseParams turns k=v pairs into query parameters.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, eris.Errorf("invalid param %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
