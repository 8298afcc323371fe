package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/model"
)

const chainYAML = `
chains:
  defaults:
    timeout: 4s
  domains:
    odds:
      - name: odds_api
        priority: 1
        requires_quota: true
        ttl: 2m
      - name: espn
        priority: 2
        timeout: 1s
    player_props:
      - name: odds_api
        priority: 1
        requires_quota: true
`

func TestParseChainConfig(t *testing.T) {
	cfg, err := ParseChainConfig([]byte(chainYAML))
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.Defaults.Timeout)
	odds := cfg.Domains["odds"]
	require.Len(t, odds, 2)
	assert.Equal(t, "odds_api", odds[0].Name)
	assert.True(t, odds[0].RequiresQuota)
	assert.Equal(t, 2*time.Minute, odds[0].TTL)
	assert.Equal(t, DefaultTTLs[model.DomainOdds], odds[1].TTL)
	assert.Equal(t, time.Second, odds[1].Timeout)

	props := cfg.Domains["player_props"]
	require.Len(t, props, 1)
	assert.Equal(t, DefaultTTLs[model.DomainProps], props[0].TTL)
}

func TestParseChainConfig_Errors(t *testing.T) {
	_, err := ParseChainConfig([]byte("chains:\n  domains:\n    weather:\n      - name: x\n"))
	assert.Error(t, err)

	_, err = ParseChainConfig([]byte("chains:\n  domains:\n    odds:\n      - priority: 1\n"))
	assert.Error(t, err)

	_, err = ParseChainConfig([]byte("chains: ["))
	assert.Error(t, err)
}

func TestLoadChainConfig(t *testing.T) {
	cfg, err := LoadChainConfig("")
	require.NoError(t, err)
	assert.Len(t, cfg.Domains, 4)

	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainYAML), 0o644))
	cfg, err = LoadChainConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Domains, 2)

	_, err = LoadChainConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildChains(t *testing.T) {
	reg := NewRegistry(
		&fakeSource{name: NameOddsAPI, domains: []model.Domain{model.DomainOdds, model.DomainProps}},
		&fakeSource{name: NameESPN, domains: []model.Domain{model.DomainSchedule, model.DomainOdds, model.DomainInjuries}},
	)
	assert.Equal(t, []string{NameESPN, NameOddsAPI}, reg.Names())

	// Snapshot entries are optional and skipped when unregistered.
	chains, err := BuildChains(DefaultChainConfig(), reg)
	require.NoError(t, err)

	require.Len(t, chains[model.DomainOdds], 2)
	assert.Equal(t, NameOddsAPI, chains[model.DomainOdds][0].Name())
	assert.Equal(t, 10*time.Second, chains[model.DomainOdds][0].Timeout)
	assert.Len(t, chains[model.DomainSchedule], 1)
	assert.Equal(t, []string{NameOddsAPI}, QuotaSources(chains))
}

func TestBuildChains_Errors(t *testing.T) {
	cfg := &ChainConfig{Domains: map[string][]ChainEntry{"odds": {{Name: "missing"}}}}
	_, err := BuildChains(cfg, NewRegistry())
	assert.ErrorContains(t, err, "unknown source")

	cfg = &ChainConfig{Domains: map[string][]ChainEntry{"injuries": {{Name: NameOddsAPI}}}}
	reg := NewRegistry(&fakeSource{name: NameOddsAPI, domains: []model.Domain{model.DomainOdds}})
	_, err = BuildChains(cfg, reg)
	assert.ErrorContains(t, err, "does not serve")
}
