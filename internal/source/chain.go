package source

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sportsfeed/internal/model"
)

// ChainConfig is the per-domain source chain configuration.
type ChainConfig struct {
	Defaults EntryDefaults           `yaml:"defaults"`
	Domains  map[string][]ChainEntry `yaml:"domains"`
}

// EntryDefaults apply to entries that leave a value unset.
type EntryDefaults struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ChainEntry names a source within a domain chain.
type ChainEntry struct {
	Name          string        `yaml:"name"`
	Priority      int           `yaml:"priority"`
	RequiresQuota bool          `yaml:"requires_quota"`
	TTL           time.Duration `yaml:"ttl"`
	Timeout       time.Duration `yaml:"timeout"`
	Optional      bool          `yaml:"optional"` // skip if the source is not registered
}

// Default cache lifetimes per domain.
var DefaultTTLs = map[model.Domain]time.Duration{
	model.DomainSchedule: 24 * time.Hour,
	model.DomainOdds:     5 * time.Minute,
	model.DomainProps:    10 * time.Minute,
	model.DomainInjuries: 30 * time.Minute,
}

// DefaultChainConfig returns the built-in chains.
func DefaultChainConfig() *ChainConfig {
	ttl := func(d model.Domain) time.Duration { return DefaultTTLs[d] }
	return &ChainConfig{
		Defaults: EntryDefaults{Timeout: 10 * time.Second},
		Domains: map[string][]ChainEntry{
			string(model.DomainSchedule): {
				{Name: NameESPN, Priority: 1, TTL: ttl(model.DomainSchedule)},
				{Name: NameSnapshot, Priority: 9, TTL: time.Minute, Optional: true},
			},
			string(model.DomainOdds): {
				{Name: NameOddsAPI, Priority: 1, RequiresQuota: true, TTL: ttl(model.DomainOdds)},
				{Name: NameESPN, Priority: 2, TTL: ttl(model.DomainOdds)},
				{Name: NameSnapshot, Priority: 9, TTL: time.Minute, Optional: true},
			},
			string(model.DomainProps): {
				{Name: NameOddsAPI, Priority: 1, RequiresQuota: true, TTL: ttl(model.DomainProps)},
				{Name: NameSnapshot, Priority: 9, TTL: time.Minute, Optional: true},
			},
			string(model.DomainInjuries): {
				{Name: NameESPN, Priority: 1, TTL: ttl(model.DomainInjuries)},
				{Name: NameSnapshot, Priority: 9, TTL: time.Minute, Optional: true},
			},
		},
	}
}

// LoadChainConfig reads chain config from a YAML file. An empty path
// returns DefaultChainConfig.
func LoadChainConfig(path string) (*ChainConfig, error) {
	if path == "" {
		return DefaultChainConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read chain config %s", path)
	}
	return ParseChainConfig(data)
}

// ParseChainConfig parses YAML chain config. The document has a top-level
// "chains" key.
func ParseChainConfig(data []byte) (*ChainConfig, error) {
	var wrapper struct {
		Chains ChainConfig `yaml:"chains"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "source: parse chain config")
	}
	cfg := &wrapper.Chains
	if cfg.Defaults.Timeout == 0 {
		cfg.Defaults.Timeout = 10 * time.Second
	}
	for key, entries := range cfg.Domains {
		d, err := model.ParseDomain(key)
		if err != nil {
			return nil, eris.Wrapf(err, "source: chain config domain %q", key)
		}
		for i := range entries {
			if entries[i].Name == "" {
				return nil, eris.Errorf("source: chain config %s entry %d has no name", key, i)
			}
			if entries[i].TTL == 0 {
				entries[i].TTL = DefaultTTLs[d]
			}
		}
	}
	return cfg, nil
}

// Registry holds the available sources by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates a registry holding the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Get returns a source by name, or nil.
func (r *Registry) Get(name string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// Names returns registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildChains resolves chain entries against the registry into ordered
// descriptors per domain.
func BuildChains(cfg *ChainConfig, reg *Registry) (map[model.Domain][]Descriptor, error) {
	chains := make(map[model.Domain][]Descriptor, len(cfg.Domains))
	for key, entries := range cfg.Domains {
		d, err := model.ParseDomain(key)
		if err != nil {
			return nil, eris.Wrapf(err, "source: chain domain %q", key)
		}
		for _, e := range entries {
			src := reg.Get(e.Name)
			if src == nil {
				if e.Optional {
					zap.L().Info("source: optional source not registered, skipping",
						zap.String("domain", string(d)),
						zap.String("source", e.Name),
					)
					continue
				}
				return nil, eris.Errorf("source: %s chain references unknown source %q", d, e.Name)
			}
			if !supports(src, d) {
				return nil, eris.Errorf("source: %s does not serve domain %s", e.Name, d)
			}
			timeout := e.Timeout
			if timeout == 0 {
				timeout = cfg.Defaults.Timeout
			}
			chains[d] = append(chains[d], Descriptor{
				Source:        src,
				Priority:      e.Priority,
				RequiresQuota: e.RequiresQuota,
				TTL:           e.TTL,
				Timeout:       timeout,
			})
		}
	}
	return chains, nil
}

// QuotaSources returns the names of sources that require quota in any chain.
func QuotaSources(chains map[model.Domain][]Descriptor) []string {
	seen := make(map[string]bool)
	var names []string
	for _, chain := range chains {
		for _, d := range chain {
			if d.RequiresQuota && !seen[d.Name()] {
				seen[d.Name()] = true
				names = append(names, d.Name())
			}
		}
	}
	sort.Strings(names)
	return names
}

func supports(s Source, d model.Domain) bool {
	for _, sd := range s.Domains() {
		if sd == d {
			return true
		}
	}
	return false
}
