// Package resilience provides circuit breaking and retry for calls to
// external sources.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a breaker.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	// Probes successful half-open calls close the breaker. Default: 1.
	Probes int `yaml:"probes" mapstructure:"probes"`
}

// DefaultBreakerConfig returns the defaults listed on BreakerConfig.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.Probes <= 0 {
		c.Probes = d.Probes
	}
	return c
}

// Breaker guards one source. Callers ask Allow before calling and report
// the outcome with Record, so a rejected call never reaches the network.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials   int
	openedAt  time.Time
	now       func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// Allow returns ErrOpen while the breaker is open and the cooldown has not
// elapsed. Once it has, the breaker moves to half-open and admits at most
// Probes calls at a time until they are recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return eris.Wrapf(ErrOpen, "resilience: %s", b.name)
		}
		b.moveLocked(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.successes+b.trials >= b.cfg.Probes {
			return eris.Wrapf(ErrOpen, "resilience: %s half-open call in flight", b.name)
		}
		b.trials++
	}
	return nil
}

// Record reports the outcome of an allowed call. A nil error is a success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}
	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.moveLocked(Closed)
			}
		}
		return
	}

	b.failures++
	switch b.state {
	case HalfOpen:
		b.moveLocked(Open)
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.moveLocked(Open)
		}
	}
}

// Skip releases an allowed call whose outcome says nothing about the
// source's health, such as a miss or an unusable request.
func (b *Breaker) Skip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}
}

// State returns the current state, reporting half-open once an open
// breaker's cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moveLocked(Closed)
	b.failures = 0
}

func (b *Breaker) moveLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.successes = 0
	b.trials = 0
	if to == Open {
		b.openedAt = b.now()
	}
	zap.L().Info("resilience: breaker state change",
		zap.String("source", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures),
	)
}

// Breakers is a registry of per-source breakers sharing one config.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakers returns an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg.withDefaults(), now: time.Now, breakers: make(map[string]*Breaker)}
}

// WithClock sets the time source for breakers created from now on.
func (r *Breakers) WithClock(now func() time.Time) *Breakers {
	r.now = now
	return r
}

// For returns the breaker for a source, creating it on first use.
func (r *Breakers) For(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg)
	b.now = r.now
	r.breakers[name] = b
	return b
}

// States returns each known source's breaker state as a string.
func (r *Breakers) States() map[string]string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = r.For(name).State().String()
	}
	return out
}
