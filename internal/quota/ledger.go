// Package quota tracks the call budget of metered sources across daily and
// monthly windows and persists it so accounting survives restarts.
package quota

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sportsfeed/internal/model"
)

var (
	// ErrQuotaExceeded means a window for the source is used up.
	ErrQuotaExceeded = eris.New("quota: exceeded")
	// ErrUnknownSource means no limits are configured for the source.
	ErrUnknownSource = eris.New("quota: unknown source")
	// ErrPersistence wraps state write failures. They are logged, never returned.
	ErrPersistence = eris.New("quota: persistence failed")
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Limits is the call budget for one source.
type Limits struct {
	Daily   int `json:"daily" yaml:"daily" mapstructure:"daily"`
	Monthly int `json:"monthly" yaml:"monthly" mapstructure:"monthly"`
}

// DefaultLimits matches The Odds API free tier spread over a month.
func DefaultLimits() Limits {
	return Limits{Daily: 16, Monthly: 500}
}

// Window is one accounting period. Used may reach Limit+1 but no call is
// permitted once Used >= Limit.
type Window struct {
	Used  int       `json:"used"`
	Limit int       `json:"limit"`
	Start time.Time `json:"start"`
}

// Exhausted reports whether no further call is allowed in this window.
func (w Window) Exhausted() bool { return w.Used >= w.Limit }

// Percent returns usage as a percentage of the limit.
func (w Window) Percent() float64 {
	if w.Limit <= 0 {
		return 100
	}
	return float64(w.Used) / float64(w.Limit) * 100
}

// Level is a coarse usage indicator for dashboards.
type Level string

const (
	LevelGreen  Level = "green"
	LevelYellow Level = "yellow"
	LevelRed    Level = "red"
)

// Status is a read-only snapshot of one source's windows.
type Status struct {
	Source         string  `json:"source"`
	Daily          Window  `json:"daily"`
	Monthly        Window  `json:"monthly"`
	DailyPercent   float64 `json:"daily_percent"`
	MonthlyPercent float64 `json:"monthly_percent"`
	Level          Level   `json:"level"`
	CanConsume     bool    `json:"can_consume"`
}

type account struct {
	daily         Window
	monthly       Window
	warnedDaily   bool
	warnedMonthly bool
}

// Ledger is the process-wide quota state. All bookkeeping is serialized by
// one mutex, including the write-through to the persister.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[string]*account
	store     Persister
	now       func() time.Time
	loc       *time.Location
	warnRatio float64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone whose calendar defines day and month
// boundaries. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithWarnRatio sets the usage fraction that triggers a warning. Default: 0.8.
func WithWarnRatio(r float64) Option {
	return func(l *Ledger) {
		if r > 0 && r <= 1 {
			l.warnRatio = r
		}
	}
}

// NewLedger builds a ledger for the configured sources and rehydrates usage
// from the persister. Unreadable or corrupt state yields a fresh ledger.
// Configured limits take precedence over persisted ones.
func NewLedger(store Persister, limits map[string]Limits, opts ...Option) *Ledger {
	l := &Ledger{
		accounts:  make(map[string]*account, len(limits)),
		store:     store,
		now:       time.Now,
		loc:       time.Local,
		warnRatio: 0.8,
	}
	for _, opt := range opts {
		opt(l)
	}

	var persisted State
	if store != nil {
		st, err := store.Load()
		if err != nil {
			zap.L().Warn("quota: persisted state unreadable, starting fresh", zap.Error(err))
		} else {
			persisted = st
		}
	}

	now := l.now()
	for name, acct := range persisted {
		if a, ok := l.fromState(acct, now); ok {
			l.accounts[name] = a
		} else {
			zap.L().Warn("quota: persisted account corrupt, starting fresh", zap.String("source", name))
		}
	}
	for name, lim := range limits {
		a, ok := l.accounts[name]
		if !ok {
			a = &account{
				daily:   Window{Start: now},
				monthly: Window{Start: now},
			}
			l.accounts[name] = a
		}
		a.daily.Limit = lim.Daily
		a.monthly.Limit = lim.Monthly
	}
	return l
}

func (l *Ledger) fromState(st AccountState, now time.Time) (*account, bool) {
	dayStart, err := time.ParseInLocation(dateLayout, st.Daily.ResetDate, l.loc)
	if err != nil {
		return nil, false
	}
	monthStart, err := time.ParseInLocation(monthLayout, st.Monthly.ResetMonth, l.loc)
	if err != nil {
		return nil, false
	}
	if st.Daily.Used < 0 || st.Monthly.Used < 0 {
		return nil, false
	}
	return &account{
		daily:   Window{Used: st.Daily.Used, Limit: st.Daily.Limit, Start: dayStart},
		monthly: Window{Used: st.Monthly.Used, Limit: st.Monthly.Limit, Start: monthStart},
	}, true
}

// CanConsume reports whether both windows for the source have budget left.
func (l *Ledger) CanConsume(name string) bool {
	return l.Check(name) == nil
}

// Check is CanConsume with a reason: ErrUnknownSource or ErrQuotaExceeded.
func (l *Ledger) Check(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[name]
	if !ok {
		return eris.Wrapf(ErrUnknownSource, "quota: %s", name)
	}
	l.rollLocked(name, a)

	if a.daily.Exhausted() {
		return eris.Wrapf(ErrQuotaExceeded, "quota: %s daily %d/%d", name, a.daily.Used, a.daily.Limit)
	}
	if a.monthly.Exhausted() {
		return eris.Wrapf(ErrQuotaExceeded, "quota: %s monthly %d/%d", name, a.monthly.Used, a.monthly.Limit)
	}
	return nil
}

// Consume records one accounted call against both windows and persists.
// It must be called once per accounted upstream call and never for cache
// hits. It is not idempotent.
func (l *Ledger) Consume(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[name]
	if !ok {
		zap.L().Warn("quota: consume for unknown source ignored", zap.String("source", name))
		return
	}
	l.rollLocked(name, a)

	a.daily.Used++
	a.monthly.Used++
	if a.daily.Used > a.daily.Limit || a.monthly.Used > a.monthly.Limit {
		zap.L().Warn("quota: consumed past limit",
			zap.String("source", name),
			zap.Int("daily_used", a.daily.Used),
			zap.Int("monthly_used", a.monthly.Used),
		)
	}
	l.warnLocked(name, a)
	l.persistLocked()
}

// Reconcile folds the provider's own usage report into the monthly window.
// Usage is only ever raised, so local accounting stays conservative.
func (l *Ledger) Reconcile(name string, u model.Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[name]
	if !ok {
		return
	}
	l.rollLocked(name, a)

	used := a.monthly.Used
	if u.Used > used {
		used = u.Used
	}
	if u.Remaining <= 0 && used < a.monthly.Limit {
		used = a.monthly.Limit
	}
	if used == a.monthly.Used {
		return
	}

	zap.L().Info("quota: reconciled with provider usage",
		zap.String("source", name),
		zap.Int("local_used", a.monthly.Used),
		zap.Int("provider_used", u.Used),
		zap.Int("provider_remaining", u.Remaining),
	)
	a.monthly.Used = used
	l.warnLocked(name, a)
	l.persistLocked()
}

// Status returns the snapshot for one source.
func (l *Ledger) Status(name string) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[name]
	if !ok {
		return Status{}, false
	}
	l.rollLocked(name, a)
	return l.statusLocked(name, a), true
}

// Snapshot returns the status of every source, sorted by name.
func (l *Ledger) Snapshot() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.accounts))
	for name := range l.accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		a := l.accounts[name]
		l.rollLocked(name, a)
		out = append(out, l.statusLocked(name, a))
	}
	return out
}

func (l *Ledger) statusLocked(name string, a *account) Status {
	st := Status{
		Source:         name,
		Daily:          a.daily,
		Monthly:        a.monthly,
		DailyPercent:   a.daily.Percent(),
		MonthlyPercent: a.monthly.Percent(),
		CanConsume:     !a.daily.Exhausted() && !a.monthly.Exhausted(),
	}
	worst := st.DailyPercent
	if st.MonthlyPercent > worst {
		worst = st.MonthlyPercent
	}
	switch {
	case worst >= 100:
		st.Level = LevelRed
	case worst >= l.warnRatio*100:
		st.Level = LevelYellow
	default:
		st.Level = LevelGreen
	}
	return st
}

// rollLocked resets any window whose calendar period has ended and
// persists when something changed.
func (l *Ledger) rollLocked(name string, a *account) {
	now := l.now().In(l.loc)
	changed := false

	ny, nm, nd := now.Date()
	dy, dm, dd := a.daily.Start.In(l.loc).Date()
	if ny != dy || nm != dm || nd != dd {
		a.daily.Used = 0
		a.daily.Start = now
		a.warnedDaily = false
		changed = true
	}

	my, mm, _ := a.monthly.Start.In(l.loc).Date()
	if ny != my || nm != mm {
		a.monthly.Used = 0
		a.monthly.Start = now
		a.warnedMonthly = false
		changed = true
	}

	if changed {
		zap.L().Info("quota: window reset", zap.String("source", name), zap.Time("at", now))
		l.persistLocked()
	}
}

func (l *Ledger) warnLocked(name string, a *account) {
	threshold := l.warnRatio * 100
	if !a.warnedDaily && a.daily.Percent() >= threshold {
		a.warnedDaily = true
		zap.L().Warn("quota: daily usage above threshold",
			zap.String("source", name),
			zap.Int("used", a.daily.Used),
			zap.Int("limit", a.daily.Limit),
		)
	}
	if !a.warnedMonthly && a.monthly.Percent() >= threshold {
		a.warnedMonthly = true
		zap.L().Warn("quota: monthly usage above threshold",
			zap.String("source", name),
			zap.Int("used", a.monthly.Used),
			zap.Int("limit", a.monthly.Limit),
		)
	}
}

func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	st := make(State, len(l.accounts))
	for name, a := range l.accounts {
		st[name] = AccountState{
			Daily: DailyState{
				Used:      a.daily.Used,
				Limit:     a.daily.Limit,
				ResetDate: a.daily.Start.In(l.loc).Format(dateLayout),
			},
			Monthly: MonthlyState{
				Used:       a.monthly.Used,
				Limit:      a.monthly.Limit,
				ResetMonth: a.monthly.Start.In(l.loc).Format(monthLayout),
			},
		}
	}
	if err := l.store.Save(st); err != nil {
		zap.L().Warn("quota: state not persisted, continuing in memory",
			zap.Error(eris.Wrap(ErrPersistence, err.Error())),
		)
	}
}
