package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/sportsfeed/internal/consensus"
	"github.com/sells-group/sportsfeed/internal/model"
)

// Options tune the dataset-level checks.
type Options struct {
	// StaleAfter flags records whose last_update is older. Default: 30m.
	StaleAfter time.Duration
	// ConsensusThreshold is the minimum agreement ratio. Nil means 0.8;
	// zero turns consensus warnings off.
	ConsensusThreshold *float64
	// LineTolerance is the spread each bookmaker's line carries. Default: 0.5.
	LineTolerance float64
	// Now is the reference time for freshness. Default: time.Now().
	Now time.Time
}

// DefaultOptions returns the defaults listed on Options.
func DefaultOptions() Options {
	return Options{StaleAfter: 30 * time.Minute, ConsensusThreshold: Threshold(0.8), LineTolerance: 0.5}
}

// Threshold returns a ConsensusThreshold value.
func Threshold(v float64) *float64 { return &v }

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StaleAfter <= 0 {
		o.StaleAfter = d.StaleAfter
	}
	if o.ConsensusThreshold == nil {
		o.ConsensusThreshold = d.ConsensusThreshold
	}
	if o.LineTolerance <= 0 {
		o.LineTolerance = d.LineTolerance
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Result is the outcome of validating a dataset.
type Result struct {
	Domain    model.Domain `json:"domain"`
	Records   int          `json:"records"`
	Issues    []Issue      `json:"issues"`
	Consensus []Agreement  `json:"consensus,omitempty"`
}

// Agreement is the consensus score of one fact across bookmakers.
type Agreement struct {
	Field  string           `json:"field"`
	Key    string           `json:"key"`
	Result consensus.Result `json:"result"`
}

// ConsensusRatio is the mean agreement ratio across scored facts, or 1
// when nothing had more than one source.
func (r *Result) ConsensusRatio() float64 {
	if len(r.Consensus) == 0 {
		return 1
	}
	var sum float64
	for _, a := range r.Consensus {
		sum += a.Result.Ratio
	}
	return sum / float64(len(r.Consensus))
}

// Errors returns the error-severity issues.
func (r *Result) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns the warning-severity issues.
func (r *Result) Warnings() []Issue { return r.filter(SeverityWarning) }

// Usable reports whether the record at index i has no errors.
func (r *Result) Usable(i int) bool {
	for _, is := range r.Issues {
		if is.Record == i && is.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// Dataset validates each record against the domain's rule table and then
// runs the cross-record checks: duplicates, freshness and consensus.
func Dataset(d model.Domain, records []model.Record, opts Options) *Result {
	opts = opts.withDefaults()
	res := &Result{Domain: d, Records: len(records)}
	rules := RulesFor(d)

	for i, rec := range records {
		for _, is := range Validate(rec, rules) {
			is.Record = i
			res.Issues = append(res.Issues, is)
		}
	}

	switch d {
	case model.DomainSchedule:
		res.Issues = append(res.Issues, duplicates(records, SeverityError, "duplicate game",
			model.FieldHomeTeam, model.FieldAwayTeam, model.FieldWeek, model.FieldSeason)...)
	case model.DomainOdds:
		res.Issues = append(res.Issues, stale(records, opts)...)
		res.agreement(records, []string{model.FieldGameID}, model.FieldHomeSpread, opts)
		res.agreement(records, []string{model.FieldGameID}, model.FieldTotal, opts)
	case model.DomainProps:
		res.Issues = append(res.Issues, stale(records, opts)...)
		res.agreement(records, []string{model.FieldGameID, model.FieldPlayer, model.FieldStat}, model.FieldLine, opts)
	case model.DomainInjuries:
		res.Issues = append(res.Issues, duplicates(records, SeverityWarning, "duplicate injury entry",
			model.FieldPlayer, model.FieldTeam)...)
	}
	return res
}

// duplicates flags every record after the first that shares all key fields.
func duplicates(records []model.Record, sev Severity, what string, fields ...string) []Issue {
	seen := make(map[string]int, len(records))
	var out []Issue
	for i, rec := range records {
		parts := make([]string, len(fields))
		for j, f := range fields {
			parts[j] = fmt.Sprint(rec[f])
		}
		key := strings.Join(parts, "|")
		if first, ok := seen[key]; ok {
			out = append(out, Issue{
				Severity: sev,
				Category: CategoryDuplicate,
				Field:    strings.Join(fields, ","),
				Message:  fmt.Sprintf("%s of record %d", what, first),
				Record:   i,
			})
			continue
		}
		seen[key] = i
	}
	return out
}

func stale(records []model.Record, opts Options) []Issue {
	var out []Issue
	for i, rec := range records {
		t, ok := rec.Time(model.FieldLastUpdate)
		if !ok {
			continue
		}
		if age := opts.Now.Sub(t); age > opts.StaleAfter {
			out = append(out, Issue{
				Severity: SeverityWarning,
				Category: CategoryFreshness,
				Field:    model.FieldLastUpdate,
				Message:  fmt.Sprintf("data is %d minutes old", int(age.Minutes())),
				Record:   i,
			})
		}
	}
	return out
}

// agreement scores each multi-source fact and warns when bookmakers
// disagree.
func (r *Result) agreement(records []model.Record, keys []string, field string, opts Options) {
	groups := consensus.Group(records, keys, field, opts.LineTolerance)
	for _, key := range consensus.Keys(groups) {
		obs := groups[key]
		if len(obs) < 2 {
			continue
		}
		score := consensus.Score(obs)
		r.Consensus = append(r.Consensus, Agreement{Field: field, Key: key, Result: score})
		threshold := *opts.ConsensusThreshold
		if threshold == 0 || score.Agrees(threshold) {
			continue
		}
		r.Issues = append(r.Issues, Issue{
			Severity: SeverityWarning,
			Category: CategoryConsensus,
			Field:    field,
			Message: fmt.Sprintf("low %s consensus for %s (%.1f%% of %d sources, %d outliers)",
				field, key, score.Ratio*100, score.Count, len(score.Outliers)),
			Record: DatasetLevel,
		})
	}
}
