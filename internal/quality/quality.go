// Package quality turns validation results into confidence scores and a
// discrete trust label per domain and overall.
package quality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/validate"
)

// Penalty weights applied to issue rates.
const (
	ErrorWeight   = 0.8
	WarningWeight = 0.2
)

// TrustLevel is the discrete label derived from a confidence score.
type TrustLevel string

const (
	TrustExcellent  TrustLevel = "excellent"
	TrustGood       TrustLevel = "good"
	TrustFair       TrustLevel = "fair"
	TrustPoor       TrustLevel = "poor"
	TrustUnreliable TrustLevel = "unreliable"
)

// TrustFor maps a confidence score to its trust level.
func TrustFor(confidence float64) TrustLevel {
	switch {
	case confidence >= 0.90:
		return TrustExcellent
	case confidence >= 0.75:
		return TrustGood
	case confidence >= 0.60:
		return TrustFair
	case confidence >= 0.40:
		return TrustPoor
	default:
		return TrustUnreliable
	}
}

// Rank orders trust levels from Unreliable (0) to Excellent (4).
func (t TrustLevel) Rank() int {
	switch t {
	case TrustExcellent:
		return 4
	case TrustGood:
		return 3
	case TrustFair:
		return 2
	case TrustPoor:
		return 1
	default:
		return 0
	}
}

// ParseTrustLevel parses a trust level name.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch t := TrustLevel(s); t {
	case TrustExcellent, TrustGood, TrustFair, TrustPoor, TrustUnreliable:
		return t, nil
	}
	return "", eris.Errorf("quality: unknown trust level %q", s)
}

// DomainResult is the issue tally for one domain.
type DomainResult struct {
	Errors      int `json:"errors"`
	Warnings    int `json:"warnings"`
	RecordCount int `json:"record_count"`
}

// Confidence is max(0, 1 - errorRate*0.8 - warningRate*0.2). A domain with
// no records has confidence 0.
func (r DomainResult) Confidence() float64 {
	if r.RecordCount <= 0 {
		return 0
	}
	n := float64(r.RecordCount)
	c := 1 - float64(r.Errors)/n*ErrorWeight - float64(r.Warnings)/n*WarningWeight
	return math.Max(0, c)
}

// Summary is the coarse status of a validation run.
type Summary string

const (
	SummaryExcellent Summary = "excellent"
	SummaryGood      Summary = "good"
	SummaryFair      Summary = "fair"
	SummaryPoor      Summary = "poor"
)

// Summarize labels issue counts: any error is poor, more than five
// warnings is fair, any warning is good.
func Summarize(errors, warnings int) (Summary, string) {
	switch {
	case errors > 0:
		return SummaryPoor, fmt.Sprintf("validation failed with %d errors that must be fixed", errors)
	case warnings > 5:
		return SummaryFair, fmt.Sprintf("validated with %d warnings that should be reviewed", warnings)
	case warnings > 0:
		return SummaryGood, fmt.Sprintf("validated with %d minor warnings", warnings)
	default:
		return SummaryExcellent, "all data validated with no issues"
	}
}

// Report is the quality annotation attached to a dataset.
type Report struct {
	ID             string           `json:"id"`
	Domain         model.Domain     `json:"domain"`
	RecordsChecked int              `json:"records_checked"`
	Errors         int              `json:"errors"`
	Warnings       int              `json:"warnings"`
	Confidence     float64          `json:"confidence"`
	TrustLevel     TrustLevel       `json:"trust_level"`
	ConsensusRatio float64          `json:"consensus_ratio"`
	Status         Summary          `json:"status"`
	Message        string           `json:"message"`
	Source         string           `json:"source"`
	Stale          bool             `json:"stale"`
	CreatedAt      time.Time        `json:"created_at"`
	Issues         []validate.Issue `json:"issues,omitempty"`
}

// Result returns the tally the report was built from.
func (r Report) Result() DomainResult {
	return DomainResult{Errors: r.Errors, Warnings: r.Warnings, RecordCount: r.RecordsChecked}
}

// NewReport scores a validation result.
func NewReport(res *validate.Result, source string, stale bool, now time.Time) Report {
	tally := DomainResult{
		Errors:      len(res.Errors()),
		Warnings:    len(res.Warnings()),
		RecordCount: res.Records,
	}
	conf := tally.Confidence()
	status, msg := Summarize(tally.Errors, tally.Warnings)
	return Report{
		ID:             uuid.New().String(),
		Domain:         res.Domain,
		RecordsChecked: res.Records,
		Errors:         tally.Errors,
		Warnings:       tally.Warnings,
		Confidence:     conf,
		TrustLevel:     TrustFor(conf),
		ConsensusRatio: res.ConsensusRatio(),
		Status:         status,
		Message:        msg,
		Source:         source,
		Stale:          stale,
		CreatedAt:      now.UTC(),
		Issues:         res.Issues,
	}
}

// DefaultWeights reflect how much downstream logic depends on each domain.
func DefaultWeights() map[model.Domain]float64 {
	return map[model.Domain]float64{
		model.DomainSchedule: 0.4,
		model.DomainOdds:     0.3,
		model.DomainProps:    0.2,
		model.DomainInjuries: 0.1,
	}
}

// Overall is the weighted roll-up across domains.
type Overall struct {
	Confidence   float64                 `json:"confidence"`
	TrustLevel   TrustLevel              `json:"trust_level"`
	Contributing []model.Domain          `json:"contributing"`
	Domains      map[model.Domain]Report `json:"domains"`
}

// Aggregator combines domain reports.
type Aggregator struct {
	Weights map[model.Domain]float64
}

// NewAggregator uses DefaultWeights when weights is empty.
func NewAggregator(weights map[model.Domain]float64) *Aggregator {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Aggregator{Weights: weights}
}

// Aggregate computes the weighted average confidence. Domains with no
// records are left out rather than scored as zero; with nothing to
// average the result is 0 and Unreliable.
func (a *Aggregator) Aggregate(reports map[model.Domain]Report) Overall {
	out := Overall{Domains: make(map[model.Domain]Report, len(reports))}
	var sum, weights float64
	for d, r := range reports {
		out.Domains[d] = r
		w := a.Weights[d]
		if r.RecordsChecked == 0 || w <= 0 {
			continue
		}
		sum += w * r.Confidence
		weights += w
		out.Contributing = append(out.Contributing, d)
	}
	sort.Slice(out.Contributing, func(i, j int) bool { return out.Contributing[i] < out.Contributing[j] })
	if weights > 0 {
		out.Confidence = sum / weights
	}
	out.TrustLevel = TrustFor(out.Confidence)
	return out
}
