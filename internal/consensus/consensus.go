// Package consensus measures how closely independent sources agree on the
// same numeric fact.
package consensus

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/sportsfeed/internal/model"
)

// epsilon absorbs rounding when a value sits exactly one stddev out.
const epsilon = 1e-9

// Observation is one source's value for a fact. Spread is the tolerance the
// source's value carries (e.g. a half point on a betting line).
type Observation struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
	Spread float64 `json:"spread,omitempty"`
}

// Result summarizes agreement across observations.
type Result struct {
	Ratio    float64       `json:"ratio"`
	Mean     float64       `json:"mean"`
	StdDev   float64       `json:"std_dev"`
	Count    int           `json:"count"`
	Outliers []Observation `json:"outliers,omitempty"`
}

// Score computes the share of observations within one population standard
// deviation of the mean. Observations outside it are outliers. Fewer than
// two observations are trivially consistent.
//
// A pair always sits exactly one stddev either side of its mean, so for two
// observations both are reported as outliers when they differ by more than
// their combined spread. The ratio is unaffected.
func Score(obs []Observation) Result {
	n := len(obs)
	if n == 0 {
		return Result{Ratio: 1}
	}
	if n == 1 {
		return Result{Ratio: 1, Mean: obs[0].Value, Count: 1}
	}

	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	mean := sum / float64(n)

	var sq float64
	for _, o := range obs {
		d := o.Value - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(n))
	limit := sd + epsilon*math.Max(1, sd)

	res := Result{Mean: mean, StdDev: sd, Count: n}
	within := 0
	for _, o := range obs {
		if math.Abs(o.Value-mean) <= limit {
			within++
		} else {
			res.Outliers = append(res.Outliers, o)
		}
	}
	res.Ratio = float64(within) / float64(n)

	if n == 2 && len(res.Outliers) == 0 {
		a, b := obs[0], obs[1]
		if math.Abs(a.Value-b.Value) > a.Spread+b.Spread+epsilon {
			res.Outliers = []Observation{a, b}
		}
	}
	return res
}

// Agrees reports whether the result meets threshold and, for pairs, has no
// outliers.
func (r Result) Agrees(threshold float64) bool {
	if r.Ratio < threshold {
		return false
	}
	return !(r.Count == 2 && len(r.Outliers) > 0)
}

// Group collects observations of valueField from records that share the
// same keyFields. Each record's bookmaker is the observation source.
// Records missing the value are skipped.
func Group(records []model.Record, keyFields []string, valueField string, spread float64) map[string][]Observation {
	out := make(map[string][]Observation)
	for _, rec := range records {
		v, ok := rec.Float(valueField)
		if !ok {
			continue
		}
		parts := make([]string, len(keyFields))
		for i, f := range keyFields {
			parts[i] = rec.String(f)
		}
		key := strings.Join(parts, "|")
		out[key] = append(out[key], Observation{
			Source: rec.String(model.FieldBookmaker),
			Value:  v,
			Spread: spread,
		})
	}
	return out
}

// Keys returns the group keys in sorted order.
func Keys(groups map[string][]Observation) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
