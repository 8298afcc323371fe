// Package validate checks normalized records against per-domain rule tables
// and runs dataset-level checks across records.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/sportsfeed/internal/model"
)

// Severity of an issue. Errors make a record unusable; warnings flag it.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Category groups issues by the kind of check that raised them.
type Category string

const (
	CategoryPresence    Category = "presence"
	CategoryFormat      Category = "format"
	CategoryRange       Category = "range"
	CategoryReferential Category = "referential"
	CategoryDuplicate   Category = "duplicate"
	CategoryFreshness   Category = "freshness"
	CategoryConsensus   Category = "consensus"
)

// DatasetLevel is the Record index of issues that are not tied to one record.
const DatasetLevel = -1

// Issue is one finding. Record is the index in the dataset, or DatasetLevel.
type Issue struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Record   int      `json:"record"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s %s: %s", i.Severity, i.Category, i.Field, i.Message)
}

// Rule checks a single record.
type Rule interface {
	Check(rec model.Record) []Issue
}

// Validate runs every rule against rec and returns all issues. Rules are
// independent; a failing rule never stops the others.
func Validate(rec model.Record, rules []Rule) []Issue {
	var out []Issue
	for _, r := range rules {
		out = append(out, r.Check(rec)...)
	}
	return out
}

func issue(sev Severity, cat Category, field, format string, args ...any) []Issue {
	return []Issue{{Severity: sev, Category: cat, Field: field, Message: fmt.Sprintf(format, args...)}}
}

// Presence requires a non-empty value.
type Presence struct {
	Field string
}

func (r Presence) Check(rec model.Record) []Issue {
	if rec.Has(r.Field) {
		return nil
	}
	return issue(SeverityError, CategoryPresence, r.Field, "missing required field %q", r.Field)
}

// Format checks a string field against a pattern and/or a parse function.
// An absent field is not an issue.
type Format struct {
	Field   string
	Pattern *regexp.Regexp
	Valid   func(string) bool
	Expect  string
}

func (r Format) Check(rec model.Record) []Issue {
	if !rec.Has(r.Field) {
		return nil
	}
	s, ok := rec[r.Field].(string)
	if !ok {
		return issue(SeverityError, CategoryFormat, r.Field, "%s must be a string, got %T", r.Field, rec[r.Field])
	}
	if (r.Pattern != nil && !r.Pattern.MatchString(s)) || (r.Valid != nil && !r.Valid(s)) {
		return issue(SeverityError, CategoryFormat, r.Field, "invalid %s %q (expected %s)", r.Field, s, r.Expect)
	}
	return nil
}

// Range bounds a numeric field. Values outside [Min, Max] are errors;
// values inside it but outside [TypicalMin, TypicalMax] are warnings. A
// zero typical range disables the warning.
type Range struct {
	Field      string
	Min, Max   float64
	TypicalMin float64
	TypicalMax float64
}

func (r Range) Check(rec model.Record) []Issue {
	if !rec.Has(r.Field) {
		return nil
	}
	v, ok := rec.Float(r.Field)
	if !ok {
		return issue(SeverityError, CategoryFormat, r.Field, "%s is not numeric: %v", r.Field, rec[r.Field])
	}
	if v < r.Min || v > r.Max {
		return issue(SeverityError, CategoryRange, r.Field, "%s %v outside valid range [%v, %v]", r.Field, v, r.Min, r.Max)
	}
	if r.TypicalMin < r.TypicalMax && (v < r.TypicalMin || v > r.TypicalMax) {
		return issue(SeverityWarning, CategoryRange, r.Field, "unusual %s %v (typical %v to %v)", r.Field, v, r.TypicalMin, r.TypicalMax)
	}
	return nil
}

// OneOf restricts a string field to a vocabulary, compared case-insensitively.
type OneOf struct {
	Field    string
	Values   []string
	Severity Severity
}

func (r OneOf) Check(rec model.Record) []Issue {
	if !rec.Has(r.Field) {
		return nil
	}
	s := strings.TrimSpace(rec.String(r.Field))
	for _, v := range r.Values {
		if strings.EqualFold(s, v) {
			return nil
		}
	}
	sev := r.Severity
	if sev == "" {
		sev = SeverityError
	}
	return issue(sev, CategoryFormat, r.Field, "unknown %s %q", r.Field, s)
}

// Referential is a cross-field check. Violation returns a message when the
// record fails, or "".
type Referential struct {
	Name      string
	Fields    []string
	Severity  Severity
	Violation func(rec model.Record) string
}

func (r Referential) Check(rec model.Record) []Issue {
	msg := r.Violation(rec)
	if msg == "" {
		return nil
	}
	sev := r.Severity
	if sev == "" {
		sev = SeverityError
	}
	return []Issue{{Severity: sev, Category: CategoryReferential, Field: strings.Join(r.Fields, ","), Message: msg}}
}

// Unless skips a rule for records matching Skip.
type Unless struct {
	Rule Rule
	Skip func(rec model.Record) bool
}

func (r Unless) Check(rec model.Record) []Issue {
	if r.Skip(rec) {
		return nil
	}
	return r.Rule.Check(rec)
}
