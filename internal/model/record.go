package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one normalized row of source data. Field names are shared
// across sources so a single rule table can check every source's output.
type Record map[string]any

// Record field names used by the source adapters and rule tables.
const (
	FieldGameID        = "game_id"
	FieldHomeTeam      = "home_team"
	FieldAwayTeam      = "away_team"
	FieldGameTime      = "game_time"
	FieldWeek          = "week"
	FieldSeason        = "season"
	FieldBookmaker     = "bookmaker"
	FieldHomeSpread    = "home_spread"
	FieldAwaySpread    = "away_spread"
	FieldTotal         = "total"
	FieldHomeMoneyline = "home_moneyline"
	FieldAwayMoneyline = "away_moneyline"
	FieldLastUpdate    = "last_update"
	FieldPlayer        = "player"
	FieldStat          = "stat"
	FieldLine          = "line"
	FieldOverOdds      = "over_odds"
	FieldUnderOdds     = "under_odds"
	FieldTeam          = "team"
	FieldPosition      = "position"
	FieldStatus        = "status"
	FieldInjury        = "injury"
)

// Has reports whether the field is present with a non-empty value.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the field as a string, or "" when it is absent or not a
// string. Non-string values are not coerced.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Float returns the field as a float64. Integers, json.Number values and
// numeric strings are accepted since payloads round-trip through JSON.
func (r Record) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Time returns the field parsed as an RFC 3339 timestamp.
func (r Record) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// Usage is the provider's own accounting, read from response headers.
type Usage struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// Payload is what a source returns for a query. AsOf is set by sources
// that replay older data, such as durable snapshots.
type Payload struct {
	Records []Record  `json:"records"`
	AsOf    time.Time `json:"as_of,omitempty"`
	Usage   *Usage    `json:"-"`
}

// Len returns the number of records, tolerating a nil payload.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Records)
}
