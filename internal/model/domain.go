// Package model defines the shared data types that flow through the acquisition pipeline.
package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Domain is a category of external data with its own validation rules.
type Domain string

const (
	DomainSchedule Domain = "schedule"
	DomainOdds     Domain = "odds"
	DomainProps    Domain = "props"
	DomainInjuries Domain = "injuries"
)

// AllDomains returns every supported domain in reporting order.
func AllDomains() []Domain {
	return []Domain{DomainSchedule, DomainOdds, DomainProps, DomainInjuries}
}

// ParseDomain converts a user-supplied name into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DomainSchedule, DomainOdds, DomainProps, DomainInjuries:
		return d, nil
	case "player_props", "playerprops":
		return DomainProps, nil
	}
	return "", eris.Errorf("model: unknown domain %q", s)
}

// domainDefaults are applied to query parameters the caller leaves unset.
var domainDefaults = map[Domain]map[string]string{
	DomainSchedule: {"league": "nfl"},
	DomainOdds: {
		"sport":   "americanfootball_nfl",
		"regions": "us",
		"markets": "h2h,spreads,totals",
	},
	DomainProps: {
		"sport":   "americanfootball_nfl",
		"regions": "us",
		"markets": "player_pass_yds,player_rush_yds,player_reception_yds,player_receptions",
	},
	DomainInjuries: {"league": "nfl"},
}

// Query identifies a logical request. Its Key is the cache key and the
// quota accounting unit.
type Query struct {
	Domain Domain            `json:"domain"`
	Params map[string]string `json:"params,omitempty"`
}

// NewQuery builds a query with the domain defaults filled in. Empty values
// in params are dropped.
func NewQuery(domain Domain, params map[string]string) Query {
	merged := make(map[string]string, len(params)+len(domainDefaults[domain]))
	for k, v := range domainDefaults[domain] {
		merged[k] = v
	}
	for k, v := range params {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" {
			continue
		}
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return Query{Domain: domain, Params: merged}
}

// Param returns the named parameter or fallback when unset.
func (q Query) Param(name, fallback string) string {
	if v, ok := q.Params[name]; ok && v != "" {
		return v
	}
	return fallback
}

// Key returns the canonical form of the query: the domain followed by the
// parameters sorted by name.
func (q Query) Key() string {
	if len(q.Params) == 0 {
		return string(q.Domain)
	}
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(q.Domain))
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.Params[k])
	}
	return b.String()
}

func (q Query) String() string { return q.Key() }
