package validate

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/sells-group/sportsfeed/internal/model"
)

var teamPattern = regexp.MustCompile(`^[A-Z]{2,3}$`)

// StatTypes are the prop stat types with their typical line ranges.
var StatTypes = map[string][2]float64{
	"passing_yards":   {50, 500},
	"rushing_yards":   {10, 300},
	"receiving_yards": {10, 200},
	"touchdowns":      {0, 5},
	"receptions":      {1, 15},
	"completions":     {5, 50},
}

// InjuryStatuses is the accepted injury designation vocabulary.
var InjuryStatuses = []string{
	"Active", "Probable", "Questionable", "Doubtful", "Out", "Day-To-Day",
	"Injured Reserve", "IR", "Physically Unable to Perform", "PUP", "Suspended",
}

// RulesFor returns the rule table for a domain.
func RulesFor(d model.Domain) []Rule {
	switch d {
	case model.DomainSchedule:
		return scheduleRules
	case model.DomainOdds:
		return oddsRules
	case model.DomainProps:
		return propsRules
	case model.DomainInjuries:
		return injuryRules
	default:
		return nil
	}
}

func sameTeams(rec model.Record) bool {
	home, away := rec.String(model.FieldHomeTeam), rec.String(model.FieldAwayTeam)
	return home != "" && home == away
}

func validTime(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// matchupRules cover the two-team fields shared by schedule and odds.
// When a team plays itself only the referential error is reported.
func matchupRules() []Rule {
	rules := []Rule{
		Presence{Field: model.FieldHomeTeam},
		Presence{Field: model.FieldAwayTeam},
	}
	for _, f := range []string{model.FieldHomeTeam, model.FieldAwayTeam} {
		rules = append(rules,
			Unless{Rule: Format{Field: f, Pattern: teamPattern, Expect: "2-3 letter team code"}, Skip: sameTeams},
			Unless{Rule: knownTeam(f), Skip: sameTeams},
		)
	}
	rules = append(rules, Referential{
		Name:   "distinct_teams",
		Fields: []string{model.FieldHomeTeam, model.FieldAwayTeam},
		Violation: func(rec model.Record) string {
			if sameTeams(rec) {
				return fmt.Sprintf("team cannot play itself (%s)", rec.String(model.FieldHomeTeam))
			}
			return ""
		},
	})
	return rules
}

// knownTeam warns about well-formed codes outside the league.
func knownTeam(field string) Rule {
	return Referential{
		Name:     "known_team",
		Fields:   []string{field},
		Severity: SeverityWarning,
		Violation: func(rec model.Record) string {
			code := rec.String(field)
			if !teamPattern.MatchString(code) || model.KnownTeam(code) {
				return ""
			}
			return fmt.Sprintf("unknown team %q", code)
		},
	}
}

var scheduleRules = append(matchupRules(),
	Presence{Field: model.FieldGameTime},
	Presence{Field: model.FieldWeek},
	Presence{Field: model.FieldSeason},
	Format{Field: model.FieldGameTime, Valid: validTime, Expect: "RFC 3339 timestamp"},
	Range{Field: model.FieldSeason, Min: 2024, Max: 2030},
	Range{Field: model.FieldWeek, Min: 1, Max: 18},
)

var oddsRules = append(matchupRules(),
	Presence{Field: model.FieldGameID},
	Presence{Field: model.FieldBookmaker},
	Presence{Field: model.FieldHomeSpread},
	Presence{Field: model.FieldTotal},
	Range{Field: model.FieldHomeSpread, Min: -30, Max: 30, TypicalMin: -28, TypicalMax: 28},
	Range{Field: model.FieldAwaySpread, Min: -30, Max: 30, TypicalMin: -28, TypicalMax: 28},
	Range{Field: model.FieldTotal, Min: 30, Max: 80, TypicalMin: 30, TypicalMax: 70},
	Range{Field: model.FieldHomeMoneyline, Min: -10000, Max: 10000, TypicalMin: -2000, TypicalMax: 2000},
	Range{Field: model.FieldAwayMoneyline, Min: -10000, Max: 10000, TypicalMin: -2000, TypicalMax: 2000},
	americanOdds(model.FieldHomeMoneyline),
	americanOdds(model.FieldAwayMoneyline),
	Format{Field: model.FieldLastUpdate, Valid: validTime, Expect: "RFC 3339 timestamp"},
	Referential{
		Name:   "spreads_offset",
		Fields: []string{model.FieldHomeSpread, model.FieldAwaySpread},
		Violation: func(rec model.Record) string {
			h, okH := rec.Float(model.FieldHomeSpread)
			a, okA := rec.Float(model.FieldAwaySpread)
			if !okH || !okA || math.Abs(h+a) < 1e-9 {
				return ""
			}
			return fmt.Sprintf("spreads must sum to zero (home %v, away %v)", h, a)
		},
	},
	Referential{
		Name:   "moneylines_favorite",
		Fields: []string{model.FieldHomeMoneyline, model.FieldAwayMoneyline},
		Violation: func(rec model.Record) string {
			h, okH := rec.Float(model.FieldHomeMoneyline)
			a, okA := rec.Float(model.FieldAwayMoneyline)
			if okH && okA && h < 0 && a < 0 {
				return fmt.Sprintf("both moneylines negative (home %v, away %v)", h, a)
			}
			return ""
		},
	},
)

var propsRules = []Rule{
	Presence{Field: model.FieldPlayer},
	Presence{Field: model.FieldStat},
	Presence{Field: model.FieldLine},
	Presence{Field: model.FieldOverOdds},
	OneOf{Field: model.FieldStat, Values: statNames(), Severity: SeverityWarning},
	Range{Field: model.FieldLine, Min: 0, Max: 1000},
	Range{Field: model.FieldOverOdds, Min: -10000, Max: 10000, TypicalMin: -500, TypicalMax: 500},
	Range{Field: model.FieldUnderOdds, Min: -10000, Max: 10000, TypicalMin: -500, TypicalMax: 500},
	americanOdds(model.FieldOverOdds),
	americanOdds(model.FieldUnderOdds),
	Format{Field: model.FieldLastUpdate, Valid: validTime, Expect: "RFC 3339 timestamp"},
	Referential{
		Name:     "typical_line",
		Fields:   []string{model.FieldStat, model.FieldLine},
		Severity: SeverityWarning,
		Violation: func(rec model.Record) string {
			bounds, ok := StatTypes[rec.String(model.FieldStat)]
			line, okLine := rec.Float(model.FieldLine)
			if !ok || !okLine || (line >= bounds[0] && line <= bounds[1]) {
				return ""
			}
			return fmt.Sprintf("unusual %s line %v (expected %v-%v)", rec.String(model.FieldStat), line, bounds[0], bounds[1])
		},
	},
}

var injuryRules = []Rule{
	Presence{Field: model.FieldPlayer},
	Presence{Field: model.FieldTeam},
	Presence{Field: model.FieldStatus},
	Format{Field: model.FieldTeam, Pattern: teamPattern, Expect: "2-3 letter team code"},
	knownTeam(model.FieldTeam),
	OneOf{Field: model.FieldStatus, Values: InjuryStatuses, Severity: SeverityWarning},
}

// americanOdds rejects prices strictly between -100 and +100, which have no
// meaning in American notation.
func americanOdds(field string) Rule {
	return Referential{
		Name:   "american_odds",
		Fields: []string{field},
		Violation: func(rec model.Record) string {
			v, ok := rec.Float(field)
			if !ok || v <= -100 || v >= 100 {
				return ""
			}
			return fmt.Sprintf("%s %v is not a valid American price", field, v)
		},
	}
}

func statNames() []string {
	names := make([]string, 0, len(StatTypes))
	for k := range StatTypes {
		names = append(names, k)
	}
	return names
}
