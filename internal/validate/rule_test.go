package validate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/model"
)

func TestPresence(t *testing.T) {
	r := Presence{Field: "player"}
	assert.Empty(t, r.Check(model.Record{"player": "Josh Allen"}))

	for _, rec := range []model.Record{{}, {"player": ""}, {"player": "  "}, {"player": nil}} {
		issues := r.Check(rec)
		require.Len(t, issues, 1)
		assert.Equal(t, SeverityError, issues[0].Severity)
		assert.Equal(t, CategoryPresence, issues[0].Category)
		assert.Equal(t, "player", issues[0].Field)
	}
}

func TestFormat(t *testing.T) {
	r := Format{Field: "team", Pattern: regexp.MustCompile(`^[A-Z]{2,3}$`), Expect: "code"}
	assert.Empty(t, r.Check(model.Record{"team": "KC"}))
	assert.Empty(t, r.Check(model.Record{}), "absent optional field is not an issue")

	issues := r.Check(model.Record{"team": "kc"})
	require.Len(t, issues, 1)
	assert.Equal(t, CategoryFormat, issues[0].Category)

	issues = r.Check(model.Record{"team": 12})
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "must be a string")
}

func TestRange(t *testing.T) {
	r := Range{Field: "spread", Min: -30, Max: 30, TypicalMin: -28, TypicalMax: 28}

	tests := []struct {
		name string
		v    any
		sev  Severity
		cat  Category
	}{
		{"typical", -3.5, "", ""},
		{"edge of valid", 30.0, SeverityWarning, CategoryRange},
		{"unusual", 29, SeverityWarning, CategoryRange},
		{"impossible", -31.0, SeverityError, CategoryRange},
		{"numeric string", "7", "", ""},
		{"not numeric", "seven", SeverityError, CategoryFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := r.Check(model.Record{"spread": tt.v})
			if tt.sev == "" {
				assert.Empty(t, issues)
				return
			}
			require.Len(t, issues, 1)
			assert.Equal(t, tt.sev, issues[0].Severity)
			assert.Equal(t, tt.cat, issues[0].Category)
		})
	}

	noTypical := Range{Field: "week", Min: 1, Max: 18}
	assert.Empty(t, noTypical.Check(model.Record{"week": 18}))
	assert.Len(t, noTypical.Check(model.Record{"week": 19}), 1)
}

func TestOneOf(t *testing.T) {
	r := OneOf{Field: "status", Values: InjuryStatuses, Severity: SeverityWarning}
	assert.Empty(t, r.Check(model.Record{"status": "questionable"}))
	issues := r.Check(model.Record{"status": "Sidelined"})
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)

	strict := OneOf{Field: "status", Values: []string{"Out"}}
	assert.Equal(t, SeverityError, strict.Check(model.Record{"status": "In"})[0].Severity)
}

func TestValidate_RunsEveryRule(t *testing.T) {
	rec := model.Record{"home_team": "kc", "away_team": "LV", "week": 40}
	issues := Validate(rec, RulesFor(model.DomainSchedule))

	var presence, format, rng int
	for _, is := range issues {
		switch is.Category {
		case CategoryPresence:
			presence++
		case CategoryFormat:
			format++
		case CategoryRange:
			rng++
		}
	}
	assert.Equal(t, 2, presence, "game_time and season")
	assert.Equal(t, 1, format)
	assert.Equal(t, 1, rng)
}

func scheduleRecord(home, away string) model.Record {
	return model.Record{
		"game_id":   "g1",
		"home_team": home,
		"away_team": away,
		"game_time": "2025-09-07T17:00:00Z",
		"week":      1,
		"season":    2025,
	}
}

func TestSchedule_Valid(t *testing.T) {
	assert.Empty(t, Validate(scheduleRecord("BUF", "BAL"), RulesFor(model.DomainSchedule)))
}

func TestSchedule_TeamPlaysItself(t *testing.T) {
	for _, code := range []string{"KC", "XYZ", "kansas city"} {
		issues := Validate(scheduleRecord(code, code), RulesFor(model.DomainSchedule))
		require.Len(t, issues, 1, code)
		assert.Equal(t, SeverityError, issues[0].Severity)
		assert.Equal(t, CategoryReferential, issues[0].Category)
		assert.Equal(t, "home_team,away_team", issues[0].Field)
	}
}

func TestSchedule_UnknownTeamWarns(t *testing.T) {
	issues := Validate(scheduleRecord("XYZ", "KC"), RulesFor(model.DomainSchedule))
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "XYZ")
}

func TestSchedule_BadTimeAndSeason(t *testing.T) {
	rec := scheduleRecord("BUF", "BAL")
	rec["game_time"] = "Sunday 1pm"
	rec["season"] = 2019
	issues := Validate(rec, RulesFor(model.DomainSchedule))
	require.Len(t, issues, 2)
	assert.Equal(t, model.FieldGameTime, issues[0].Field)
	assert.Equal(t, model.FieldSeason, issues[1].Field)
}

func oddsRecord() model.Record {
	return model.Record{
		"game_id":        "g1",
		"home_team":      "KC",
		"away_team":      "LV",
		"bookmaker":      "draftkings",
		"home_spread":    -3.5,
		"away_spread":    3.5,
		"total":          45.5,
		"home_moneyline": -180.0,
		"away_moneyline": 150.0,
		"last_update":    "2025-10-14T08:55:00Z",
	}
}

func TestOdds_Valid(t *testing.T) {
	assert.Empty(t, Validate(oddsRecord(), RulesFor(model.DomainOdds)))
}

func TestOdds_Referential(t *testing.T) {
	rec := oddsRecord()
	rec["away_spread"] = 4.5
	rec["away_moneyline"] = -110.0
	issues := Validate(rec, RulesFor(model.DomainOdds))
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0].Message, "sum to zero")
	assert.Contains(t, issues[1].Message, "both moneylines negative")

	rec = oddsRecord()
	rec["home_moneyline"] = 50.0
	issues = Validate(rec, RulesFor(model.DomainOdds))
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "American price")
}

func TestOdds_UnusualVersusImpossible(t *testing.T) {
	rec := oddsRecord()
	rec["total"] = 75.0
	issues := Validate(rec, RulesFor(model.DomainOdds))
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)

	rec["total"] = 95.0
	issues = Validate(rec, RulesFor(model.DomainOdds))
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestProps(t *testing.T) {
	rec := model.Record{
		"player":     "Josh Allen",
		"stat":       "passing_yards",
		"line":       255.5,
		"over_odds":  -115.0,
		"under_odds": -105.0,
	}
	assert.Empty(t, Validate(rec, RulesFor(model.DomainProps)))

	rec["line"] = 650.5
	issues := Validate(rec, RulesFor(model.DomainProps))
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "unusual passing_yards line")

	rec["line"] = 1.5
	rec["stat"] = "sacks"
	issues = Validate(rec, RulesFor(model.DomainProps))
	require.Len(t, issues, 1)
	assert.Equal(t, "unknown stat \"sacks\"", issues[0].Message)

	delete(rec, "over_odds")
	issues = Validate(rec, RulesFor(model.DomainProps))
	assert.Len(t, issues, 2)
}

func TestInjuries(t *testing.T) {
	rec := model.Record{"player": "Travis Kelce", "team": "KC", "status": "Questionable"}
	assert.Empty(t, Validate(rec, RulesFor(model.DomainInjuries)))

	rec["team"] = "Chiefs"
	rec["status"] = "Sidelined"
	issues := Validate(rec, RulesFor(model.DomainInjuries))
	require.Len(t, issues, 2)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, SeverityWarning, issues[1].Severity)
}

func TestRulesFor_Unknown(t *testing.T) {
	assert.Nil(t, RulesFor(model.Domain("weather")))
}
