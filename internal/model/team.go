package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Team is an NFL franchise.
type Team struct {
	Code     string
	City     string
	Nickname string
}

// Name returns the full franchise name.
func (t Team) Name() string { return t.City + " " + t.Nickname }

// Teams lists the 32 franchises by code.
var Teams = []Team{
	{"ARI", "Arizona", "Cardinals"},
	{"ATL", "Atlanta", "Falcons"},
	{"BAL", "Baltimore", "Ravens"},
	{"BUF", "Buffalo", "Bills"},
	{"CAR", "Carolina", "Panthers"},
	{"CHI", "Chicago", "Bears"},
	{"CIN", "Cincinnati", "Bengals"},
	{"CLE", "Cleveland", "Browns"},
	{"DAL", "Dallas", "Cowboys"},
	{"DEN", "Denver", "Broncos"},
	{"DET", "Detroit", "Lions"},
	{"GB", "Green Bay", "Packers"},
	{"HOU", "Houston", "Texans"},
	{"IND", "Indianapolis", "Colts"},
	{"JAX", "Jacksonville", "Jaguars"},
	{"KC", "Kansas City", "Chiefs"},
	{"LV", "Las Vegas", "Raiders"},
	{"LAC", "Los Angeles", "Chargers"},
	{"LAR", "Los Angeles", "Rams"},
	{"MIA", "Miami", "Dolphins"},
	{"MIN", "Minnesota", "Vikings"},
	{"NE", "New England", "Patriots"},
	{"NO", "New Orleans", "Saints"},
	{"NYG", "New York", "Giants"},
	{"NYJ", "New York", "Jets"},
	{"PHI", "Philadelphia", "Eagles"},
	{"PIT", "Pittsburgh", "Steelers"},
	{"SF", "San Francisco", "49ers"},
	{"SEA", "Seattle", "Seahawks"},
	{"TB", "Tampa Bay", "Buccaneers"},
	{"TEN", "Tennessee", "Titans"},
	{"WAS", "Washington", "Commanders"},
}

// codeAliases maps abbreviations used by other feeds onto ours.
var codeAliases = map[string]string{
	"WSH": "WAS",
	"JAC": "JAX",
	"LA":  "LAR",
	"LVR": "LV",
	"OAK": "LV",
	"SD":  "LAC",
	"STL": "LAR",
	"GNB": "GB",
	"KAN": "KC",
	"NWE": "NE",
	"NOR": "NO",
	"SFO": "SF",
	"TAM": "TB",
}

var (
	teamsByCode map[string]Team
	teamsByName map[string]string
)

func init() {
	teamsByCode = make(map[string]Team, len(Teams))
	teamsByName = make(map[string]string, len(Teams)*3)

	cities := make(map[string]int)
	for _, t := range Teams {
		cities[t.City]++
	}
	for _, t := range Teams {
		teamsByCode[t.Code] = t
		teamsByName[foldName(t.Name())] = t.Code
		teamsByName[foldName(t.Nickname)] = t.Code
		// Shared cities (New York, Los Angeles) are ambiguous on their own.
		if cities[t.City] == 1 {
			teamsByName[foldName(t.City)] = t.Code
		}
	}
	teamsByName[foldName("Washington Football Team")] = "WAS"
	teamsByName[foldName("Oakland Raiders")] = "LV"
	teamsByName[foldName("San Diego Chargers")] = "LAC"
	teamsByName[foldName("St. Louis Rams")] = "LAR"
	teamsByName[foldName("Niners")] = "SF"
	teamsByName[foldName("Bucs")] = "TB"
	teamsByName[foldName("Pats")] = "NE"
}

// KnownTeam reports whether code is one of the 32 franchise codes.
func KnownTeam(code string) bool {
	_, ok := teamsByCode[code]
	return ok
}

// TeamByCode returns the franchise for a code.
func TeamByCode(code string) (Team, bool) {
	t, ok := teamsByCode[code]
	return t, ok
}

// StandardizeTeam maps a team code, full name, nickname or unambiguous city
// onto the canonical code. Matching ignores case, accents and punctuation.
func StandardizeTeam(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	upper := strings.ToUpper(trimmed)
	if _, ok := teamsByCode[upper]; ok {
		return upper, true
	}
	if code, ok := codeAliases[upper]; ok {
		return code, true
	}
	if code, ok := teamsByName[foldName(trimmed)]; ok {
		return code, true
	}
	return "", false
}

// StandardizeOrKeep returns the canonical code when one is known and the
// trimmed input otherwise, so validation can still flag it.
func StandardizeOrKeep(name string) string {
	if code, ok := StandardizeTeam(name); ok {
		return code
	}
	return strings.TrimSpace(name)
}

// foldName strips accents, case and punctuation, and collapses whitespace.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = cases.Fold().String(stripped)

	var b strings.Builder
	space := false
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			space = true
		}
	}
	return b.String()
}
