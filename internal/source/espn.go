package source

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/model"
)

// NameESPN is the registry name of the public ESPN feed.
const NameESPN = "espn"

// DefaultESPNBaseURL is the NFL site API root.
const DefaultESPNBaseURL = "https://site.api.espn.com/apis/site/v2/sports/football/nfl"

// ESPN reads schedules, consensus lines and injury reports from ESPN's
// public site API. It is not quota limited.
type ESPN struct {
	client  *fetcher.Client
	baseURL string
	now     func() time.Time
}

// NewESPN creates the adapter. An empty baseURL uses the production root.
func NewESPN(client *fetcher.Client, baseURL string) *ESPN {
	if baseURL == "" {
		baseURL = DefaultESPNBaseURL
	}
	return &ESPN{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Name implements Source.
func (e *ESPN) Name() string { return NameESPN }

// Domains implements Source.
func (e *ESPN) Domains() []model.Domain {
	return []model.Domain{model.DomainSchedule, model.DomainOdds, model.DomainInjuries}
}

// Fetch implements Source.
func (e *ESPN) Fetch(ctx context.Context, q model.Query) (*model.Payload, error) {
	switch q.Domain {
	case model.DomainSchedule, model.DomainOdds:
		board, err := e.scoreboard(ctx, q)
		if err != nil {
			return nil, err
		}
		if q.Domain == model.DomainSchedule {
			return &model.Payload{Records: board.scheduleRecords()}, nil
		}
		return &model.Payload{Records: board.lineRecords(e.now())}, nil
	case model.DomainInjuries:
		resp, err := e.client.Get(ctx, e.baseURL+"/injuries", nil)
		if err != nil {
			return nil, httpFailure(NameESPN, err, nil)
		}
		report, err := fetcher.DecodeJSON[espnInjuryReport](resp.Body)
		if err != nil {
			return nil, Fail(NameESPN, Charged, nil, err)
		}
		team := q.Param("team", "")
		return &model.Payload{Records: report.records(team)}, nil
	default:
		return nil, Fail(NameESPN, NotCharged, nil, eris.Wrapf(ErrBadQuery, "source: espn does not serve %s", q.Domain))
	}
}

func (e *ESPN) scoreboard(ctx context.Context, q model.Query) (*espnScoreboard, error) {
	params := url.Values{}
	if season := q.Param("season", ""); season != "" {
		params.Set("dates", season)
	}
	if week := q.Param("week", ""); week != "" {
		params.Set("week", week)
		params.Set("seasontype", q.Param("seasontype", "2"))
	}
	resp, err := e.client.Get(ctx, e.baseURL+"/scoreboard", params)
	if err != nil {
		return nil, httpFailure(NameESPN, err, nil)
	}
	board, err := fetcher.DecodeJSON[espnScoreboard](resp.Body)
	if err != nil {
		return nil, Fail(NameESPN, Charged, nil, err)
	}
	return board, nil
}

type espnScoreboard struct {
	Season struct {
		Year int `json:"year"`
	} `json:"season"`
	Week struct {
		Number int `json:"number"`
	} `json:"week"`
	Events []espnEvent `json:"events"`
}

type espnEvent struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Season struct {
		Year int `json:"year"`
	} `json:"season"`
	Week struct {
		Number int `json:"number"`
	} `json:"week"`
	Competitions []espnCompetition `json:"competitions"`
}

type espnCompetition struct {
	Competitors []struct {
		HomeAway string `json:"homeAway"`
		Team     struct {
			Abbreviation string `json:"abbreviation"`
			DisplayName  string `json:"displayName"`
		} `json:"team"`
	} `json:"competitors"`
	Odds []espnOdds `json:"odds"`
}

type espnOdds struct {
	Provider struct {
		Name string `json:"name"`
	} `json:"provider"`
	Details      string   `json:"details"`
	Spread       *float64 `json:"spread"`
	OverUnder    *float64 `json:"overUnder"`
	HomeTeamOdds struct {
		MoneyLine *float64 `json:"moneyLine"`
	} `json:"homeTeamOdds"`
	AwayTeamOdds struct {
		MoneyLine *float64 `json:"moneyLine"`
	} `json:"awayTeamOdds"`
}

// teams returns standardized home and away codes for the event's first
// competition.
func (ev espnEvent) teams() (home, away string) {
	if len(ev.Competitions) == 0 {
		return "", ""
	}
	for _, c := range ev.Competitions[0].Competitors {
		code := c.Team.Abbreviation
		if std, ok := model.StandardizeTeam(code); ok {
			code = std
		} else if std, ok := model.StandardizeTeam(c.Team.DisplayName); ok {
			code = std
		}
		switch c.HomeAway {
		case "home":
			home = code
		case "away":
			away = code
		}
	}
	return home, away
}

func (ev espnEvent) gameTime() string {
	if t, ok := parseGameTime(ev.Date); ok {
		return t.Format(time.RFC3339)
	}
	return ev.Date
}

func (b *espnScoreboard) scheduleRecords() []model.Record {
	out := make([]model.Record, 0, len(b.Events))
	for _, ev := range b.Events {
		home, away := ev.teams()
		season, week := ev.Season.Year, ev.Week.Number
		if season == 0 {
			season = b.Season.Year
		}
		if week == 0 {
			week = b.Week.Number
		}
		rec := model.Record{
			model.FieldGameID:   ev.ID,
			model.FieldHomeTeam: home,
			model.FieldAwayTeam: away,
			model.FieldGameTime: ev.gameTime(),
		}
		if season != 0 {
			rec[model.FieldSeason] = season
		}
		if week != 0 {
			rec[model.FieldWeek] = week
		}
		out = append(out, rec)
	}
	return out
}

// lineRecords emits one record per odds provider per event. ESPN does not
// timestamp its lines, so they are stamped with the fetch time.
func (b *espnScoreboard) lineRecords(now time.Time) []model.Record {
	var out []model.Record
	stamp := now.UTC().Format(time.RFC3339)
	for _, ev := range b.Events {
		if len(ev.Competitions) == 0 {
			continue
		}
		home, away := ev.teams()
		for _, o := range ev.Competitions[0].Odds {
			book := o.Provider.Name
			if book == "" {
				book = NameESPN
			}
			rec := model.Record{
				model.FieldGameID:     ev.ID,
				model.FieldHomeTeam:   home,
				model.FieldAwayTeam:   away,
				model.FieldGameTime:   ev.gameTime(),
				model.FieldBookmaker:  book,
				model.FieldLastUpdate: stamp,
			}
			if o.Spread != nil {
				rec[model.FieldHomeSpread] = *o.Spread
				rec[model.FieldAwaySpread] = -*o.Spread
			}
			if o.OverUnder != nil {
				rec[model.FieldTotal] = *o.OverUnder
			}
			if o.HomeTeamOdds.MoneyLine != nil {
				rec[model.FieldHomeMoneyline] = *o.HomeTeamOdds.MoneyLine
			}
			if o.AwayTeamOdds.MoneyLine != nil {
				rec[model.FieldAwayMoneyline] = *o.AwayTeamOdds.MoneyLine
			}
			out = append(out, rec)
		}
	}
	return out
}

// espnInjuryReport accepts both the per-team grouped layout and a flat list
// of injury entries.
type espnInjuryReport struct {
	Injuries []espnInjuryGroup `json:"injuries"`
}

type espnInjuryGroup struct {
	DisplayName string       `json:"displayName"`
	Injuries    []espnInjury `json:"injuries"`
	espnInjury
}

type espnInjury struct {
	Athlete struct {
		DisplayName string `json:"displayName"`
		Position    struct {
			Abbreviation string `json:"abbreviation"`
		} `json:"position"`
		Team struct {
			Abbreviation string `json:"abbreviation"`
		} `json:"team"`
	} `json:"athlete"`
	Status string `json:"status"`
	Type   struct {
		Description string `json:"description"`
	} `json:"type"`
	Details struct {
		Type string `json:"type"`
	} `json:"details"`
	Date string `json:"date"`
}

func (r *espnInjuryReport) records(teamFilter string) []model.Record {
	var out []model.Record
	add := func(inj espnInjury, groupTeam string) {
		if inj.Athlete.DisplayName == "" {
			return
		}
		team := inj.Athlete.Team.Abbreviation
		if team == "" {
			team = groupTeam
		}
		team = model.StandardizeOrKeep(team)
		if teamFilter != "" && !strings.EqualFold(team, teamFilter) {
			return
		}
		injury := inj.Details.Type
		if injury == "" {
			injury = inj.Type.Description
		}
		rec := model.Record{
			model.FieldPlayer:   inj.Athlete.DisplayName,
			model.FieldTeam:     team,
			model.FieldPosition: inj.Athlete.Position.Abbreviation,
			model.FieldStatus:   inj.Status,
		}
		if injury != "" {
			rec[model.FieldInjury] = injury
		}
		if t, ok := parseGameTime(inj.Date); ok {
			rec[model.FieldLastUpdate] = t.Format(time.RFC3339)
		}
		out = append(out, rec)
	}
	for _, g := range r.Injuries {
		add(g.espnInjury, g.DisplayName)
		for _, inj := range g.Injuries {
			add(inj, g.DisplayName)
		}
	}
	return out
}

