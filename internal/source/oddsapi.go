package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/model"
)

// NameOddsAPI is the registry name of the quota-limited odds provider.
const NameOddsAPI = "odds_api"

// DefaultOddsAPIBaseURL is the production endpoint.
const DefaultOddsAPIBaseURL = "https://api.the-odds-api.com"

// Usage headers reported on every response.
const (
	headerRequestsUsed      = "x-requests-used"
	headerRequestsRemaining = "x-requests-remaining"
)

// propMarketStats maps provider market keys to stat types.
var propMarketStats = map[string]string{
	"player_pass_yds":         "passing_yards",
	"player_rush_yds":         "rushing_yards",
	"player_reception_yds":    "receiving_yards",
	"player_receptions":       "receptions",
	"player_pass_tds":         "touchdowns",
	"player_anytime_td":       "touchdowns",
	"player_pass_completions": "completions",
}

// OddsAPI fetches game lines and player props from The Odds API.
type OddsAPI struct {
	client  *fetcher.Client
	baseURL string
	apiKey  string
}

// NewOddsAPI creates the adapter. An empty baseURL uses the production
// endpoint.
func NewOddsAPI(client *fetcher.Client, baseURL, apiKey string) *OddsAPI {
	if baseURL == "" {
		baseURL = DefaultOddsAPIBaseURL
	}
	return &OddsAPI{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Name implements Source.
func (a *OddsAPI) Name() string { return NameOddsAPI }

// Domains implements Source.
func (a *OddsAPI) Domains() []model.Domain {
	return []model.Domain{model.DomainOdds, model.DomainProps}
}

// Fetch implements Source.
func (a *OddsAPI) Fetch(ctx context.Context, q model.Query) (*model.Payload, error) {
	if a.apiKey == "" {
		return nil, Fail(NameOddsAPI, NotCharged, nil, eris.Wrap(ErrNotConfigured, "source: odds_api has no api key"))
	}

	sport := q.Param("sport", "americanfootball_nfl")
	params := url.Values{
		"apiKey":     {a.apiKey},
		"regions":    {q.Param("regions", "us")},
		"markets":    {q.Param("markets", "h2h,spreads,totals")},
		"oddsFormat": {"american"},
		"dateFormat": {"iso"},
	}
	if b := q.Param("bookmakers", ""); b != "" {
		params.Set("bookmakers", b)
	}

	var endpoint string
	switch q.Domain {
	case model.DomainOdds:
		endpoint = a.baseURL + "/v4/sports/" + url.PathEscape(sport) + "/odds"
	case model.DomainProps:
		event := q.Param("event_id", "")
		if event == "" {
			return nil, Fail(NameOddsAPI, NotCharged, nil, eris.Wrap(ErrBadQuery, "source: props query requires event_id"))
		}
		endpoint = a.baseURL + "/v4/sports/" + url.PathEscape(sport) + "/events/" + url.PathEscape(event) + "/odds"
	default:
		return nil, Fail(NameOddsAPI, NotCharged, nil, eris.Wrapf(ErrBadQuery, "source: odds_api does not serve %s", q.Domain))
	}

	resp, err := a.client.Get(ctx, endpoint, params)
	if err != nil {
		return nil, httpFailure(NameOddsAPI, err, parseUsage)
	}
	usage := parseUsage(resp.Header)

	var records []model.Record
	if q.Domain == model.DomainOdds {
		events, err := fetcher.DecodeJSON[[]oddsEvent](resp.Body)
		if err != nil {
			return nil, Fail(NameOddsAPI, Charged, usage, err)
		}
		for _, ev := range *events {
			records = append(records, ev.lineRecords()...)
		}
	} else {
		ev, err := fetcher.DecodeJSON[oddsEvent](resp.Body)
		if err != nil {
			return nil, Fail(NameOddsAPI, Charged, usage, err)
		}
		records = ev.propRecords()
	}

	return &model.Payload{Records: records, Usage: usage}, nil
}

// parseUsage reads provider usage headers. It returns nil unless both are
// present and numeric.
func parseUsage(h http.Header) *model.Usage {
	used, err1 := strconv.ParseFloat(h.Get(headerRequestsUsed), 64)
	remaining, err2 := strconv.ParseFloat(h.Get(headerRequestsRemaining), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &model.Usage{Used: int(used), Remaining: int(remaining)}
}

type oddsEvent struct {
	ID           string          `json:"id"`
	SportKey     string          `json:"sport_key"`
	CommenceTime time.Time       `json:"commence_time"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Bookmakers   []oddsBookmaker `json:"bookmakers"`
}

type oddsBookmaker struct {
	Key        string       `json:"key"`
	Title      string       `json:"title"`
	LastUpdate time.Time    `json:"last_update"`
	Markets    []oddsMarket `json:"markets"`
}

type oddsMarket struct {
	Key        string        `json:"key"`
	LastUpdate time.Time     `json:"last_update"`
	Outcomes   []oddsOutcome `json:"outcomes"`
}

type oddsOutcome struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Point       *float64 `json:"point"`
}

// lineRecords flattens an event into one record per bookmaker.
func (ev oddsEvent) lineRecords() []model.Record {
	home := model.StandardizeOrKeep(ev.HomeTeam)
	away := model.StandardizeOrKeep(ev.AwayTeam)
	out := make([]model.Record, 0, len(ev.Bookmakers))
	for _, b := range ev.Bookmakers {
		rec := model.Record{
			model.FieldGameID:     ev.ID,
			model.FieldHomeTeam:   home,
			model.FieldAwayTeam:   away,
			model.FieldGameTime:   ev.CommenceTime.UTC().Format(time.RFC3339),
			model.FieldBookmaker:  b.Key,
			model.FieldLastUpdate: b.LastUpdate.UTC().Format(time.RFC3339),
		}
		for _, m := range b.Markets {
			for _, o := range m.Outcomes {
				isHome := o.Name == ev.HomeTeam
				isAway := o.Name == ev.AwayTeam
				switch m.Key {
				case "h2h":
					if isHome {
						rec[model.FieldHomeMoneyline] = o.Price
					} else if isAway {
						rec[model.FieldAwayMoneyline] = o.Price
					}
				case "spreads":
					if o.Point == nil {
						continue
					}
					if isHome {
						rec[model.FieldHomeSpread] = *o.Point
					} else if isAway {
						rec[model.FieldAwaySpread] = *o.Point
					}
				case "totals":
					if o.Point != nil && strings.EqualFold(o.Name, "over") {
						rec[model.FieldTotal] = *o.Point
					}
				}
			}
		}
		out = append(out, rec)
	}
	return out
}

// propRecords flattens player markets into one record per bookmaker,
// market and player, pairing the over and under prices.
func (ev oddsEvent) propRecords() []model.Record {
	type key struct{ book, market, player string }
	index := make(map[key]model.Record)
	var order []key

	for _, b := range ev.Bookmakers {
		for _, m := range b.Markets {
			stat, ok := propMarketStats[m.Key]
			if !ok {
				stat = strings.TrimPrefix(m.Key, "player_")
			}
			updated := m.LastUpdate
			if updated.IsZero() {
				updated = b.LastUpdate
			}
			for _, o := range m.Outcomes {
				k := key{b.Key, m.Key, o.Description}
				rec, seen := index[k]
				if !seen {
					rec = model.Record{
						model.FieldGameID:     ev.ID,
						model.FieldBookmaker:  b.Key,
						model.FieldPlayer:     o.Description,
						model.FieldStat:       stat,
						model.FieldLastUpdate: updated.UTC().Format(time.RFC3339),
					}
					index[k] = rec
					order = append(order, k)
				}
				if o.Point != nil {
					rec[model.FieldLine] = *o.Point
				}
				switch strings.ToLower(o.Name) {
				case "over", "yes":
					rec[model.FieldOverOdds] = o.Price
				case "under", "no":
					rec[model.FieldUnderOdds] = o.Price
				}
			}
		}
	}

	out := make([]model.Record, 0, len(order))
	for _, k := range order {
		out = append(out, index[k])
	}
	return out
}
