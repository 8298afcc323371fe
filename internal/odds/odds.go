// Package odds converts American prices and picks the best line across
// bookmakers.
package odds

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/sportsfeed/internal/model"
)

// ErrInvalidPrice is returned for American prices strictly between -100 and +100.
var ErrInvalidPrice = eris.New("odds: invalid american price")

var hundred = decimal.NewFromInt(100)

func price(american float64) (decimal.Decimal, error) {
	if american > -100 && american < 100 {
		return decimal.Zero, eris.Wrapf(ErrInvalidPrice, "odds: %v", american)
	}
	return decimal.NewFromFloat(american), nil
}

// ImpliedProbability is the break-even win probability of an American price.
func ImpliedProbability(american float64) (decimal.Decimal, error) {
	p, err := price(american)
	if err != nil {
		return decimal.Zero, err
	}
	if p.IsPositive() {
		return hundred.Div(p.Add(hundred)), nil
	}
	neg := p.Neg()
	return neg.Div(neg.Add(hundred)), nil
}

// ToDecimal converts an American price to decimal odds (total return per unit).
func ToDecimal(american float64) (decimal.Decimal, error) {
	p, err := price(american)
	if err != nil {
		return decimal.Zero, err
	}
	if p.IsPositive() {
		return decimal.NewFromInt(1).Add(p.Div(hundred)), nil
	}
	return decimal.NewFromInt(1).Add(hundred.Div(p.Neg())), nil
}

// Overround is the bookmaker margin of a two-way market: the implied
// probabilities' sum minus one.
func Overround(a, b float64) (decimal.Decimal, error) {
	pa, err := ImpliedProbability(a)
	if err != nil {
		return decimal.Zero, err
	}
	pb, err := ImpliedProbability(b)
	if err != nil {
		return decimal.Zero, err
	}
	return pa.Add(pb).Sub(decimal.NewFromInt(1)), nil
}

// BestLine is the highest moneyline offered for each side of a game.
type BestLine struct {
	GameID        string  `json:"game_id"`
	HomeTeam      string  `json:"home_team"`
	AwayTeam      string  `json:"away_team"`
	HomeMoneyline float64 `json:"home_moneyline"`
	HomeBook      string  `json:"home_book"`
	AwayMoneyline float64 `json:"away_moneyline"`
	AwayBook      string  `json:"away_book"`
}

// BestLines scans odds records and keeps, per game and side, the price
// that pays the most. Prices that are not valid American odds are ignored.
// Results are sorted by game ID.
func BestLines(records []model.Record) []BestLine {
	byGame := make(map[string]*BestLine)
	homeSet := make(map[string]bool)
	awaySet := make(map[string]bool)

	for _, rec := range records {
		id := rec.String(model.FieldGameID)
		if id == "" {
			continue
		}
		bl, ok := byGame[id]
		if !ok {
			bl = &BestLine{
				GameID:   id,
				HomeTeam: rec.String(model.FieldHomeTeam),
				AwayTeam: rec.String(model.FieldAwayTeam),
			}
			byGame[id] = bl
		}
		book := rec.String(model.FieldBookmaker)
		if v, ok := rec.Float(model.FieldHomeMoneyline); ok && validPrice(v) {
			if !homeSet[id] || v > bl.HomeMoneyline {
				bl.HomeMoneyline, bl.HomeBook, homeSet[id] = v, book, true
			}
		}
		if v, ok := rec.Float(model.FieldAwayMoneyline); ok && validPrice(v) {
			if !awaySet[id] || v > bl.AwayMoneyline {
				bl.AwayMoneyline, bl.AwayBook, awaySet[id] = v, book, true
			}
		}
	}

	out := make([]BestLine, 0, len(byGame))
	for id, bl := range byGame {
		if homeSet[id] || awaySet[id] {
			out = append(out, *bl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

func validPrice(v float64) bool {
	return v <= -100 || v >= 100
}
