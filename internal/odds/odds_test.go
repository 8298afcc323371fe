package odds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/model"
)

func TestImpliedProbability(t *testing.T) {
	tests := []struct {
		american float64
		want     string
	}{
		{-110, "0.5238"},
		{+150, "0.4"},
		{-200, "0.6667"},
		{+100, "0.5"},
		{-100, "0.5"},
	}
	for _, tt := range tests {
		p, err := ImpliedProbability(tt.american)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Round(4).String(), "price %v", tt.american)
	}

	_, err := ImpliedProbability(50)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestToDecimal(t *testing.T) {
	d, err := ToDecimal(+150)
	require.NoError(t, err)
	assert.Equal(t, "2.5", d.String())

	d, err = ToDecimal(-200)
	require.NoError(t, err)
	assert.Equal(t, "1.5", d.String())

	_, err = ToDecimal(0)
	assert.Error(t, err)
}

func TestOverround(t *testing.T) {
	o, err := Overround(-110, -110)
	require.NoError(t, err)
	assert.Equal(t, "0.0476", o.Round(4).String())

	_, err = Overround(-110, 10)
	assert.Error(t, err)
}

func TestBestLines(t *testing.T) {
	records := []model.Record{
		{"game_id": "g2", "home_team": "BUF", "away_team": "MIA", "bookmaker": "dk", "home_moneyline": -250.0, "away_moneyline": 210.0},
		{"game_id": "g1", "home_team": "KC", "away_team": "LV", "bookmaker": "dk", "home_moneyline": -450.0, "away_moneyline": 350.0},
		{"game_id": "g1", "home_team": "KC", "away_team": "LV", "bookmaker": "fd", "home_moneyline": -420.0, "away_moneyline": 330.0},
		{"game_id": "g1", "home_team": "KC", "away_team": "LV", "bookmaker": "bad", "home_moneyline": 20.0},
		{"game_id": "g3", "bookmaker": "dk"},
	}
	lines := BestLines(records)
	require.Len(t, lines, 2)

	g1 := lines[0]
	assert.Equal(t, "g1", g1.GameID)
	assert.Equal(t, -420.0, g1.HomeMoneyline)
	assert.Equal(t, "fd", g1.HomeBook)
	assert.Equal(t, 350.0, g1.AwayMoneyline)
	assert.Equal(t, "dk", g1.AwayBook)

	assert.Equal(t, "g2", lines[1].GameID)
	assert.Equal(t, "MIA", lines[1].AwayTeam)
}
