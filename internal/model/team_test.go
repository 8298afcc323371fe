package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTeamsTable(t *testing.T) {
	assert.Len(t, Teams, 32)
	seen := map[string]bool{}
	for _, team := range Teams {
		assert.False(t, seen[team.Code], "duplicate code %s", team.Code)
		seen[team.Code] = true
		assert.Regexp(t, `^[A-Z]{2,3}$`, team.Code)
	}
}

func TestStandardizeTeam(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"KC", "KC", true},
		{"kc", "KC", true},
		{"Kansas City Chiefs", "KC", true},
		{"  kansas   city chiefs ", "KC", true},
		{"Chiefs", "KC", true},
		{"Kansas City", "KC", true},
		{"WSH", "WAS", true},
		{"Washington Football Team", "WAS", true},
		{"San Francisco 49ers", "SF", true},
		{"St. Louis Rams", "LAR", true},
		{"New York", "", false},
		{"Los Angeles", "", false},
		{"New York Jets", "NYJ", true},
		{"Springfield Atoms", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := StandardizeTeam(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStandardizeOrKeep(t *testing.T) {
	assert.Equal(t, "BUF", StandardizeOrKeep("Buffalo Bills"))
	assert.Equal(t, "Springfield Atoms", StandardizeOrKeep(" Springfield Atoms "))
}

func TestKnownTeam(t *testing.T) {
	assert.True(t, KnownTeam("GB"))
	assert.False(t, KnownTeam("XYZ"))

	team, ok := TeamByCode("GB")
	assert.True(t, ok)
	assert.Equal(t, "Green Bay Packers", team.Name())
}
