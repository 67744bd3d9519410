package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/crimedash/internal/normalize"
)

func TestFormatChange(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		want     string
	}{
		{"increase", 120, 100, "+20 (+20.0%)"},
		{"decrease", 80, 100, "-20 (-20.0%)"},
		{"flat", 100, 100, "0 (0.0%)"},
		{"grouped", 2234, 1000, "+1,234 (+123.4%)"},
		{"fractional percent", 9, 8, "+1 (+12.5%)"},
		{"zero baseline", 5, 0, "n/a"},
		{"nan baseline", 5, math.NaN(), "n/a"},
		{"infinite baseline", 5, math.Inf(1), "n/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatChange(tt.current, tt.previous))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,234,567", FormatNumber(1234567))
}

func TestTopN(t *testing.T) {
	items := []TopItem{
		{"a", 1}, {"b", 9}, {"c", 5}, {"", 100}, {"d", 5},
		{"e", 2}, {"f", 3}, {"g", 4}, {"h", 7}, {"i", 6},
	}
	got := TopN(items, TopLimit)
	require.Len(t, got, TopLimit)
	assert.Equal(t, TopItem{"b", 9}, got[0])
	assert.Equal(t, TopItem{"h", 7}, got[1])
	assert.Equal(t, []TopItem{{"c", 5}, {"d", 5}}, got[3:5])
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Count, got[i].Count)
	}

	short := TopN([]TopItem{{"x", 1}, {"y", 2}}, TopLimit)
	assert.Equal(t, []TopItem{{"y", 2}, {"x", 1}}, short)

	assert.Empty(t, TopN(nil, TopLimit))
}

func TestResolveField(t *testing.T) {
	probe := normalize.Normalize([]byte(`[{"offense_type":"THEFT","block_address":"100 MAIN"}]`))

	got, ok := ResolveField(probe, []string{"crime_type", "offense_type"})
	require.True(t, ok)
	assert.Equal(t, FieldChoice{Name: "offense_type"}, got)

	got, ok = ResolveField(probe, []string{"category", "crime"})
	require.True(t, ok)
	assert.Equal(t, FieldChoice{Name: "category", Suspect: true}, got)

	_, ok = ResolveField(probe, nil)
	assert.False(t, ok)

	got, ok = ResolveField(normalize.Normalize(nil), []string{"x"})
	require.True(t, ok)
	assert.True(t, got.Suspect)
}

func TestParseGroupCounts(t *testing.T) {
	table := normalize.Normalize([]byte(`[
		{"label":"THEFT","count":"12"},
		{"label":"  ","count":"4"},
		{"label":null,"count":"3"},
		{"label":"ASSAULT","count":7}
	]`))
	assert.Equal(t, []TopItem{{"THEFT", 12}, {"ASSAULT", 7}}, ParseGroupCounts(table))
	assert.Equal(t, map[string]int{"A": 3, "B": 1}, CountsByLabel([]TopItem{{"A", 1}, {"B", 1}, {"A", 2}}))
}

func TestBuildSummary(t *testing.T) {
	t.Run("periods then first top", func(t *testing.T) {
		s := &Stats{
			TopCategories: []TopItem{{"THEFT", 1200}},
			TopLocations:  []TopItem{{"STREET", 40}},
			counts:        periodCounts{mtd: 10, priorMTD: 8, last30: 30, prior30: 0, ytd: 0, priorYTD: 0},
		}
		got := BuildSummary(s)
		assert.Equal(t, []string{
			"Month to date: 10 incidents reported, +2 (+25.0%) vs the same point last month.",
			"Last 30 days: 30 incidents reported.",
			"Most common category in the last 30 days: THEFT (1,200).",
		}, got)
	})

	t.Run("only one top sentence when periods are empty", func(t *testing.T) {
		s := &Stats{
			TopCategories: []TopItem{{"A", 1}},
			TopLocations:  []TopItem{{"B", 1}},
			TopDistricts:  []TopItem{{"C", 1}},
			TopAddresses:  []TopItem{{"D", 1}},
			counts:        periodCounts{last30: 5, prior30: 5},
		}
		got := BuildSummary(s)
		require.Len(t, got, 2)
		assert.Contains(t, got[0], "Last 30 days")
		assert.Equal(t, "Most common category in the last 30 days: A (1).", got[1])
	})

	t.Run("district before address", func(t *testing.T) {
		s := &Stats{
			TopAddresses: []TopItem{{"1 MAIN ST", 3}},
			TopDistricts: []TopItem{{"Central", 90}},
		}
		assert.Equal(t, []string{"Busiest district in the last 30 days: Central (90)."}, BuildSummary(s))

		s.TopDistricts = nil
		assert.Equal(t, []string{"Most reported address: 1 MAIN ST (3)."}, BuildSummary(s))
	})

	t.Run("never more than four", func(t *testing.T) {
		s := &Stats{
			TopCategories: []TopItem{{"A", 1}},
			TopLocations:  []TopItem{{"B", 1}},
			counts:        periodCounts{mtd: 1, priorMTD: 1, last30: 1, prior30: 1, ytd: 1, priorYTD: 1},
		}
		got := BuildSummary(s)
		require.Len(t, got, MaxSummarySentences)
		assert.Contains(t, got[2], "Year to date")
		assert.Contains(t, got[3], "Most common category")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, BuildSummary(&Stats{}))
	})
}
