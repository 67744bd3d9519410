package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/normalize"
	"github.com/lox/crimedash/internal/socrata"
	"github.com/lox/crimedash/internal/stats"
)

type fakeQuerier struct {
	calls   []string
	payload string
	err     error
}

func (f *fakeQuerier) Query(ctx context.Context, ds datasets.Dataset, kind, soql string) (*normalize.Table, error) {
	f.calls = append(f.calls, soql)
	if f.err != nil {
		return nil, f.err
	}
	return normalize.Normalize([]byte(f.payload)), nil
}

type fakeEngine struct {
	monthly *stats.MonthlyComparison
	stats   *stats.Stats
	err     error
}

func (f *fakeEngine) Monthly(ctx context.Context, ds datasets.Dataset) (*stats.MonthlyComparison, error) {
	return f.monthly, f.err
}

func (f *fakeEngine) Load(ctx context.Context, ds datasets.Dataset) (*stats.Stats, error) {
	return f.stats, f.err
}

func newTestDashboard(t *testing.T, q stats.Querier, e Engine) *Dashboard {
	t.Helper()
	reg, err := datasets.Default()
	require.NoError(t, err)
	return New(reg, q, e, nil)
}

const crimeRows = `[
	{"crime_type":"THEFT","address":"100 Main St","note":null},
	{"crime_type":"Burglary","address":"200 Oak Ave","note":{"a":1}},
	{"crime_type":"theft of bicycle","address":"300 Pine Rd","note":"x"}
]`

func TestRowsFilterAndSnapshot(t *testing.T) {
	q := &fakeQuerier{payload: crimeRows}
	d := newTestDashboard(t, q, &fakeEngine{})
	ctx := context.Background()

	view, err := d.Rows(ctx, "austin", RowOptions{Limit: 200})
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, view.Status)
	assert.Equal(t, "Showing 3 of 3 rows, 3 columns.", view.Summary)
	require.Len(t, view.Rows, 3)
	assert.Equal(t, "", view.Rows[0][2].Text)
	assert.Equal(t, `{"a":1}`, view.Rows[1][2].Text)
	require.Len(t, q.calls, 1)
	assert.Equal(t, "select * limit 200", q.calls[0])

	view, err = d.Rows(ctx, "austin", RowOptions{Limit: 200, Search: "  THEFT "})
	require.NoError(t, err)
	assert.Equal(t, "Showing 2 of 2 rows, 3 columns.", view.Summary)
	assert.Len(t, q.calls, 1, "search reuses the snapshot")

	view, err = d.Rows(ctx, "austin", RowOptions{Limit: 1, Search: "theft"})
	require.NoError(t, err)
	assert.Equal(t, "Showing 1 of 2 rows, 3 columns.", view.Summary)
	assert.Len(t, q.calls, 2, "a new limit refetches")
	assert.Equal(t, "select * limit 1", q.calls[1])

	_, err = d.Rows(ctx, "austin", RowOptions{Limit: 1, Refresh: true})
	require.NoError(t, err)
	assert.Len(t, q.calls, 3)

	view, err = d.Rows(ctx, "austin", RowOptions{Limit: 1, Search: "no such thing"})
	require.NoError(t, err)
	assert.Equal(t, "Showing 0 of 0 rows, 3 columns.", view.Summary)
	assert.Equal(t, EmptyTable, view.Empty)
	assert.Empty(t, view.Rows)
}

func TestRowsNoRows(t *testing.T) {
	d := newTestDashboard(t, &fakeQuerier{payload: `[]`}, &fakeEngine{})

	view, err := d.Rows(context.Background(), "austin", RowOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoRows, view.Status)
	assert.Equal(t, EmptyTable, view.Empty)
}

func TestRowsFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"forbidden", &socrata.StatusError{StatusCode: 403}, StatusCredential},
		{"throttled", &socrata.StatusError{StatusCode: 429}, StatusCredential},
		{"server error", &socrata.StatusError{StatusCode: 500}, StatusFailed},
		{"transport", errors.New("dial tcp: connection refused"), StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{payload: crimeRows}
			d := newTestDashboard(t, q, &fakeEngine{})

			_, err := d.Rows(context.Background(), "austin", RowOptions{Limit: 10})
			require.NoError(t, err)

			q.err = fmt.Errorf("query rows: %w", tt.err)
			view, err := d.Rows(context.Background(), "austin", RowOptions{Limit: 10, Refresh: true})
			require.Error(t, err)
			assert.Equal(t, tt.status, view.Status)
			assert.True(t, view.Error)
			assert.Empty(t, view.Rows, "failed loads do not show the old snapshot")

			q.err = nil
			q.payload = `[]`
			view, err = d.Rows(context.Background(), "austin", RowOptions{Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, StatusNoRows, view.Status, "snapshot was dropped after the failure")
		})
	}
}

func TestRowsUnknownDataset(t *testing.T) {
	d := newTestDashboard(t, &fakeQuerier{}, &fakeEngine{})
	_, err := d.Rows(context.Background(), "atlantis", RowOptions{})
	assert.ErrorIs(t, err, datasets.ErrUnknownDataset)
}

func TestRenderRowTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	table := normalize.Normalize([]byte(`[{"desc":"` + long + `","n":12.5}]`))

	cells := RenderRow(table.Columns, table.Rows[0])
	require.Len(t, cells, 2)
	assert.Len(t, cells[0].Text, normalize.MaxCellLength)
	assert.True(t, strings.HasSuffix(cells[0].Text, "..."))
	assert.Equal(t, long, cells[0].Title)
	assert.Equal(t, Cell{Text: "12.5"}, cells[1])
}

func TestMonthly(t *testing.T) {
	m := stats.BuildMonthlyComparison(normalize.Normalize([]byte(`[["2024-01",4],["2025-01",6]]`)).Rows, 2024, 2025)
	d := newTestDashboard(t, &fakeQuerier{}, &fakeEngine{monthly: m})

	view, err := d.Monthly(context.Background(), "austin")
	require.NoError(t, err)
	assert.Equal(t, StatusMonthlyLoaded, view.Status)
	assert.Equal(t, "2024 total: 4 | 2025 total: 6 | Change: 2", view.StatsLine)
	assert.Len(t, view.Chart, 12)
	assert.Empty(t, view.ChartMessage)

	empty := stats.BuildMonthlyComparison(nil, 2024, 2025)
	d = newTestDashboard(t, &fakeQuerier{}, &fakeEngine{monthly: empty})
	view, err = d.Monthly(context.Background(), "austin")
	require.NoError(t, err)
	assert.Equal(t, stats.NoChartData, view.ChartMessage)
	assert.Empty(t, view.Chart)
}

func TestMonthlyFailure(t *testing.T) {
	d := newTestDashboard(t, &fakeQuerier{}, &fakeEngine{err: &socrata.StatusError{StatusCode: 401}})

	view, err := d.Monthly(context.Background(), "austin")
	require.Error(t, err)
	assert.Equal(t, StatusCredential, view.Status)
	assert.Nil(t, view.Comparison)
	assert.Empty(t, view.Chart)
}

func TestStats(t *testing.T) {
	loaded := &stats.Stats{Dataset: "austin", LatestDay: "2025-03-15"}
	d := newTestDashboard(t, &fakeQuerier{}, &fakeEngine{stats: loaded})

	view, err := d.Stats(context.Background(), "austin")
	require.NoError(t, err)
	assert.Equal(t, StatusStatsLoaded, view.Status)
	assert.Same(t, loaded, view.Stats)
}

func TestStatsFailureResetsPanels(t *testing.T) {
	d := newTestDashboard(t, &fakeQuerier{}, &fakeEngine{err: errors.New("load stats: query count: boom")})

	view, err := d.Stats(context.Background(), "cambridge")
	require.Error(t, err)
	assert.True(t, view.Error)
	assert.Equal(t, StatusFailed, view.Status)

	s := view.Stats
	require.NotNil(t, s)
	assert.Empty(t, s.KPIs)
	assert.NotNil(t, s.KPIs)
	assert.Empty(t, s.Trend)
	assert.Empty(t, s.TopCategories)
	assert.Empty(t, s.Summary)
	assert.Equal(t, "none", s.Map.Kind)
	assert.Contains(t, s.Map.Message, "does not include location coordinates/boundaries.")
}
