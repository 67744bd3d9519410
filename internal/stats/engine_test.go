package stats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/normalize"
	"github.com/lox/crimedash/internal/soql"
)

type call struct {
	kind string
	soql string
}

type fakeQuerier struct {
	mu      sync.Mutex
	calls   []call
	respond func(kind, q string) (string, error)
}

func (f *fakeQuerier) Query(ctx context.Context, ds datasets.Dataset, kind, q string) (*normalize.Table, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{kind, q})
	f.mu.Unlock()

	body, err := f.respond(kind, q)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize([]byte(body)), nil
}

func (f *fakeQuerier) kinds() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, c := range f.calls {
		out[c.kind]++
	}
	return out
}

type fakeBoundaries struct {
	fc  *geojson.FeatureCollection
	err error
}

func (f fakeBoundaries) Get(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	return f.fc, f.err
}

func testDataset(g datasets.Geo) datasets.Dataset {
	return datasets.Dataset{
		ID:             "testville",
		Label:          "Testville",
		Endpoint:       "https://data.example.com/resource/abcd-1234.json",
		DateField:      "occ_date",
		CompareStart:   "2024-01-01",
		CompareEnd:     "2026-01-01",
		CategoryFields: []string{"crime_type"},
		LocationFields: []string{"location_type"},
		AddressFields:  []string{"address"},
		Geo:            g,
	}
}

// standardResponses answers a load anchored on 2025-03-15
func standardResponses(t *testing.T, ds datasets.Dataset) func(kind, q string) (string, error) {
	t.Helper()
	w := BuildWindows(day("2025-03-15"))
	expr := ds.DateExpr()
	counts := map[string]string{
		soql.CountQuery(expr, w.Last7.Start, w.Last7.End):       "7",
		soql.CountQuery(expr, w.Last30.Start, w.Last30.End):     "30",
		soql.CountQuery(expr, w.Prior30.Start, w.Prior30.End):   "24",
		soql.CountQuery(expr, w.MTD.Start, w.MTD.End):           "10",
		soql.CountQuery(expr, w.PriorMTD.Start, w.PriorMTD.End): "8",
		soql.CountQuery(expr, w.YTD.Start, w.YTD.End):           "100",
		soql.CountQuery(expr, w.PriorYTD.Start, w.PriorYTD.End): "0",
		soql.CountQuery(expr, time.Time{}, time.Time{}):         "5000",
	}

	return func(kind, q string) (string, error) {
		switch kind {
		case models.KindProbe:
			return `[{"crime_type":"THEFT","address":"1 MAIN ST","latitude":"30.2","longitude":"-97.7"}]`, nil
		case models.KindRange:
			return `[{"min_date":"2020-01-01T00:00:00.000","max_date":"2025-03-15T10:00:00.000"}]`, nil
		case models.KindCount:
			n, ok := counts[q]
			if !ok {
				t.Errorf("unexpected count query: %s", q)
				return `[]`, nil
			}
			return `[{"count":"` + n + `"}]`, nil
		case models.KindDaily:
			return `[{"day":"2025-03-10T00:00:00.000","count":"3"},{"day":"2025-03-15T00:00:00.000","count":"2"}]`, nil
		case models.KindGroup:
			switch {
			case strings.Contains(q, "select crime_type as label"):
				return `[{"label":"THEFT","count":"12"},{"label":"ASSAULT","count":"5"}]`, nil
			case strings.Contains(q, "select address as label"):
				return `[{"label":"1 MAIN ST","count":"3"}]`, nil
			case strings.Contains(q, "select area_name as label"):
				return `[{"label":"Central","count":"20"},{"label":"Hollywood ","count":"5"}]`, nil
			}
			return `[]`, nil
		case models.KindPoints:
			return `[{"latitude":"30.2","longitude":"-97.7"},{"latitude":null,"longitude":null}]`, nil
		}
		t.Errorf("unexpected query kind %s", kind)
		return `[]`, nil
	}
}

func newTestEngine(q Querier, b Boundaries) *Engine {
	e := NewEngine(q, b, nil)
	e.SetClock(func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) })
	return e
}

func TestEngineLoadPoints(t *testing.T) {
	ds := testDataset(datasets.PointGeo{LatField: "latitude", LonField: "longitude"})
	q := &fakeQuerier{respond: standardResponses(t, ds)}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.NotEmpty(t, s.LoadID)
	assert.Equal(t, "2025-03-15", s.LatestDay)
	assert.Equal(t, "2020-01-01", s.FirstDay)
	assert.Equal(t, 5, s.FreshnessDays)

	require.Len(t, s.KPIs, 5)
	last7, _ := s.KPI("last7")
	assert.Equal(t, 7, last7.Count)
	assert.Equal(t, "Mar 9 - Mar 15, 2025", last7.Meta)

	mtd, _ := s.KPI("mtd")
	assert.Equal(t, "10", mtd.Value)
	assert.Equal(t, "vs same point last month: +2 (+25.0%)", mtd.Meta)

	last30, _ := s.KPI("last30")
	assert.Equal(t, "vs prior 30 days: +6 (+25.0%)", last30.Meta)

	ytd, _ := s.KPI("ytd")
	assert.Equal(t, "vs same point last year: n/a", ytd.Meta)

	all, _ := s.KPI("all")
	assert.Equal(t, "5,000", all.Value)
	assert.Equal(t, "Since Jan 1, 2020", all.Meta)

	require.Len(t, s.Trend, TrendWeeks)
	assert.Equal(t, "2025-03-10", s.Trend[TrendWeeks-1].WeekStart)
	assert.Equal(t, 5, s.Trend[TrendWeeks-1].Count)

	assert.Equal(t, []TopItem{{"THEFT", 12}, {"ASSAULT", 5}}, s.TopCategories)
	assert.NotNil(t, s.TopLocations)
	assert.Empty(t, s.TopLocations)
	assert.Equal(t, []TopItem{{"1 MAIN ST", 3}}, s.TopAddresses)

	require.NotNil(t, s.Fields.Location)
	assert.True(t, s.Fields.Location.Suspect)
	assert.False(t, s.Fields.Category.Suspect)

	assert.Equal(t, "points", s.Map.Kind)
	require.Len(t, s.Map.Points, 1)
	assert.InDelta(t, 30.2, s.Map.Points[0].Lat, 1e-9)
	assert.Equal(t, 1, s.Map.Dropped)

	require.NotEmpty(t, s.Summary)
	assert.LessOrEqual(t, len(s.Summary), MaxSummarySentences)
	assert.Equal(t, "Month to date: 10 incidents reported, +2 (+25.0%) vs the same point last month.", s.Summary[0])

	kinds := q.kinds()
	assert.Equal(t, 8, kinds[models.KindCount])
	assert.Equal(t, 3, kinds[models.KindGroup])
	assert.Equal(t, 1, kinds[models.KindPoints])
}

func TestEngineLoadPositionalPoints(t *testing.T) {
	ds := testDataset(datasets.PointGeo{LatField: "latitude", LonField: "longitude"})
	standard := standardResponses(t, ds)
	q := &fakeQuerier{respond: func(kind, query string) (string, error) {
		if kind == models.KindPoints {
			return `{"data":{"columns":[{"fieldName":"latitude"},{"fieldName":"longitude"}],"rows":[["30.27","-97.74"],["31.5","-96.1"],[null,null]]}}`, nil
		}
		return standard(kind, query)
	}}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, s.Map.Points, 2)
	assert.InDelta(t, 30.27, s.Map.Points[0].Lat, 1e-9)
	assert.InDelta(t, -97.74, s.Map.Points[0].Lon, 1e-9)
	assert.Equal(t, 1, s.Map.Dropped)
}

func TestEngineLoadNoGeo(t *testing.T) {
	ds := testDataset(datasets.NoGeo{})
	q := &fakeQuerier{respond: standardResponses(t, ds)}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, "none", s.Map.Kind)
	assert.Equal(t, "Testville does not include location coordinates/boundaries.", s.Map.Message)
	assert.Zero(t, q.kinds()[models.KindPoints])
}

func TestEngineLoadChoropleth(t *testing.T) {
	cfg := datasets.ChoroplethGeo{
		URL:   "https://boundaries.example.com/divisions.geojson",
		Key:   "APREC",
		Label: "APREC",
		Field: "area_name",
	}
	ds := testDataset(cfg)
	q := &fakeQuerier{respond: standardResponses(t, ds)}

	fc := geojson.NewFeatureCollection()
	for i, name := range []string{"Central", "Hollywood", "Harbor"} {
		x := float64(i)
		f := geojson.NewFeature(orb.Polygon{{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}})
		f.Properties["APREC"] = name
		fc.Append(f)
	}

	s, err := newTestEngine(q, fakeBoundaries{fc: fc}).Load(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, "choropleth", s.Map.Kind)
	require.NotNil(t, s.Map.Choropleth)
	assert.Equal(t, 20, s.Map.Choropleth.MaxCount)
	require.Len(t, s.Map.Choropleth.Regions, 3)
	assert.Equal(t, 5, s.Map.Choropleth.Regions[1].Count)
	assert.Equal(t, 0, s.Map.Choropleth.Regions[2].Count)
	assert.Equal(t, TopItem{"Central", 20}, s.TopDistricts[0])
}

func TestEngineLoadChoroplethBoundaryFailure(t *testing.T) {
	cfg := datasets.ChoroplethGeo{URL: "https://boundaries.example.com/x.geojson", Key: "id", Field: "area_name"}
	ds := testDataset(cfg)
	q := &fakeQuerier{respond: standardResponses(t, ds)}

	s, err := newTestEngine(q, fakeBoundaries{err: errors.New("boundary host down")}).Load(context.Background(), ds)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "boundary host down")
}

func TestEngineLoadIsAllOrNothing(t *testing.T) {
	ds := testDataset(datasets.PointGeo{LatField: "latitude", LonField: "longitude"})
	w := BuildWindows(day("2025-03-15"))
	failing := soql.CountQuery(ds.DateExpr(), w.YTD.Start, w.YTD.End)
	boom := errors.New("unexpected status: 500")

	ok := standardResponses(t, ds)
	q := &fakeQuerier{respond: func(kind, q string) (string, error) {
		if q == failing {
			return "", boom
		}
		return ok(kind, q)
	}}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, boom)
}

func TestEngineLoadSetupFailure(t *testing.T) {
	ds := testDataset(datasets.NoGeo{})
	boom := errors.New("probe failed")
	q := &fakeQuerier{respond: func(kind, q string) (string, error) {
		if kind == models.KindProbe {
			return "", boom
		}
		return `[]`, nil
	}}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, q.kinds()[models.KindCount])
}

func TestEngineLoadWithoutDates(t *testing.T) {
	ds := testDataset(datasets.NoGeo{})
	q := &fakeQuerier{respond: func(kind, q string) (string, error) {
		if kind == models.KindCount {
			return `[{"count":"0"}]`, nil
		}
		return `[]`, nil
	}}

	s, err := newTestEngine(q, nil).Load(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-20", s.LatestDay)
	assert.Zero(t, s.FreshnessDays)
	all, _ := s.KPI("all")
	assert.Equal(t, "All records", all.Meta)
	assert.Empty(t, s.Summary)
}

func TestEngineRequiresDateField(t *testing.T) {
	ds := testDataset(datasets.NoGeo{})
	ds.DateField = ""
	e := newTestEngine(&fakeQuerier{}, nil)

	_, err := e.Load(context.Background(), ds)
	assert.ErrorIs(t, err, ErrNoDateField)
	_, err = e.Monthly(context.Background(), ds)
	assert.ErrorIs(t, err, ErrNoDateField)
}

func TestEngineMonthly(t *testing.T) {
	ds := testDataset(datasets.NoGeo{})
	q := &fakeQuerier{respond: func(kind, q string) (string, error) {
		require.Equal(t, models.KindMonthly, kind)
		assert.Equal(t, soql.MonthlyQuery(ds), q)
		return `[{"month_start":"2024-01-01T00:00:00.000","count":"4"},{"month_start":"2025-01-01T00:00:00.000","count":"6"}]`, nil
	}}

	m, err := newTestEngine(q, nil).Monthly(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 2024, m.BaseYear)
	assert.Equal(t, 2025, m.CompareYear)
	assert.Equal(t, 2, m.Rows[0].Change)
	assert.Equal(t, 2, m.Totals.Change)
}
