// Package stats derives the dashboard aggregates for a dataset: the monthly
// year-over-year comparison and the rolling statistics view.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/geo"
	"github.com/lox/crimedash/internal/metrics"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/normalize"
	"github.com/lox/crimedash/internal/soql"
	"github.com/lox/crimedash/internal/socrata"
)

const (
	// MapPointLimit caps the rows fetched for a point map
	MapPointLimit = 1000
	// DistrictLimit caps the grouped counts fetched for a choropleth
	DistrictLimit = 500
)

// ErrNoDateField is returned for datasets without a date field
var ErrNoDateField = errors.New("dataset has no date field")

// Querier runs a SoQL query for a dataset
type Querier interface {
	Query(ctx context.Context, ds datasets.Dataset, kind, soql string) (*normalize.Table, error)
}

// Boundaries returns boundary collections by URL
type Boundaries interface {
	Get(ctx context.Context, url string) (*geojson.FeatureCollection, error)
}

// KPI is one headline figure
type KPI struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
	Value string `json:"value"`
	Meta  string `json:"meta"`
}

// MapModel is the map panel: hidden, points, or shaded boundaries
type MapModel struct {
	Kind       string          `json:"kind"`
	Message    string          `json:"message,omitempty"`
	Points     []geo.Point     `json:"points,omitempty"`
	Dropped    int             `json:"dropped,omitempty"`
	Choropleth *geo.Choropleth `json:"choropleth,omitempty"`
}

// Fields records which live field each grouping used
type Fields struct {
	Category *FieldChoice `json:"category,omitempty"`
	Location *FieldChoice `json:"location,omitempty"`
	Address  *FieldChoice `json:"address,omitempty"`
}

type periodCounts struct {
	last7, last30, prior30 int
	mtd, priorMTD          int
	ytd, priorYTD          int
	allTime                int
}

// Stats is the full stats view for one dataset
type Stats struct {
	Dataset       string       `json:"dataset"`
	LoadID        string       `json:"loadId"`
	GeneratedAt   time.Time    `json:"generatedAt"`
	FirstDay      string       `json:"firstDay,omitempty"`
	LatestDay     string       `json:"latestDay"`
	FreshnessDays int          `json:"freshnessDays"`
	KPIs          []KPI        `json:"kpis"`
	Trend         []TrendPoint `json:"trend"`
	TopCategories []TopItem    `json:"topCategories"`
	TopLocations  []TopItem    `json:"topLocations"`
	TopAddresses  []TopItem    `json:"topAddresses"`
	TopDistricts  []TopItem    `json:"topDistricts,omitempty"`
	Fields        Fields       `json:"fields"`
	Summary       []string     `json:"summary"`
	Map           MapModel     `json:"map"`

	counts periodCounts
}

// KPI returns the headline figure with the given key
func (s *Stats) KPI(key string) (KPI, bool) {
	for _, k := range s.KPIs {
		if k.Key == key {
			return k, true
		}
	}
	return KPI{}, false
}

// Engine runs stats loads
type Engine struct {
	q          Querier
	boundaries Boundaries
	now        func() time.Time
	loc        *time.Location
	log        *zap.Logger
}

// NewEngine creates an engine. boundaries may be nil when no dataset uses a
// choropleth.
func NewEngine(q Querier, boundaries Boundaries, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		q:          q,
		boundaries: boundaries,
		now:        time.Now,
		loc:        time.UTC,
		log:        log,
	}
}

// SetClock overrides the current time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetLocation sets the zone used to decide what "today" is
func (e *Engine) SetLocation(loc *time.Location) {
	if loc != nil {
		e.loc = loc
	}
}

// Today is the current calendar day in the engine's zone
func (e *Engine) Today() time.Time {
	return civil(e.now().In(e.loc))
}

// Monthly loads the year-over-year monthly comparison
func (e *Engine) Monthly(ctx context.Context, ds datasets.Dataset) (*MonthlyComparison, error) {
	if ds.DateField == "" {
		return nil, ErrNoDateField
	}
	table, err := e.q.Query(ctx, ds, models.KindMonthly, soql.MonthlyQuery(ds))
	if err != nil {
		return nil, fmt.Errorf("load monthly: %w", err)
	}
	base, compare := ds.CompareYears()
	return BuildMonthlyComparison(table.Rows, base, compare), nil
}

// Load runs every stats query for ds. Any failing sub-query fails the whole
// load and no partial result is returned.
func (e *Engine) Load(ctx context.Context, ds datasets.Dataset) (*Stats, error) {
	if ds.DateField == "" {
		return nil, ErrNoDateField
	}
	loadID := uuid.NewString()
	ctx = socrata.WithLoadID(ctx, loadID)
	started := time.Now()
	log := e.log.With(zap.String("dataset", ds.ID), zap.String("load_id", loadID))

	s, err := e.load(ctx, ds, log)
	if err != nil {
		metrics.StatsLoadsTotal.WithLabelValues(ds.ID, "error").Inc()
		log.Warn("stats: load failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		return nil, fmt.Errorf("load stats: %w", err)
	}
	s.LoadID = loadID
	metrics.StatsLoadsTotal.WithLabelValues(ds.ID, "ok").Inc()
	log.Info("stats: loaded",
		zap.String("latest", s.LatestDay),
		zap.Int("freshness_days", s.FreshnessDays),
		zap.Duration("took", time.Since(started)))
	return s, nil
}

func (e *Engine) load(ctx context.Context, ds datasets.Dataset, log *zap.Logger) (*Stats, error) {
	dateExpr := ds.DateExpr()
	today := e.Today()

	var probe, bounds *normalize.Table
	setup, sctx := errgroup.WithContext(ctx)
	setup.Go(func() error {
		t, err := e.q.Query(sctx, ds, models.KindProbe, soql.ProbeQuery())
		probe = t
		return err
	})
	setup.Go(func() error {
		t, err := e.q.Query(sctx, ds, models.KindRange, soql.MinMaxQuery(dateExpr))
		bounds = t
		return err
	})
	if err := setup.Wait(); err != nil {
		return nil, err
	}

	s := &Stats{
		Dataset:     ds.ID,
		GeneratedAt: e.now().UTC(),
	}

	latest := today
	var firstDay time.Time
	if !bounds.Empty() {
		row := bounds.Rows[0]
		if d, ok := ParseDay(bounds.Lookup(row, "max_date").String()); ok {
			latest = d
		}
		if d, ok := ParseDay(bounds.Lookup(row, "min_date").String()); ok {
			firstDay = d
		}
	}
	w := BuildWindows(latest)
	s.LatestDay = w.Latest.Format(soql.DateLayout)
	if !firstDay.IsZero() {
		s.FirstDay = firstDay.Format(soql.DateLayout)
	}
	if fresh := daysBetween(w.Latest, today); fresh > 0 {
		s.FreshnessDays = fresh
	}

	var categoryField, locationField, addressField *FieldChoice
	for _, pick := range []struct {
		candidates []string
		dst        **FieldChoice
	}{
		{ds.CategoryFields, &categoryField},
		{ds.LocationFields, &locationField},
		{ds.AddressFields, &addressField},
	} {
		if fc, ok := ResolveField(probe, pick.candidates); ok {
			choice := fc
			*pick.dst = &choice
			if fc.Suspect {
				log.Warn("stats: no candidate field in live schema, using first candidate",
					zap.Strings("candidates", pick.candidates),
					zap.String("field", fc.Name))
			}
		}
	}
	s.Fields = Fields{Category: categoryField, Location: locationField, Address: addressField}

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int, win Window) {
		g.Go(func() error {
			t, err := e.q.Query(gctx, ds, models.KindCount, soql.CountQuery(dateExpr, win.Start, win.End))
			if err != nil {
				return err
			}
			*dst = firstCount(t)
			return nil
		})
	}
	c := &s.counts
	count(&c.last7, w.Last7)
	count(&c.last30, w.Last30)
	count(&c.prior30, w.Prior30)
	count(&c.mtd, w.MTD)
	count(&c.priorMTD, w.PriorMTD)
	count(&c.ytd, w.YTD)
	count(&c.priorYTD, w.PriorYTD)
	count(&c.allTime, Window{})

	var daily []DailyCount
	g.Go(func() error {
		t, err := e.q.Query(gctx, ds, models.KindDaily, soql.DailyCountQuery(dateExpr, w.Trend.Start, w.Trend.End))
		if err != nil {
			return err
		}
		daily = ParseDailyCounts(t)
		return nil
	})

	group := func(dst *[]TopItem, field *FieldChoice) {
		if field == nil {
			return
		}
		g.Go(func() error {
			t, err := e.q.Query(gctx, ds, models.KindGroup,
				soql.GroupCountQuery(dateExpr, w.Last30.Start, w.Last30.End, field.Name, TopLimit))
			if err != nil {
				return err
			}
			*dst = TopN(ParseGroupCounts(t), TopLimit)
			return nil
		})
	}
	group(&s.TopCategories, categoryField)
	group(&s.TopLocations, locationField)
	group(&s.TopAddresses, addressField)

	e.loadMap(gctx, g, ds, w, s)

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.KPIs = buildKPIs(w, firstDay, s.counts)
	s.Trend = BuildWeeklyTrend(daily, w.End, TrendWeeks)
	if s.TopCategories == nil {
		s.TopCategories = []TopItem{}
	}
	if s.TopLocations == nil {
		s.TopLocations = []TopItem{}
	}
	if s.TopAddresses == nil {
		s.TopAddresses = []TopItem{}
	}
	s.Summary = BuildSummary(s)
	return s, nil
}

// NoGeoMessage explains a hidden map panel
func NoGeoMessage(ds datasets.Dataset) string {
	return fmt.Sprintf("%s does not include location coordinates/boundaries.", ds.Label)
}

func (e *Engine) loadMap(ctx context.Context, g *errgroup.Group, ds datasets.Dataset, w Windows, s *Stats) {
	dateExpr := ds.DateExpr()
	if !ds.HasGeoSupport() {
		s.Map = MapModel{Kind: "none", Message: NoGeoMessage(ds)}
		return
	}

	switch geoCfg := ds.Geo.(type) {
	case datasets.PointGeo:
		s.Map.Kind = "points"
		g.Go(func() error {
			fields := geo.Fields(geoCfg)
			t, err := e.q.Query(ctx, ds, models.KindPoints,
				soql.PointsQuery(dateExpr, w.Last30.Start, w.Last30.End, fields, MapPointLimit))
			if err != nil {
				return err
			}
			points := make([]geo.Point, 0, len(t.Rows))
			for _, r := range t.Rows {
				if p, ok := geo.ExtractPoint(t, r, geoCfg); ok {
					points = append(points, p)
				} else {
					s.Map.Dropped++
				}
			}
			s.Map.Points = points
			return nil
		})

	case datasets.ChoroplethGeo:
		s.Map.Kind = "choropleth"
		if e.boundaries == nil {
			g.Go(func() error { return fmt.Errorf("no boundary source for %s", geoCfg.URL) })
			return
		}
		var (
			items []TopItem
			fc    *geojson.FeatureCollection
		)
		var inner errgroup.Group
		inner.Go(func() error {
			t, err := e.q.Query(ctx, ds, models.KindGroup,
				soql.GroupCountQuery(dateExpr, w.Last30.Start, w.Last30.End, geoCfg.Field, DistrictLimit))
			if err != nil {
				return err
			}
			items = ParseGroupCounts(t)
			return nil
		})
		inner.Go(func() error {
			b, err := e.boundaries.Get(ctx, geoCfg.URL)
			if err != nil {
				return err
			}
			fc = b
			return nil
		})
		g.Go(func() error {
			if err := inner.Wait(); err != nil {
				return err
			}
			ch, err := geo.ResolveChoropleth(fc, geoCfg, CountsByLabel(items))
			if err != nil {
				return err
			}
			s.Map.Choropleth = ch
			s.TopDistricts = TopN(items, TopLimit)
			return nil
		})
	}
}

func firstCount(t *normalize.Table) int {
	if t.Empty() {
		return 0
	}
	return toCount(t.Lookup(t.Rows[0], "count"))
}

func buildKPIs(w Windows, firstDay time.Time, c periodCounts) []KPI {
	last := w.End.AddDate(0, 0, -1)
	allMeta := "All records"
	if !firstDay.IsZero() {
		allMeta = "Since " + firstDay.Format("Jan 2, 2006")
	}
	return []KPI{
		{
			Key:   "last7",
			Label: "Last 7 days",
			Count: c.last7,
			Value: FormatNumber(c.last7),
			Meta:  w.Last7.Start.Format("Jan 2") + " - " + last.Format("Jan 2, 2006"),
		},
		{
			Key:   "mtd",
			Label: "Month to date",
			Count: c.mtd,
			Value: FormatNumber(c.mtd),
			Meta:  "vs same point last month: " + FormatChange(float64(c.mtd), float64(c.priorMTD)),
		},
		{
			Key:   "last30",
			Label: "Last 30 days",
			Count: c.last30,
			Value: FormatNumber(c.last30),
			Meta:  "vs prior 30 days: " + FormatChange(float64(c.last30), float64(c.prior30)),
		},
		{
			Key:   "ytd",
			Label: "Year to date",
			Count: c.ytd,
			Value: FormatNumber(c.ytd),
			Meta:  "vs same point last year: " + FormatChange(float64(c.ytd), float64(c.priorYTD)),
		},
		{
			Key:   "all",
			Label: "All time",
			Count: c.allTime,
			Value: FormatNumber(c.allTime),
			Meta:  allMeta,
		},
	}
}
