// Package dashboard turns engine results into the views a client renders:
// the filtered row table, the monthly comparison and the stats panels, each
// with a status line. A failed load always resets its panels.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/normalize"
	"github.com/lox/crimedash/internal/socrata"
	"github.com/lox/crimedash/internal/soql"
	"github.com/lox/crimedash/internal/stats"
)

// Status lines
const (
	StatusLoading        = "Loading data..."
	StatusLoadingMonthly = "Loading monthly comparison..."
	StatusLoaded         = "Data loaded."
	StatusMonthlyLoaded  = "Monthly comparison loaded."
	StatusStatsLoaded    = "Stats loaded."
	StatusNoRows         = "No rows returned from the API."
	StatusCredential     = "Unable to load data. Add an app token if the API blocks the request."
	StatusFailed         = "Request failed. Check the endpoint or try again."

	EmptyTable = "No rows found for this query."
)

// FailureStatus is the user-facing line for a failed load. Responses that
// look like a missing or throttled credential get the token hint.
func FailureStatus(err error) string {
	if socrata.NeedsCredential(err) {
		return StatusCredential
	}
	return StatusFailed
}

// Engine is the part of stats.Engine the dashboard drives
type Engine interface {
	Monthly(ctx context.Context, ds datasets.Dataset) (*stats.MonthlyComparison, error)
	Load(ctx context.Context, ds datasets.Dataset) (*stats.Stats, error)
}

type snapshot struct {
	limit int
	table *normalize.Table
}

type Dashboard struct {
	registry *datasets.Registry
	q        stats.Querier
	engine   Engine
	log      *zap.Logger

	mu        sync.Mutex
	snapshots map[string]snapshot
}

func New(registry *datasets.Registry, q stats.Querier, engine Engine, log *zap.Logger) *Dashboard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dashboard{
		registry:  registry,
		q:         q,
		engine:    engine,
		log:       log,
		snapshots: make(map[string]snapshot),
	}
}

// Registry returns the dataset registry the dashboard serves
func (d *Dashboard) Registry() *datasets.Registry {
	return d.registry
}

// Cell is one rendered table cell. Title carries the full text when Text was
// truncated.
type Cell struct {
	Text  string `json:"text"`
	Title string `json:"title,omitempty"`
}

// RowView is the browsable table of recent records
type RowView struct {
	Dataset string             `json:"dataset"`
	Status  string             `json:"status"`
	Error   bool               `json:"error,omitempty"`
	Columns []normalize.Column `json:"columns"`
	Rows    [][]Cell           `json:"rows"`
	Shown   int                `json:"shown"`
	Matched int                `json:"matched"`
	Summary string             `json:"summary,omitempty"`
	Empty   string             `json:"empty,omitempty"`
}

// RowOptions controls a row view
type RowOptions struct {
	Limit   int
	Search  string
	Refresh bool
}

// Rows returns the row view for a dataset. The fetched snapshot is reused
// while the limit is unchanged, so a new search does not refetch.
func (d *Dashboard) Rows(ctx context.Context, id string, opts RowOptions) (*RowView, error) {
	ds, err := d.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = soql.DefaultLimit
	}

	view := &RowView{Dataset: ds.ID, Columns: []normalize.Column{}, Rows: [][]Cell{}}

	table, err := d.snapshot(ctx, ds, opts.Limit, opts.Refresh)
	if err != nil {
		view.Status = FailureStatus(err)
		view.Error = true
		view.Empty = EmptyTable
		return view, err
	}

	view.Columns = table.Columns
	if len(table.Rows) == 0 {
		view.Status = StatusNoRows
		view.Empty = EmptyTable
		return view, nil
	}

	view.Status = StatusLoaded
	rows, matched := Filter(table, opts.Search, opts.Limit)
	view.Shown = len(rows)
	view.Matched = matched
	view.Summary = RowSummary(len(rows), matched, len(table.Columns))
	for _, r := range rows {
		view.Rows = append(view.Rows, RenderRow(table.Columns, r))
	}
	if len(rows) == 0 || len(table.Columns) == 0 {
		view.Empty = EmptyTable
	}
	return view, nil
}

func (d *Dashboard) snapshot(ctx context.Context, ds datasets.Dataset, limit int, refresh bool) (*normalize.Table, error) {
	d.mu.Lock()
	snap, ok := d.snapshots[ds.ID]
	d.mu.Unlock()
	if ok && !refresh && snap.limit == limit {
		return snap.table, nil
	}

	table, err := d.q.Query(ctx, ds, models.KindRows, soql.RowQuery(limit))
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		delete(d.snapshots, ds.ID)
		d.log.Warn("dashboard: load rows", zap.String("dataset", ds.ID), zap.Error(err))
		return nil, fmt.Errorf("load rows: %w", err)
	}
	d.snapshots[ds.ID] = snapshot{limit: limit, table: table}
	return table, nil
}

// Filter keeps rows where any column contains search, case-insensitively,
// then slices to limit. It returns the rows and the number that matched.
func Filter(t *normalize.Table, search string, limit int) ([]normalize.Row, int) {
	needle := strings.ToLower(strings.TrimSpace(search))
	var matched []normalize.Row
	for _, r := range t.Rows {
		if needle == "" || rowMatches(t.Columns, r, needle) {
			matched = append(matched, r)
		}
	}
	total := len(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total
}

func rowMatches(cols []normalize.Column, r normalize.Row, needle string) bool {
	for _, c := range cols {
		if strings.Contains(strings.ToLower(normalize.FormatCell(r.Get(c))), needle) {
			return true
		}
	}
	return false
}

// RowSummary describes the visible slice of the table
func RowSummary(shown, matched, columns int) string {
	return fmt.Sprintf("Showing %d of %d rows, %d columns.", shown, matched, columns)
}

// RenderRow formats each cell of r for display
func RenderRow(cols []normalize.Column, r normalize.Row) []Cell {
	cells := make([]Cell, len(cols))
	for i, c := range cols {
		full := normalize.FormatCell(r.Get(c))
		text := normalize.Truncate(full, normalize.MaxCellLength)
		cells[i] = Cell{Text: text}
		if text != full {
			cells[i].Title = full
		}
	}
	return cells
}

// MonthlyView is the year-over-year comparison panel
type MonthlyView struct {
	Dataset      string                   `json:"dataset"`
	Status       string                   `json:"status"`
	Error        bool                     `json:"error,omitempty"`
	Comparison   *stats.MonthlyComparison `json:"comparison,omitempty"`
	Chart        []stats.ChartRow         `json:"chart"`
	ChartMessage string                   `json:"chartMessage,omitempty"`
	StatsLine    string                   `json:"statsLine,omitempty"`
}

// Monthly loads the monthly comparison view
func (d *Dashboard) Monthly(ctx context.Context, id string) (*MonthlyView, error) {
	ds, err := d.registry.Get(id)
	if err != nil {
		return nil, err
	}
	view := &MonthlyView{Dataset: ds.ID, Chart: []stats.ChartRow{}}

	m, err := d.engine.Monthly(ctx, ds)
	if err != nil {
		view.Status = FailureStatus(err)
		view.Error = true
		view.ChartMessage = stats.NoChartData
		return view, err
	}

	view.Status = StatusMonthlyLoaded
	view.Comparison = m
	view.StatsLine = m.StatsLine()
	if chart := m.Chart(); chart != nil {
		view.Chart = chart
	} else {
		view.ChartMessage = stats.NoChartData
	}
	return view, nil
}

// StatsView is the stats panel set. On failure every panel is empty.
type StatsView struct {
	Dataset string       `json:"dataset"`
	Status  string       `json:"status"`
	Error   bool         `json:"error,omitempty"`
	Stats   *stats.Stats `json:"stats"`
}

// Stats loads the stats view. Any failed sub-query resets all panels.
func (d *Dashboard) Stats(ctx context.Context, id string) (*StatsView, error) {
	ds, err := d.registry.Get(id)
	if err != nil {
		return nil, err
	}

	s, err := d.engine.Load(ctx, ds)
	if err != nil {
		return &StatsView{Dataset: ds.ID, Status: FailureStatus(err), Error: true, Stats: emptyStats(ds)}, err
	}
	return &StatsView{Dataset: ds.ID, Status: StatusStatsLoaded, Stats: s}, nil
}

func emptyStats(ds datasets.Dataset) *stats.Stats {
	m := stats.MapModel{Kind: "none"}
	if !ds.HasGeoSupport() {
		m.Message = stats.NoGeoMessage(ds)
	}
	return &stats.Stats{
		Dataset:       ds.ID,
		KPIs:          []stats.KPI{},
		Trend:         []stats.TrendPoint{},
		TopCategories: []stats.TopItem{},
		TopLocations:  []stats.TopItem{},
		TopAddresses:  []stats.TopItem{},
		Summary:       []string{},
		Map:           m,
	}
}
