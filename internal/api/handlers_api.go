package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lox/crimedash/internal/dashboard"
	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/soql"
)

// DatasetInfo is one entry of the dataset selector
type DatasetInfo struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	City        string `json:"city"`
	Name        string `json:"name"`
	Description string `json:"description"`
	HasGeo      bool   `json:"hasGeo"`
	GeoKind     string `json:"geoKind"`
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	list := s.dash.Registry().List()
	out := make([]DatasetInfo, 0, len(list))
	for _, ds := range list {
		out = append(out, DatasetInfo{
			ID:          ds.ID,
			Label:       ds.Label,
			City:        ds.City,
			Name:        ds.Name,
			Description: ds.Description,
			HasGeo:      ds.HasGeoSupport(),
			GeoKind:     ds.GeoKind(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dash.Registry().Options())
}

// LoadQuery is one upstream request of a stats load
type LoadQuery struct {
	Kind       string `json:"kind"`
	Query      string `json:"query"`
	Status     int64  `json:"status,omitempty"`
	Rows       int64  `json:"rows"`
	DurationMS int64  `json:"durationMs"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: "no audit log configured"})
		return
	}
	runs, err := s.store.GetLoadQueries(chi.URLParam(r, "loadID"))
	if err != nil {
		s.log.Warn("api: load queries", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: err.Error()})
		return
	}
	if len(runs) == 0 {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: "unknown load"})
		return
	}
	out := make([]LoadQuery, 0, len(runs))
	for _, run := range runs {
		out = append(out, LoadQuery{
			Kind:       run.Kind,
			Query:      run.Query,
			Status:     run.HTTPStatus.Int64,
			Rows:       run.Rows.Int64,
			DurationMS: run.DurationMS,
			Success:    run.Success,
			Error:      run.Error.String,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	refresh, _ := strconv.ParseBool(q.Get("refresh"))
	view, err := s.dash.Rows(r.Context(), chi.URLParam(r, "id"), dashboardRowOptions(q.Get("limit"), q.Get("search"), refresh))
	s.respond(w, view, err)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	view, err := s.dash.Monthly(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, view, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.dash.Stats(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, view, err)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.dash.Registry().Get(id); err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: err.Error()})
		return
	}
	if s.digests == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: "digests are not scheduled"})
		return
	}
	st, ok := s.digests.Latest(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: "no digest yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// respond writes a view. Unknown datasets are 404; upstream failures are 502
// with the view, which carries the status line and reset panels.
func (s *Server) respond(w http.ResponseWriter, view any, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, view)
	case errors.Is(err, datasets.ErrUnknownDataset):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Status: "error", Error: err.Error()})
	default:
		s.log.Warn("api: upstream failure", zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, view)
	}
}

func dashboardRowOptions(limit, search string, refresh bool) dashboard.RowOptions {
	return dashboard.RowOptions{Limit: soql.ParseLimit(limit), Search: search, Refresh: refresh}
}
