package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/crimedash/internal/dashboard"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/socrata"
	"github.com/lox/crimedash/internal/stats"
	"github.com/lox/crimedash/internal/store"
)

// TokenHeader overrides the configured app token for one request
const TokenHeader = "X-App-Token"

// AuditStore is the audit log as seen by the health check and load lookups
type AuditStore interface {
	Ping() error
	GetQueryHealth(days int) ([]store.QueryHealthSummary, error)
	GetLoadQueries(loadID string) ([]models.QueryRun, error)
}

// Digests exposes the scheduler's latest stats
type Digests interface {
	Latest(id string) (*stats.Stats, bool)
}

type Server struct {
	dash    *dashboard.Dashboard
	store   AuditStore
	digests Digests
	addr    string
	log     *zap.Logger
}

// NewServer creates the JSON API server. store may be nil when no audit log
// is configured.
func NewServer(dash *dashboard.Dashboard, store AuditStore, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		dash:  dash,
		store: store,
		addr:  addr,
		log:   log,
	}
}

// SetDigests enables the scheduled digest endpoint
func (s *Server) SetDigests(d Digests) {
	s.digests = d
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)
	r.Use(tokenMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/datasets", func(r chi.Router) {
		r.Get("/", s.handleDatasets)
		r.Get("/options", s.handleOptions)
		r.Get("/{id}/rows", s.handleRows)
		r.Get("/{id}/monthly", s.handleMonthly)
		r.Get("/{id}/stats", s.handleStats)
		r.Get("/{id}/digest", s.handleDigest)
	})
	r.Get("/api/loads/{loadID}", s.handleLoad)
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("api: listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// tokenMiddleware moves an X-App-Token header into the request context
func tokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
			r = r.WithContext(socrata.WithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TokenHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("api: write response", zap.Error(err))
	}
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// HealthStatus is the /health response
type HealthStatus struct {
	Status       string   `json:"status"`
	Datasets     int      `json:"datasets"`
	FailedToday  int      `json:"failedToday"`
	QueriesToday int      `json:"queriesToday"`
	Errors       []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:   "ok",
		Datasets: len(s.dash.Registry().List()),
	}

	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: err.Error()})
			return
		}
		summaries, err := s.store.GetQueryHealth(1)
		if err != nil {
			health.Errors = append(health.Errors, "query health: "+err.Error())
		}
		for _, h := range summaries {
			health.QueriesToday += h.TotalRuns
			health.FailedToday += h.FailedRuns
		}
		// Upstream failures only degrade when nothing is getting through.
		if health.FailedToday > 0 && health.FailedToday == health.QueriesToday {
			health.Status = "degraded"
		}
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}
