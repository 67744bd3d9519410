// Package scheduler refreshes dataset stats on a cron schedule and keeps the
// freshness and KPI gauges current.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/metrics"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/stats"
)

// ErrCoolingDown is returned for a digest skipped after a recent failure
var ErrCoolingDown = errors.New("dataset cooling down")

const (
	defaultInitialCooldown = 10 * time.Minute
	defaultMaxCooldown     = 6 * time.Hour
)

// Loader runs a stats load
type Loader interface {
	Load(ctx context.Context, ds datasets.Dataset) (*stats.Stats, error)
}

// Recorder keeps digest history
type Recorder interface {
	RecordDigest(run models.DigestRun) (int64, error)
}

type cooldown struct {
	bo    *backoff.ExponentialBackOff
	until time.Time
}

type Scheduler struct {
	datasets []datasets.Dataset
	loader   Loader
	store    Recorder
	spec     string
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time

	initialCooldown time.Duration
	maxCooldown     time.Duration

	mu        sync.Mutex
	cooldowns map[string]*cooldown
	latest    map[string]*stats.Stats
}

// New validates the cron spec and returns a scheduler for the given datasets.
// store may be nil.
func New(list []datasets.Dataset, loader Loader, store Recorder, spec string, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse digest schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		datasets:        list,
		loader:          loader,
		store:           store,
		spec:            spec,
		loc:             loc,
		log:             log,
		now:             time.Now,
		initialCooldown: defaultInitialCooldown,
		maxCooldown:     defaultMaxCooldown,
		cooldowns:       make(map[string]*cooldown),
		latest:          make(map[string]*stats.Stats),
	}, nil
}

// SetClock overrides the time source used for cooldowns
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetCooldown sets the first and longest cooldown after failed digests
func (s *Scheduler) SetCooldown(initial, max time.Duration) {
	s.initialCooldown = initial
	s.maxCooldown = max
}

// Run digests every dataset once, then on each cron tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{s.log.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log.Sugar()})),
	)
	if _, err := c.AddFunc(s.spec, func() { s.RunAll(ctx) }); err != nil {
		return fmt.Errorf("schedule digest: %w", err)
	}

	s.log.Info("scheduler: starting", zap.String("schedule", s.spec), zap.Int("datasets", len(s.datasets)))
	s.RunAll(ctx)
	c.Start()

	<-ctx.Done()
	s.log.Info("scheduler: shutting down")
	<-c.Stop().Done()
	return nil
}

// RunAll digests every dataset in turn. Failures are logged and recorded,
// never retried.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, ds := range s.datasets {
		if ctx.Err() != nil {
			return
		}
		if err := s.RunOnce(ctx, ds); err != nil && !errors.Is(err, ErrCoolingDown) {
			s.log.Warn("scheduler: digest failed", zap.String("dataset", ds.ID), zap.Error(err))
		}
	}
}

// RunOnce digests one dataset unless it is cooling down from a failure.
func (s *Scheduler) RunOnce(ctx context.Context, ds datasets.Dataset) error {
	now := s.now()
	if until, cooling := s.coolingUntil(ds.ID, now); cooling {
		metrics.DigestSkipsTotal.WithLabelValues(ds.ID).Inc()
		s.log.Debug("scheduler: skipping dataset in cooldown",
			zap.String("dataset", ds.ID), zap.Time("until", until))
		return ErrCoolingDown
	}

	started := time.Now()
	st, err := s.loader.Load(ctx, ds)
	run := models.DigestRun{
		Dataset:    ds.ID,
		StartedAt:  now.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		wait := s.fail(ds.ID, now)
		s.log.Warn("scheduler: digest failed, cooling down",
			zap.String("dataset", ds.ID), zap.Duration("cooldown", wait), zap.Error(err))
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		s.record(run)
		return err
	}

	s.succeed(ds.ID, st)
	run.LoadID = st.LoadID
	run.LatestDay = sql.NullString{String: st.LatestDay, Valid: st.LatestDay != ""}
	run.Summary = strings.Join(st.Summary, "\n")
	run.Success = true
	s.record(run)

	metrics.DatasetFreshnessDays.WithLabelValues(ds.ID).Set(float64(st.FreshnessDays))
	for _, k := range st.KPIs {
		metrics.DatasetKPI.WithLabelValues(ds.ID, k.Key).Set(float64(k.Count))
	}
	s.log.Info("scheduler: digest",
		zap.String("dataset", ds.ID),
		zap.String("latest", st.LatestDay),
		zap.Strings("summary", st.Summary))
	return nil
}

// Latest returns the last successful digest for a dataset
func (s *Scheduler) Latest(id string) (*stats.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.latest[id]
	return st, ok
}

func (s *Scheduler) coolingUntil(id string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.cooldowns[id]
	if !ok || !now.Before(cd.until) {
		return time.Time{}, false
	}
	return cd.until, true
}

func (s *Scheduler) fail(id string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.cooldowns[id]
	if !ok {
		cd = &cooldown{bo: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.initialCooldown),
			backoff.WithMaxInterval(s.maxCooldown),
			backoff.WithMaxElapsedTime(0),
		)}
		s.cooldowns[id] = cd
	}
	wait := cd.bo.NextBackOff()
	cd.until = now.Add(wait)
	return wait
}

func (s *Scheduler) succeed(id string, st *stats.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cooldowns, id)
	s.latest[id] = st
}

func (s *Scheduler) record(run models.DigestRun) {
	if s.store == nil {
		return
	}
	if _, err := s.store.RecordDigest(run); err != nil {
		s.log.Warn("scheduler: record digest", zap.String("dataset", run.Dataset), zap.Error(err))
	}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
