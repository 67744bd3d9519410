package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/crimedash/internal/api"
	"github.com/lox/crimedash/internal/dashboard"
	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/geo"
	"github.com/lox/crimedash/internal/httputil"
	"github.com/lox/crimedash/internal/scheduler"
	"github.com/lox/crimedash/internal/socrata"
	"github.com/lox/crimedash/internal/stats"
	"github.com/lox/crimedash/internal/store"
)

type Globals struct {
	EnvFile  kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB       string                   `default:"data/crimedash.db" env:"CRIMEDASH_DB" help:"Path to SQLite audit database"`
	Registry string                   `name:"datasets" env:"CRIMEDASH_DATASETS" help:"Dataset registry YAML (built-in list when empty)"`
	AppToken string                   `env:"CRIMEDASH_APP_TOKEN" help:"Default Socrata app token"`
	Timeout  time.Duration            `default:"30s" env:"CRIMEDASH_TIMEOUT" help:"Upstream request timeout"`
	Rate     float64                  `default:"10" env:"CRIMEDASH_RATE" help:"Upstream requests per second, 0 for no cap"`
	TZ       string                   `name:"tz" default:"UTC" env:"CRIMEDASH_TZ" help:"Time zone for date windows"`
	LogLevel string                   `default:"info" enum:"debug,info,warn,error" env:"CRIMEDASH_LOG_LEVEL" help:"Log level"`
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Run the JSON API and the digest scheduler"`
	Datasets DatasetsCmd `cmd:"" help:"List configured datasets"`
	Rows     RowsCmd     `cmd:"" help:"Fetch recent rows for a dataset"`
	Monthly  MonthlyCmd  `cmd:"" help:"Compare monthly counts year over year"`
	Stats    StatsCmd    `cmd:"" help:"Load KPIs, trend, top lists, summary and map"`
	Runs     RunsCmd     `cmd:"" help:"Show upstream query health from the audit log"`
}

// app holds the wired components shared by every command
type app struct {
	log      *zap.Logger
	loc      *time.Location
	db       *sql.DB
	store    *store.Store
	registry *datasets.Registry
	engine   *stats.Engine
	dash     *dashboard.Dashboard
}

func (g *Globals) setup() (*app, error) {
	level, err := zap.ParseAtomicLevel(g.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	loc, err := time.LoadLocation(g.TZ)
	if err != nil {
		return nil, fmt.Errorf("time zone: %w", err)
	}

	registry, err := datasets.Default()
	if g.Registry != "" {
		registry, err = datasets.LoadFile(g.Registry)
	}
	if err != nil {
		return nil, err
	}

	db, err := store.Open(g.DB)
	if err != nil {
		return nil, err
	}
	st := store.New(db, loc, log.Named("store"))
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := socrata.NewClient(socrata.EnvTokens{Default: g.AppToken, Lookup: os.Getenv}, log.Named("socrata"))
	client.SetHTTPClient(httputil.NewClientWithTimeout(g.Timeout))
	client.SetRecorder(st)
	client.SetRateLimit(g.Rate, 8)

	engine := stats.NewEngine(client, geo.NewBoundaryCache(client), log.Named("stats"))
	engine.SetLocation(loc)

	return &app{
		log:      log,
		loc:      loc,
		db:       db,
		store:    st,
		registry: registry,
		engine:   engine,
		dash:     dashboard.New(registry, client, engine, log.Named("dashboard")),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ServeCmd struct {
	Addr        string        `default:":8080" env:"CRIMEDASH_ADDR" help:"HTTP listen address"`
	DigestCron  string        `default:"@every 1h" env:"CRIMEDASH_DIGEST_CRON" help:"Digest schedule, empty to disable"`
	Cooldown    time.Duration `default:"10m" help:"First cooldown after a failed digest"`
	MaxCooldown time.Duration `default:"6h" help:"Longest cooldown after repeated failures"`
	Retention   int           `default:"30" help:"Days of query audit history to keep"`
}

func (c *ServeCmd) Run(ctx context.Context, a *app) error {
	if n, err := a.store.CleanupOldQueryRuns(c.Retention); err != nil {
		a.log.Warn("serve: cleanup query runs", zap.Error(err))
	} else if n > 0 {
		a.log.Info("serve: pruned query runs", zap.Int64("rows", n))
	}

	server := api.NewServer(a.dash, a.store, c.Addr, a.log.Named("api"))
	g, ctx := errgroup.WithContext(ctx)

	if c.DigestCron != "" {
		sched, err := scheduler.New(a.registry.List(), a.engine, a.store, c.DigestCron, a.loc, a.log.Named("scheduler"))
		if err != nil {
			return err
		}
		sched.SetCooldown(c.Cooldown, c.MaxCooldown)
		server.SetDigests(sched)
		g.Go(func() error { return sched.Run(ctx) })
	}
	g.Go(func() error { return server.Run(ctx) })

	return g.Wait()
}

type DatasetsCmd struct{}

func (c *DatasetsCmd) Run(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tMAP\tENDPOINT")
	for _, ds := range a.registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ds.ID, ds.Label, ds.GeoKind(), ds.Endpoint)
	}
	return w.Flush()
}

type RowsCmd struct {
	ID     string `arg:"" help:"Dataset id"`
	Limit  int    `default:"200" help:"Rows to fetch (1-5000)"`
	Search string `help:"Keep rows containing this text"`
}

func (c *RowsCmd) Run(ctx context.Context, a *app) error {
	view, err := a.dash.Rows(ctx, c.ID, dashboard.RowOptions{Limit: c.Limit, Search: c.Search})
	if view != nil {
		if perr := printJSON(view); perr != nil {
			return perr
		}
	}
	return err
}

type MonthlyCmd struct {
	ID string `arg:"" help:"Dataset id"`
}

func (c *MonthlyCmd) Run(ctx context.Context, a *app) error {
	view, err := a.dash.Monthly(ctx, c.ID)
	if view != nil {
		if perr := printJSON(view); perr != nil {
			return perr
		}
	}
	return err
}

type StatsCmd struct {
	ID  string `arg:"" help:"Dataset id"`
	Now string `help:"Evaluate as of this day (YYYY-MM-DD)"`
}

func (c *StatsCmd) Run(ctx context.Context, a *app) error {
	if c.Now != "" {
		now, err := time.ParseInLocation("2006-01-02", c.Now, a.loc)
		if err != nil {
			return fmt.Errorf("parse --now: %w", err)
		}
		a.engine.SetClock(func() time.Time { return now })
	}
	view, err := a.dash.Stats(ctx, c.ID)
	if view != nil {
		if perr := printJSON(view); perr != nil {
			return perr
		}
	}
	return err
}

type RunsCmd struct {
	Days   int `default:"7" help:"Days of history to summarise"`
	Errors int `default:"10" help:"Recent failures to list"`
}

func (c *RunsCmd) Run(a *app) error {
	health, err := a.store.GetQueryHealth(c.Days)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDATASET\tKIND\tRUNS\tFAILED\tROWS\tBYTES\tAVG MS")
	for _, h := range health {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.0f\n",
			h.Date, h.Dataset, h.Kind, h.TotalRuns, h.FailedRuns, h.TotalRows, h.TotalBytes, h.AvgDurationMS)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	failures, err := a.store.GetRecentQueryErrors(c.Errors)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Println()
		fmt.Println("Recent failures:")
	}
	for _, f := range failures {
		fmt.Printf("  %s %s/%s: %s\n", f.StartedAt.Format(time.DateTime), f.Dataset, f.Kind, f.Error.String)
	}

	digests, err := a.store.GetDigestRuns("", c.Errors)
	if err != nil {
		return err
	}
	if len(digests) > 0 {
		fmt.Println()
		fmt.Println("Recent digests:")
	}
	for _, d := range digests {
		state := "ok"
		if !d.Success {
			state = "failed: " + d.Error.String
		}
		fmt.Printf("  %s %s latest=%s %s\n", d.StartedAt.Format(time.DateTime), d.Dataset, d.LatestDay.String, state)
	}
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("crimedash"),
		kong.Description("City crime dashboard backed by Socrata open data"),
		kong.UsageOnError(),
	)

	a, err := cli.setup()
	kctx.FatalIfErrorf(err)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(a); err != nil {
		a.log.Error("command failed", zap.String("command", kctx.Command()), zap.Error(err))
		stop()
		a.Close()
		os.Exit(1)
	}
}
