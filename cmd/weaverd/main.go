package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/weatherweave/internal/geo"
	"github.com/lox/weatherweave/internal/notify"
	"github.com/lox/weatherweave/internal/nwp"
	"github.com/lox/weatherweave/internal/provider/ecmwf"
	"github.com/lox/weatherweave/internal/provider/era5"
	"github.com/lox/weatherweave/internal/provider/gfs"
	"github.com/lox/weatherweave/internal/service"
	"github.com/lox/weatherweave/internal/storage/localfs"
	"github.com/lox/weatherweave/internal/storage/sqlitestore"
)

type globals struct {
	Source     string `default:"ecmwf" enum:"ecmwf,era5,gfs" help:"Data source to run."`
	Storage    string `default:"localfs" enum:"localfs,sqlite" help:"Storage backend."`
	DataDir    string `default:"data" help:"Directory for processed output and cached geometry."`
	RawDir     string `default:"data/raw" help:"Staging directory for raw downloads."`
	DBPath     string `default:"data/weatherweave.db" help:"SQLite path (sqlite storage only)."`
	Area       string `help:"Geographic filter: 'entsoe', a bounding box like 'N: 73.5 W: -27 S: 33 E: 45', or empty for the whole grid."`
	Workers    int    `default:"4" help:"Parallel requests in flight."`
	Attempts   int    `name:"download-attempts" default:"3" help:"Download attempts per request before it is marked failed."`
	Ensemble   bool   `help:"Fetch the ensemble stream instead of the deterministic one (ecmwf only)."`
	CleanupRaw bool   `help:"Remove raw artifacts after a successful store."`
	CDSToken   string `env:"CDS_TOKEN" help:"Copernicus Climate Data Store API token (era5 only)."`

	ECMWFPublicationDelay time.Duration `name:"ecmwf-publication-delay" env:"ECMWF_PUBLICATION_DELAY" default:"9h" help:"How long after its reference time an open-data run is assumed published."`

	KafkaBrokers []string `env:"KAFKA_BROKERS" help:"Kafka brokers for outcome events; empty disables publishing."`
	KafkaTopic   string   `default:"weatherweave.outcomes" help:"Kafka topic for outcome events."`
}

type downloadCmd struct {
	Start string `help:"Window start (2006-01-02 or RFC 3339). Defaults to the start of yesterday (UTC)."`
	End   string `help:"Window end, exclusive. Defaults to now."`
}

type watchCmd struct {
	Interval    time.Duration `default:"1h" help:"How often to run the pipeline."`
	Window      time.Duration `default:"48h" help:"Sliding window ending at each run's start time."`
	MetricsAddr string        `default:":9090" help:"Prometheus metrics listen address."`
}

type deleteCmd struct {
	Start string `required:"" help:"Window start (2006-01-02 or RFC 3339)."`
	End   string `required:"" help:"Window end, exclusive."`
}

type cli struct {
	globals

	EnvFile kong.ConfigFlag `name:"env-file" help:"Load flags from a .env file."`

	Download downloadCmd `cmd:"" help:"Fetch, process and store the window once, then exit."`
	Watch    watchCmd    `cmd:"" help:"Run the pipeline on a schedule with a metrics endpoint."`
	Delete   deleteCmd   `cmd:"" help:"Remove stored datasets for the window."`
}

func main() {
	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("weaverd"),
		kong.Description("Fetches numerical weather prediction data, normalizes it and stores it idempotently."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&flags.globals))
}

func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q (want 2006-01-02 or RFC 3339)", s)
	}
	return t.UTC(), nil
}

func buildFilter(g *globals) (*geo.Filter, error) {
	switch {
	case g.Area == "":
		return nil, nil
	case strings.EqualFold(g.Area, "entsoe"):
		return geo.LoadArea("entsoe", g.DataDir)
	default:
		bbox, err := geo.ParseBoundingBox(g.Area)
		if err != nil {
			return nil, err
		}
		return geo.NewBoundingBoxFilter(bbox), nil
	}
}

func buildStorage(g *globals) (nwp.Storage, func() error, error) {
	switch g.Storage {
	case "sqlite":
		store, err := sqlitestore.Open(g.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := localfs.New(filepath.Join(g.DataDir, "processed"))
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

func buildSource(g *globals, filter *geo.Filter) (service.Source, error) {
	switch g.Source {
	case "ecmwf":
		builder := ecmwf.NewBuilder()
		builder.Ensemble = g.Ensemble
		builder.PublicationDelay = g.ECMWFPublicationDelay
		return service.Source{
			Name:      ecmwf.SourceName,
			Builder:   builder,
			Fetcher:   ecmwf.NewFetcher(),
			Processor: ecmwf.NewProcessor(),
		}, nil
	case "era5":
		if g.CDSToken == "" {
			return service.Source{}, fmt.Errorf("era5 requires a CDS token (set CDS_TOKEN or --cds-token)")
		}
		// The CDS request carries the subsetting area itself, so the
		// reanalysis download is bounded even without a local filter.
		area, err := geo.ParseBoundingBox(geo.EuropeBoundingBox)
		if err != nil {
			return service.Source{}, err
		}
		if filter != nil {
			area = filter.Bounds()
		}
		return service.Source{
			Name:      era5.SourceName,
			Builder:   era5.NewBuilder(area),
			Fetcher:   era5.NewFetcher(g.CDSToken),
			Processor: era5.NewProcessor(),
		}, nil
	case "gfs":
		return service.Source{
			Name:      gfs.SourceName,
			Builder:   gfs.NewBuilder(),
			Fetcher:   gfs.NewFetcher(),
			Processor: gfs.NewProcessor(),
		}, nil
	}
	return service.Source{}, fmt.Errorf("unknown source %q", g.Source)
}

func buildService(g *globals) (*service.Service, func() error, error) {
	filter, err := buildFilter(g)
	if err != nil {
		return nil, nil, fmt.Errorf("building geographic filter: %w", err)
	}
	src, err := buildSource(g, filter)
	if err != nil {
		return nil, nil, err
	}
	storage, closeStorage, err := buildStorage(g)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	cfg := service.Config{
		RawDir:           g.RawDir,
		Workers:          g.Workers,
		DownloadAttempts: g.Attempts,
		Filter:           filter,
		CleanupRaw:       g.CleanupRaw,
	}

	closer := closeStorage
	if len(g.KafkaBrokers) > 0 {
		notifier := notify.NewKafkaNotifier(g.KafkaBrokers, g.KafkaTopic)
		cfg.Notifier = notifier
		closer = func() error {
			notifier.Close()
			return closeStorage()
		}
	}

	return service.New(src, storage, cfg), closer, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOnce(ctx context.Context, svc *service.Service, start, end time.Time) error {
	summary, err := svc.Run(ctx, start, end)
	if err != nil {
		return err
	}
	log.Printf("run complete: %d stored, %d skipped, %d failed", summary.Stored, summary.Skipped, summary.Failed)
	return summary.Err()
}

func (c *downloadCmd) Run(g *globals) error {
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1).Truncate(24 * time.Hour)

	start, err := parseTime(c.Start, yesterday)
	if err != nil {
		return err
	}
	end, err := parseTime(c.End, now)
	if err != nil {
		return err
	}

	svc, closer, err := buildService(g)
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := signalContext()
	defer cancel()
	return runOnce(ctx, svc, start, end)
}

func (c *watchCmd) Run(g *globals) error {
	svc, closer, err := buildService(g)
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := signalContext()
	defer cancel()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics listening on %s", c.MetricsAddr)
		if err := http.ListenAndServe(c.MetricsAddr, nil); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(c.Interval).Do(func() {
		end := time.Now().UTC()
		start := end.Add(-c.Window)
		if err := runOnce(ctx, svc, start, end); err != nil {
			log.Printf("scheduled run: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling pipeline: %w", err)
	}

	scheduler.StartAsync()
	log.Printf("watching %s every %s over a %s window", g.Source, c.Interval, c.Window)

	<-ctx.Done()
	scheduler.Stop()
	log.Println("shutting down")
	return nil
}

func (c *deleteCmd) Run(g *globals) error {
	start, err := parseTime(c.Start, time.Time{})
	if err != nil {
		return err
	}
	end, err := parseTime(c.End, time.Time{})
	if err != nil {
		return err
	}

	svc, closer, err := buildService(g)
	if err != nil {
		return err
	}
	defer closer()

	deleted, err := svc.DeleteWindow(start, end)
	log.Printf("deleted %d stored datasets", deleted)
	return err
}
