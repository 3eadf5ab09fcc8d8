// Package service orchestrates a source's pipeline: enumerate
// requests, skip what storage already holds, then fetch, transform
// and store the remainder on a worker pool.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/lox/weatherweave/internal/geo"
	"github.com/lox/weatherweave/internal/metrics"
	"github.com/lox/weatherweave/internal/notify"
	"github.com/lox/weatherweave/internal/nwp"
)

const (
	DefaultWorkers          = 4
	DefaultDownloadAttempts = 3
)

// Notifier receives one outcome event per finished request.
type Notifier interface {
	Notify(ctx context.Context, out notify.Outcome) error
}

// Source bundles the per-provider pipeline pieces.
type Source struct {
	Name      string
	Builder   nwp.RequestBuilder
	Fetcher   nwp.Fetcher
	Processor nwp.Processor
}

// Config tunes one pipeline run.
type Config struct {
	RawDir           string
	Workers          int
	DownloadAttempts int
	Filter           *geo.Filter
	CleanupRaw       bool
	Notifier         Notifier
}

type Service struct {
	source  Source
	storage nwp.Storage
	cfg     Config
}

func New(source Source, storage nwp.Storage, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = DefaultDownloadAttempts
	}
	return &Service{source: source, storage: storage, cfg: cfg}
}

// Failure records one request the run could not complete.
type Failure struct {
	Key  string
	Kind string
	Err  error
}

// Summary is the account of one run. A run with failures still
// completes the remaining requests.
type Summary struct {
	Skipped  int
	Stored   int
	Failed   int
	Failures []Failure
}

// Err folds the failures into one error, nil on a clean run.
func (s Summary) Err() error {
	var result *multierror.Error
	for _, f := range s.Failures {
		result = multierror.Append(result, fmt.Errorf("%s [%s]: %w", f.Key, f.Kind, f.Err))
	}
	return result.ErrorOrNil()
}

type outcome struct {
	req nwp.Request
	err error
}

// Run executes the pipeline for the window. Failures are isolated per
// request; only context cancellation or a failed storage listing stops
// the run early.
func (s *Service) Run(ctx context.Context, start, end time.Time) (Summary, error) {
	var summary Summary

	requests := s.source.Builder.BuildRequests(start, end)
	if len(requests) == 0 {
		log.Printf("service: no %s requests in window %s to %s", s.source.Name, start.Format(time.RFC3339), end.Format(time.RFC3339))
		return summary, nil
	}

	stored, err := s.storage.ListStored(requests)
	if err != nil {
		return summary, fmt.Errorf("listing stored datasets: %w", err)
	}

	var pending []nwp.Request
	for _, req := range requests {
		if _, ok := stored[req.Key()]; ok {
			summary.Skipped++
			metrics.RequestsTotal.WithLabelValues(s.source.Name, "skipped").Inc()
			s.notify(ctx, req, "skipped", nil)
			continue
		}
		pending = append(pending, req)
	}
	log.Printf("service: %s window has %d requests, %d already stored, %d to fetch",
		s.source.Name, len(requests), summary.Skipped, len(pending))

	jobs := make(chan nwp.Request)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				results <- outcome{req: req, err: s.process(ctx, req)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, req := range pending {
			select {
			case jobs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for out := range results {
		if out.err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				Key:  out.req.Key(),
				Kind: nwp.ErrorKind(out.err),
				Err:  out.err,
			})
			metrics.RequestsTotal.WithLabelValues(s.source.Name, "failed").Inc()
			log.Printf("service: %s/%s failed: %v", s.source.Name, out.req.Key(), out.err)
			s.notify(ctx, out.req, "failed", out.err)
			continue
		}
		summary.Stored++
		metrics.RequestsTotal.WithLabelValues(s.source.Name, "stored").Inc()
		s.notify(ctx, out.req, "stored", nil)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// process runs one request end to end. Download retries transient
// transfer failures; everything after the fetch is single-shot.
func (s *Service) process(ctx context.Context, req nwp.Request) error {
	start := time.Now()
	artifact, err := s.download(ctx, req)
	if err != nil {
		return err
	}
	metrics.StageDuration.WithLabelValues(s.source.Name, "fetch").Observe(time.Since(start).Seconds())

	start = time.Now()
	ds, err := s.source.Processor.Transform(artifact, req, s.cfg.Filter)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	metrics.StageDuration.WithLabelValues(s.source.Name, "transform").Observe(time.Since(start).Seconds())

	start = time.Now()
	if err := s.storage.Store(ctx, req, ds); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	metrics.StageDuration.WithLabelValues(s.source.Name, "store").Observe(time.Since(start).Seconds())

	if s.cfg.CleanupRaw {
		if err := os.Remove(artifact.Path); err != nil {
			log.Printf("service: removing raw artifact %s: %v", artifact.Path, err)
		}
	}
	return nil
}

func (s *Service) download(ctx context.Context, req nwp.Request) (nwp.RawArtifact, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.cfg.DownloadAttempts-1)),
		ctx)

	var artifact nwp.RawArtifact
	err := backoff.Retry(func() error {
		var err error
		artifact, err = s.source.Fetcher.Download(ctx, req, s.cfg.RawDir)
		if err != nil && !nwp.Retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("service: retrying %s/%s download: %v", s.source.Name, req.Key(), err)
		}
		return err
	}, policy)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("download: %w", err)
	}
	return artifact, nil
}

func (s *Service) notify(ctx context.Context, req nwp.Request, status string, cause error) {
	if s.cfg.Notifier == nil {
		return
	}
	out := notify.Outcome{
		Source:     s.source.Name,
		Key:        req.Key(),
		Status:     status,
		RunTime:    req.RunTime(),
		FinishedAt: time.Now().UTC(),
	}
	if cause != nil {
		out.Error = cause.Error()
	}
	if err := s.cfg.Notifier.Notify(ctx, out); err != nil {
		log.Printf("service: publishing outcome for %s/%s: %v", s.source.Name, req.Key(), err)
	}
}

// DeleteWindow removes every stored dataset the builder enumerates in
// the window. Absent keys are no-ops, so a partial prior delete can be
// rerun safely.
func (s *Service) DeleteWindow(start, end time.Time) (int, error) {
	requests := s.source.Builder.BuildRequests(start, end)

	var (
		deleted int
		result  *multierror.Error
	)
	for _, req := range requests {
		if err := s.storage.Delete(req); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", req.Key(), err))
			continue
		}
		deleted++
	}
	return deleted, result.ErrorOrNil()
}
