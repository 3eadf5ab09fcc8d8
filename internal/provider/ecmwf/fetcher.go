package ecmwf

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sony/gobreaker"

	"github.com/lox/weatherweave/internal/fetchutil"
	"github.com/lox/weatherweave/internal/metrics"
	"github.com/lox/weatherweave/internal/nwp"
)

// DefaultBaseURL is the ECMWF open-data root.
const DefaultBaseURL = "https://data.ecmwf.int/forecasts"

// Fetcher retrieves open-data GRIB2 files over HTTP. One request maps
// to one file per forecast step; Download concatenates them into a
// single staged artifact (GRIB2 messages concatenate cleanly).
type Fetcher struct {
	BaseURL      string
	Client       *http.Client
	MinValidSize int64

	breaker *gobreaker.CircuitBreaker
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		BaseURL:      DefaultBaseURL,
		Client:       fetchutil.NewClient(),
		MinValidSize: nwp.MinValidSizeBytes,
		breaker:      fetchutil.NewBreaker(SourceName),
	}
}

func (f *Fetcher) stepURL(req Request, step int) (name, url string) {
	stamp := req.runTime.Format("20060102")
	name = fmt.Sprintf("%s%02d0000-%dh-%s-%s.grib2", stamp, req.runTime.Hour(), step, req.stream, req.reqType)
	url = fmt.Sprintf("%s/%s/%02dz/ifs/0p25/%s/%s", f.BaseURL, stamp, req.runTime.Hour(), req.stream, name)
	return name, url
}

// ListFiles resolves the per-step files for the request, probing the
// remote for their sizes. A failed probe means the listing itself
// cannot be completed.
func (f *Fetcher) ListFiles(ctx context.Context, req nwp.Request) ([]nwp.RemoteFile, error) {
	er, ok := req.(Request)
	if !ok {
		return nil, fmt.Errorf("%w: not an ecmwf request: %T", nwp.ErrProviderUnavailable, req)
	}

	files := make([]nwp.RemoteFile, 0, len(er.steps))
	for _, step := range er.steps {
		name, url := f.stepURL(er, step)
		size, err := fetchutil.Head(ctx, f.Client, f.breaker, url)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", nwp.ErrProviderUnavailable, name, err)
		}
		files = append(files, nwp.RemoteFile{Name: name, URL: url, Size: size})
	}
	return files, nil
}

// Download stages all step files for the request into one artifact at
// rawDir/<key>.grib2, skipping the transfer when a size-matching file
// already exists.
func (f *Fetcher) Download(ctx context.Context, req nwp.Request, rawDir string) (nwp.RawArtifact, error) {
	files, err := f.ListFiles(ctx, req)
	if err != nil {
		return nwp.RawArtifact{}, err
	}

	dest := filepath.Join(rawDir, filepath.FromSlash(req.Key())+".grib2")

	var expected int64
	for _, file := range files {
		if file.Size == 0 {
			expected = 0
			break
		}
		expected += file.Size
	}

	skip, err := fetchutil.ShouldSkip(dest, expected, f.MinValidSize)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if skip {
		log.Printf("ecmwf: raw file for %s already staged, skipping download", req.Key())
		metrics.DownloadsTotal.WithLabelValues(SourceName, "skipped").Inc()
		info, err := os.Stat(dest)
		if err != nil {
			return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
		}
		return nwp.RawArtifact{Path: dest, Size: info.Size()}, nil
	}

	w, err := fetchutil.NewStagedWriter(dest)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	for _, file := range files {
		if err := f.fetchInto(ctx, file.URL, w); err != nil {
			w.Abort()
			metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
			return nwp.RawArtifact{}, fmt.Errorf("%w: %s: %v", nwp.ErrDownloadFailed, file.Name, err)
		}
	}
	if err := w.Commit(); err != nil {
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}

	metrics.DownloadsTotal.WithLabelValues(SourceName, "fetched").Inc()
	metrics.DownloadBytes.WithLabelValues(SourceName).Add(float64(w.Size()))
	log.Printf("ecmwf: downloaded %s (%d files, %d bytes)", req.Key(), len(files), w.Size())
	return nwp.RawArtifact{Path: dest, Size: w.Size()}, nil
}

// fetchInto streams one remote file into the staged writer. A single
// attempt only: bounded retry is the orchestrator's job.
func (f *Fetcher) fetchInto(ctx context.Context, url string, w io.Writer) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
