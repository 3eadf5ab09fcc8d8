package era5

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lox/weatherweave/internal/fetchutil"
	"github.com/lox/weatherweave/internal/metrics"
	"github.com/lox/weatherweave/internal/nwp"
)

// DefaultBaseURL is the CDS retrieve API root.
const DefaultBaseURL = "https://cds.climate.copernicus.eu/api/v2"

// Fetcher drives the CDS asynchronous retrieve flow: submit a job,
// poll until it completes, then download the produced file.
type Fetcher struct {
	BaseURL      string
	Token        string
	Client       *http.Client
	PollInterval time.Duration
	MaxPolls     int
	MinValidSize int64
}

func NewFetcher(token string) *Fetcher {
	return &Fetcher{
		BaseURL:      DefaultBaseURL,
		Token:        token,
		Client:       fetchutil.NewClient(),
		PollInterval: 5 * time.Second,
		MaxPolls:     720,
		MinValidSize: nwp.MinValidSizeBytes,
	}
}

// ListFiles returns the single descriptor a CDS request resolves to.
// CDS has no listing API: the job produces exactly one file whose size
// is unknown until the job runs.
func (f *Fetcher) ListFiles(ctx context.Context, req nwp.Request) ([]nwp.RemoteFile, error) {
	if _, ok := req.(Request); !ok {
		return nil, fmt.Errorf("%w: not an era5 request: %T", nwp.ErrProviderUnavailable, req)
	}
	return []nwp.RemoteFile{{Name: req.Key() + ".grib"}}, nil
}

type taskState struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Error     struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// Download runs the submit/poll/retrieve cycle for the request,
// staging the result at rawDir/<key>.grib. An already staged file
// above the validity floor skips the whole cycle.
func (f *Fetcher) Download(ctx context.Context, req nwp.Request, rawDir string) (nwp.RawArtifact, error) {
	er, ok := req.(Request)
	if !ok {
		return nwp.RawArtifact{}, fmt.Errorf("%w: not an era5 request: %T", nwp.ErrProviderUnavailable, req)
	}

	dest := filepath.Join(rawDir, filepath.FromSlash(req.Key())+".grib")
	skip, err := fetchutil.ShouldSkip(dest, 0, f.MinValidSize)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if skip {
		log.Printf("era5: raw file for %s already staged, skipping download", req.Key())
		metrics.DownloadsTotal.WithLabelValues(SourceName, "skipped").Inc()
		info, err := os.Stat(dest)
		if err != nil {
			return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
		}
		return nwp.RawArtifact{Path: dest, Size: info.Size()}, nil
	}

	task, err := f.submit(ctx, er)
	if err != nil {
		return nwp.RawArtifact{}, err
	}
	log.Printf("era5: submitted CDS request %s for %s", task.RequestID, req.Key())

	task, err = f.waitForCompletion(ctx, task)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, err
	}

	size, err := f.retrieve(ctx, task.Location, dest)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, err
	}

	metrics.DownloadsTotal.WithLabelValues(SourceName, "fetched").Inc()
	metrics.DownloadBytes.WithLabelValues(SourceName).Add(float64(size))
	log.Printf("era5: downloaded %s (%d bytes)", req.Key(), size)
	return nwp.RawArtifact{Path: dest, Size: size}, nil
}

func (f *Fetcher) submit(ctx context.Context, req Request) (taskState, error) {
	body, err := json.Marshal(req.CDSRequest())
	if err != nil {
		return taskState{}, fmt.Errorf("%w: marshal request: %v", nwp.ErrDownloadFailed, err)
	}

	url := fmt.Sprintf("%s/resources/%s", f.BaseURL, DatasetName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return taskState{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	f.authorize(httpReq)

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return taskState{}, fmt.Errorf("%w: submit: %v", nwp.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return taskState{}, fmt.Errorf("%w: CDS auth rejected (status %d)", nwp.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(resp.Body)
		return taskState{}, fmt.Errorf("%w: submit status %d: %s", nwp.ErrDownloadFailed, resp.StatusCode, msg)
	}

	var task taskState
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return taskState{}, fmt.Errorf("%w: decode submit response: %v", nwp.ErrDownloadFailed, err)
	}
	return task, nil
}

func (f *Fetcher) waitForCompletion(ctx context.Context, task taskState) (taskState, error) {
	for i := 0; i < f.MaxPolls; i++ {
		switch task.State {
		case "completed":
			return task, nil
		case "failed":
			return taskState{}, fmt.Errorf("%w: CDS request %s failed: %s", nwp.ErrDownloadFailed, task.RequestID, task.Error.Reason)
		}

		select {
		case <-ctx.Done():
			return taskState{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, ctx.Err())
		case <-time.After(f.PollInterval):
		}

		url := fmt.Sprintf("%s/tasks/%s", f.BaseURL, task.RequestID)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return taskState{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
		}
		f.authorize(httpReq)

		resp, err := f.Client.Do(httpReq)
		if err != nil {
			return taskState{}, fmt.Errorf("%w: poll: %v", nwp.ErrDownloadFailed, err)
		}
		id := task.RequestID
		task = taskState{}
		err = json.NewDecoder(resp.Body).Decode(&task)
		resp.Body.Close()
		if err != nil {
			return taskState{}, fmt.Errorf("%w: decode poll response: %v", nwp.ErrDownloadFailed, err)
		}
		if task.RequestID == "" {
			task.RequestID = id
		}
	}
	return taskState{}, fmt.Errorf("%w: CDS request %s did not complete after %d polls", nwp.ErrDownloadFailed, task.RequestID, f.MaxPolls)
}

func (f *Fetcher) retrieve(ctx context.Context, location, dest string) (int64, error) {
	if !strings.HasPrefix(location, "http") {
		location = f.BaseURL + "/" + strings.TrimPrefix(location, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	f.authorize(httpReq)

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: retrieve: %v", nwp.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: retrieve status %d", nwp.ErrDownloadFailed, resp.StatusCode)
	}

	w, err := fetchutil.NewStagedWriter(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if _, err := w.ReadFrom(resp.Body); err != nil {
		w.Abort()
		return 0, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if err := w.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	return w.Size(), nil
}

func (f *Fetcher) authorize(req *http.Request) {
	if f.Token != "" {
		req.Header.Set("PRIVATE-TOKEN", f.Token)
	}
}
