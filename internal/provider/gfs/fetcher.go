package gfs

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/weatherweave/internal/fetchutil"
	"github.com/lox/weatherweave/internal/metrics"
	"github.com/lox/weatherweave/internal/nwp"
)

// DefaultHost is the NCEP production FTP mirror.
const DefaultHost = "ftpprd.ncep.noaa.gov:21"

// ftpConn is the slice of the FTP client the fetcher uses; tests
// substitute an in-memory implementation.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type dialFunc func(ctx context.Context) (ftpConn, error)

// Fetcher lists and downloads GFS cycle files over anonymous FTP.
type Fetcher struct {
	Host         string
	MinValidSize int64

	dial dialFunc
}

func NewFetcher() *Fetcher {
	f := &Fetcher{
		Host:         DefaultHost,
		MinValidSize: nwp.MinValidSizeBytes,
	}
	f.dial = f.dialFTP
	return f
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func (f *Fetcher) dialFTP(ctx context.Context) (ftpConn, error) {
	conn, err := ftp.Dial(f.Host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return serverConn{conn}, nil
}

// ListFiles lists the cycle directory and returns the entry matching
// the request's step file, with the size the server reports. A missing
// file is a valid empty result; a failed listing is not.
func (f *Fetcher) ListFiles(ctx context.Context, req nwp.Request) ([]nwp.RemoteFile, error) {
	gr, ok := req.(Request)
	if !ok {
		return nil, fmt.Errorf("%w: not a gfs request: %T", nwp.ErrProviderUnavailable, req)
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nwp.ErrProviderUnavailable, err)
	}
	defer conn.Quit()

	entries, err := conn.List(gr.remoteDir())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", nwp.ErrProviderUnavailable, gr.remoteDir(), err)
	}

	var files []nwp.RemoteFile
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || e.Name != gr.remoteName() {
			continue
		}
		files = append(files, nwp.RemoteFile{
			Name: e.Name,
			URL:  "ftp://" + f.Host + gr.remoteDir() + "/" + e.Name,
			Size: int64(e.Size),
		})
	}
	return files, nil
}

// Download stages the step file at rawDir/<key>.grib2, skipping the
// transfer when an existing file matches the listed size.
func (f *Fetcher) Download(ctx context.Context, req nwp.Request, rawDir string) (nwp.RawArtifact, error) {
	gr, ok := req.(Request)
	if !ok {
		return nwp.RawArtifact{}, fmt.Errorf("%w: not a gfs request: %T", nwp.ErrProviderUnavailable, req)
	}

	files, err := f.ListFiles(ctx, req)
	if err != nil {
		return nwp.RawArtifact{}, err
	}
	if len(files) == 0 {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %s not yet published", nwp.ErrDownloadFailed, gr.remoteName())
	}
	remote := files[0]

	dest := filepath.Join(rawDir, req.Key()+".grib2")
	skip, err := fetchutil.ShouldSkip(dest, remote.Size, f.MinValidSize)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if skip {
		log.Printf("gfs: raw file for %s already staged, skipping download", req.Key())
		metrics.DownloadsTotal.WithLabelValues(SourceName, "skipped").Inc()
		info, err := os.Stat(dest)
		if err != nil {
			return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
		}
		return nwp.RawArtifact{Path: dest, Size: info.Size()}, nil
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	defer conn.Quit()

	resp, err := conn.Retr(gr.remoteDir() + "/" + gr.remoteName())
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, fmt.Errorf("%w: retr %s: %v", nwp.ErrDownloadFailed, gr.remoteName(), err)
	}
	defer resp.Close()

	w, err := fetchutil.NewStagedWriter(dest)
	if err != nil {
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if _, err := w.ReadFrom(resp); err != nil {
		w.Abort()
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}
	if err := w.Commit(); err != nil {
		metrics.DownloadsTotal.WithLabelValues(SourceName, "failed").Inc()
		return nwp.RawArtifact{}, fmt.Errorf("%w: %v", nwp.ErrDownloadFailed, err)
	}

	metrics.DownloadsTotal.WithLabelValues(SourceName, "fetched").Inc()
	metrics.DownloadBytes.WithLabelValues(SourceName).Add(float64(w.Size()))
	log.Printf("gfs: downloaded %s (%d bytes)", req.Key(), w.Size())
	return nwp.RawArtifact{Path: dest, Size: w.Size()}, nil
}
