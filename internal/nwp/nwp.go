// Package nwp defines the contracts shared by every data source and
// storage backend: requests, fetchers, processors and stores.
package nwp

import (
	"context"
	"time"

	"github.com/lox/weatherweave/internal/geo"
)

// MinValidSizeBytes is the default size floor below which a raw or
// processed file is treated as a failed partial write.
const MinValidSizeBytes int64 = 1 << 20

// Request describes one unit of fetchable data: a model run (or slice of
// one) from a single source. Implementations are immutable value types;
// Key is the idempotence key used for skip logic and storage addressing.
type Request interface {
	// Source is the provider identifier ("ecmwf", "era5", "gfs").
	Source() string
	// Key is deterministic and unique within a source. Two requests with
	// equal keys are the same unit of work.
	Key() string
	// RunTime is the reference timestamp of the model run.
	RunTime() time.Time
	// Steps lists the forecast horizons (hours) covered by the request.
	Steps() []int
	// Parameters lists the requested variable short names.
	Parameters() []string
}

// RequestBuilder enumerates the requests covering a time window.
type RequestBuilder interface {
	// BuildRequests returns requests for every run boundary in
	// [start, end), ordered ascending by run time then by first step.
	// An empty or inverted window yields nil.
	BuildRequests(start, end time.Time) []Request
}

// RemoteFile describes one remote artifact available for a request.
// Size is zero when the provider does not report it.
type RemoteFile struct {
	Name string
	URL  string
	Size int64
}

// RawArtifact is a locally staged file produced by a fetcher. It lives
// only between fetch and successful processing.
type RawArtifact struct {
	Path string
	Size int64
}

// Fetcher lists and retrieves raw files for one source.
type Fetcher interface {
	// ListFiles returns descriptors for the remote files satisfying the
	// request. A failed listing call returns ErrProviderUnavailable;
	// zero results is a valid empty slice.
	ListFiles(ctx context.Context, req Request) ([]RemoteFile, error)
	// Download stages the request's raw data under rawDir. An existing
	// destination whose size matches the expected size is returned
	// without a transfer; a mismatched file is discarded and re-fetched.
	// Transfer errors return ErrDownloadFailed and leave no partial
	// file behind. Retries are the caller's responsibility.
	Download(ctx context.Context, req Request, rawDir string) (RawArtifact, error)
}

// Processor turns a raw artifact into a normalized dataset.
type Processor interface {
	// Transform decodes, normalizes and optionally geo-filters the raw
	// artifact. Coordinates outside the source's allow-list return
	// ErrSchemaViolation.
	Transform(artifact RawArtifact, req Request, filter *geo.Filter) (*Dataset, error)
}

// StoredFile describes a durably stored dataset.
type StoredFile struct {
	Key      string
	Location string
	Size     int64
}

// Storage persists processed datasets addressed by request key.
type Storage interface {
	// Exists reports whether anything is stored under the request's key.
	Exists(req Request) (bool, error)
	// IsValid reports existence plus an integrity check; only a valid
	// record justifies skipping a request.
	IsValid(req Request) (bool, error)
	// ListStored resolves many requests to their stored records in one
	// batched call, keyed by request key. Invalid or absent records are
	// omitted.
	ListStored(reqs []Request) (map[string]StoredFile, error)
	// Store persists the dataset, replacing any prior record for the
	// same key. A failed store leaves no partial record.
	Store(ctx context.Context, req Request, ds *Dataset) error
	// Delete removes the record for the key. Deleting an absent key is
	// a logged no-op.
	Delete(req Request) error
}
