package nwp

import "errors"

var (
	// ErrProviderUnavailable marks a failed remote listing or auth call.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrDownloadFailed marks a transient transfer error, retryable a
	// bounded number of times by the orchestrator.
	ErrDownloadFailed = errors.New("download failed")
	// ErrSchemaViolation marks processing output whose coordinates fall
	// outside the source's allow-list. Never retried.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrStorageWrite marks a failed dataset write.
	ErrStorageWrite = errors.New("storage write failed")
)

// ErrorKind names the taxonomy bucket an error belongs to, for the
// end-of-run failure report.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "ProviderUnavailable"
	case errors.Is(err, ErrDownloadFailed):
		return "DownloadFailed"
	case errors.Is(err, ErrSchemaViolation):
		return "SchemaViolation"
	case errors.Is(err, ErrStorageWrite):
		return "StorageWriteFailed"
	default:
		return "ProcessingFailed"
	}
}

// Retryable reports whether the orchestrator should retry the request
// stage that produced err.
func Retryable(err error) bool {
	return errors.Is(err, ErrDownloadFailed)
}
