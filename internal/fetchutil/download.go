package fetchutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ShouldSkip reports whether an existing file at path already satisfies
// a transfer of expectedSize bytes. When the remote size is unknown,
// anything at or above minSize counts. A mismatched file is removed so
// the caller re-fetches it.
func ShouldSkip(path string, expectedSize, minSize int64) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if expectedSize > 0 {
		if info.Size() == expectedSize {
			return true, nil
		}
	} else if info.Size() >= minSize {
		return true, nil
	}

	// Partial or corrupt prior download.
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove stale file %s: %w", path, err)
	}
	return false, nil
}

// StagedWriter writes a download to path atomically: bytes land in a
// .partial sibling and are renamed into place on Commit. Abort removes
// the partial file so a failed transfer leaves nothing behind.
type StagedWriter struct {
	path string
	tmp  string
	f    *os.File
	n    int64
}

func NewStagedWriter(path string) (*StagedWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	return &StagedWriter{path: path, tmp: tmp, f: f}, nil
}

func (w *StagedWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

// ReadFrom streams r into the staged file.
func (w *StagedWriter) ReadFrom(r io.Reader) (int64, error) {
	n, err := io.Copy(w.f, r)
	w.n += n
	return n, err
}

// Size returns bytes written so far.
func (w *StagedWriter) Size() int64 {
	return w.n
}

// Commit finalizes the staged file into place.
func (w *StagedWriter) Commit() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	return os.Rename(w.tmp, w.path)
}

// Abort discards the partial file.
func (w *StagedWriter) Abort() {
	w.f.Close()
	os.Remove(w.tmp)
}
