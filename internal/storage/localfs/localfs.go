// Package localfs stores processed datasets as gzip-compressed CSV
// files on the local filesystem, one file per request key.
package localfs

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/weatherweave/internal/fetchutil"
	"github.com/lox/weatherweave/internal/nwp"
)

// Store writes datasets under Root/<source>/<key>.csv.gz. Writes go
// through a staged temp file so a failed store leaves no partial
// record behind.
type Store struct {
	Root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &Store{Root: root}, nil
}

func (s *Store) path(req nwp.Request) string {
	return filepath.Join(s.Root, req.Source(), filepath.FromSlash(req.Key())+".csv.gz")
}

func (s *Store) Exists(req nwp.Request) (bool, error) {
	_, err := os.Stat(s.path(req))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsValid reports whether the stored file exists and decompresses to a
// readable header row. Truncated gzip streams from interrupted writes
// fail the check.
func (s *Store) IsValid(req nwp.Request) (bool, error) {
	ok, err := s.Exists(req)
	if err != nil || !ok {
		return false, err
	}
	return s.readable(s.path(req)), nil
}

func (s *Store) readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer zr.Close()

	header, err := csv.NewReader(zr).Read()
	return err == nil && len(header) > 0
}

// ListStored stats every request's file in one pass and returns the
// valid records keyed by request key.
func (s *Store) ListStored(reqs []nwp.Request) (map[string]nwp.StoredFile, error) {
	stored := make(map[string]nwp.StoredFile)
	for _, req := range reqs {
		path := s.path(req)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !s.readable(path) {
			continue
		}
		stored[req.Key()] = nwp.StoredFile{
			Key:      req.Key(),
			Location: path,
			Size:     info.Size(),
		}
	}
	return stored, nil
}

// Store writes the dataset as a gzip CSV, replacing any prior file for
// the same key.
func (s *Store) Store(ctx context.Context, req nwp.Request, ds *nwp.Dataset) error {
	path := s.path(req)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", nwp.ErrStorageWrite, err)
	}

	w, err := fetchutil.NewStagedWriter(path)
	if err != nil {
		return fmt.Errorf("%w: %v", nwp.ErrStorageWrite, err)
	}

	if err := writeCSV(w, ds); err != nil {
		w.Abort()
		return fmt.Errorf("%w: %v", nwp.ErrStorageWrite, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("%w: %v", nwp.ErrStorageWrite, err)
	}
	log.Printf("localfs: stored %s/%s (%d records)", ds.Source, ds.Key, len(ds.Records))
	return nil
}

func writeCSV(w *fetchutil.StagedWriter, ds *nwp.Dataset) error {
	zw := gzip.NewWriter(w)
	cw := csv.NewWriter(zw)

	params := ds.Parameters()
	header := append(append([]string{}, ds.Coords...), params...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, rec := range ds.Records {
		for i, coord := range ds.Coords {
			switch coord {
			case nwp.CoordTime:
				row[i] = rec.Time.UTC().Format(time.RFC3339)
			case nwp.CoordStep:
				row[i] = strconv.Itoa(rec.Step)
			case nwp.CoordNumber:
				row[i] = strconv.Itoa(rec.Number)
			case nwp.CoordLatitude:
				row[i] = strconv.FormatFloat(rec.Latitude, 'f', -1, 64)
			case nwp.CoordLongitude:
				row[i] = strconv.FormatFloat(rec.Longitude, 'f', -1, 64)
			case nwp.CoordCountry:
				row[i] = rec.CountryISO3
			default:
				return fmt.Errorf("unknown coordinate %q", coord)
			}
		}
		for i, name := range params {
			v, ok := rec.Values[name]
			if !ok {
				row[len(ds.Coords)+i] = ""
				continue
			}
			row[len(ds.Coords)+i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return zw.Close()
}

// Delete removes the record for the key. An absent key is a no-op.
func (s *Store) Delete(req nwp.Request) error {
	err := os.Remove(s.path(req))
	if os.IsNotExist(err) {
		log.Printf("localfs: nothing stored for %s/%s", req.Source(), req.Key())
		return nil
	}
	return err
}
