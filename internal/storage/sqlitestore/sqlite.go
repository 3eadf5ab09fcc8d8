// Package sqlitestore persists processed datasets in SQLite, one
// manifest row per request key plus a long-format records table.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lox/weatherweave/internal/nwp"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Exists(req nwp.Request) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT id FROM datasets WHERE source = ? AND key = ?",
		req.Source(), req.Key(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsValid checks that the manifest's record count matches the rows
// actually present, which catches datasets whose records were lost to
// a partial delete.
func (s *Store) IsValid(req nwp.Request) (bool, error) {
	var manifest, actual int64
	err := s.db.QueryRow(`
		SELECT d.record_count, COUNT(r.id)
		FROM datasets d LEFT JOIN records r ON r.dataset_id = d.id
		WHERE d.source = ? AND d.key = ?
		GROUP BY d.id
	`, req.Source(), req.Key()).Scan(&manifest, &actual)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return manifest > 0 && manifest == actual, nil
}

// ListStored resolves all requests in one query. The returned Size is
// the stored record count; row counts are the natural size measure for
// a database backend.
func (s *Store) ListStored(reqs []nwp.Request) (map[string]nwp.StoredFile, error) {
	stored := make(map[string]nwp.StoredFile)
	if len(reqs) == 0 {
		return stored, nil
	}

	placeholders := make([]string, 0, len(reqs))
	args := make([]any, 0, 2*len(reqs))
	for _, req := range reqs {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, req.Source(), req.Key())
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT d.id, d.key, d.record_count, COUNT(r.id)
		FROM datasets d LEFT JOIN records r ON r.dataset_id = d.id
		WHERE (d.source, d.key) IN (VALUES %s)
		GROUP BY d.id
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, manifest, actual int64
			key                  string
		)
		if err := rows.Scan(&id, &key, &manifest, &actual); err != nil {
			return nil, err
		}
		if manifest == 0 || manifest != actual {
			continue
		}
		stored[key] = nwp.StoredFile{
			Key:      key,
			Location: fmt.Sprintf("datasets/%d", id),
			Size:     actual,
		}
	}
	return stored, rows.Err()
}

// Store replaces any prior dataset for the key inside one transaction.
func (s *Store) Store(ctx context.Context, req nwp.Request, ds *nwp.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", nwp.ErrStorageWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM datasets WHERE source = ? AND key = ?",
		req.Source(), req.Key(),
	); err != nil {
		return fmt.Errorf("%w: clear prior dataset: %v", nwp.ErrStorageWrite, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (source, key, run_time, record_count, stored_at)
		VALUES (?, ?, ?, ?, ?)
	`, req.Source(), req.Key(), req.RunTime().UTC(), recordRows(ds), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: insert manifest: %v", nwp.ErrStorageWrite, err)
	}
	datasetID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %v", nwp.ErrStorageWrite, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (dataset_id, run_time, step, member, latitude, longitude, country_iso3, parameter, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", nwp.ErrStorageWrite, err)
	}
	defer stmt.Close()

	for _, rec := range ds.Records {
		var iso3 sql.NullString
		if rec.CountryISO3 != "" {
			iso3 = sql.NullString{String: rec.CountryISO3, Valid: true}
		}
		for name, value := range rec.Values {
			if _, err := stmt.ExecContext(ctx,
				datasetID, rec.Time.UTC(), rec.Step, rec.Number,
				rec.Latitude, rec.Longitude, iso3, name, value,
			); err != nil {
				return fmt.Errorf("%w: insert record: %v", nwp.ErrStorageWrite, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", nwp.ErrStorageWrite, err)
	}
	log.Printf("sqlitestore: stored %s/%s (%d records)", ds.Source, ds.Key, len(ds.Records))
	return nil
}

func recordRows(ds *nwp.Dataset) int64 {
	var n int64
	for _, rec := range ds.Records {
		n += int64(len(rec.Values))
	}
	return n
}

// Delete removes the manifest row; records follow via the cascade.
func (s *Store) Delete(req nwp.Request) error {
	res, err := s.db.Exec(
		"DELETE FROM datasets WHERE source = ? AND key = ?",
		req.Source(), req.Key(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Printf("sqlitestore: nothing stored for %s/%s", req.Source(), req.Key())
	}
	return nil
}
