package sqlitestore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/weatherweave/internal/nwp"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

type testRequest struct {
	source string
	key    string
}

func (r testRequest) Source() string       { return r.source }
func (r testRequest) Key() string          { return r.key }
func (r testRequest) RunTime() time.Time   { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
func (r testRequest) Steps() []int         { return []int{0, 3} }
func (r testRequest) Parameters() []string { return []string{"temperature_2m"} }

func testDataset(key string) *nwp.Dataset {
	run := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &nwp.Dataset{
		Source: "ecmwf",
		Key:    key,
		Coords: []string{nwp.CoordTime, nwp.CoordStep, nwp.CoordLatitude, nwp.CoordLongitude},
		Records: []nwp.Record{
			{Time: run, Step: 0, Latitude: 52.5, Longitude: 13.25,
				Values: map[string]float64{"temperature_2m": 1.5, "total_precipitation": 0}},
			{Time: run, Step: 3, Latitude: 52.5, Longitude: 13.25, CountryISO3: "DEU",
				Values: map[string]float64{"temperature_2m": 2.25, "total_precipitation": 0.4}},
		},
	}
}

func TestStoreAndExists(t *testing.T) {
	store := setupTestStore(t)
	req := testRequest{source: "ecmwf", key: "oper/20240101_00z_0-90_fc"}

	ok, err := store.Exists(req)
	if err != nil || ok {
		t.Fatalf("Exists before store: ok=%v err=%v", ok, err)
	}

	if err := store.Store(context.Background(), req, testDataset(req.key)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ok, err = store.Exists(req)
	if err != nil || !ok {
		t.Fatalf("Exists after store: ok=%v err=%v", ok, err)
	}
	ok, err = store.IsValid(req)
	if err != nil || !ok {
		t.Fatalf("IsValid after store: ok=%v err=%v", ok, err)
	}
}

func TestStoreReplacesPriorDataset(t *testing.T) {
	store := setupTestStore(t)
	req := testRequest{source: "ecmwf", key: "oper/20240101_00z_0-90_fc"}

	ds := testDataset(req.key)
	if err := store.Store(context.Background(), req, ds); err != nil {
		t.Fatal(err)
	}
	ds.Records = ds.Records[:1]
	if err := store.Store(context.Background(), req, ds); err != nil {
		t.Fatal(err)
	}

	var datasets, records int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM datasets").Scan(&datasets); err != nil {
		t.Fatal(err)
	}
	if err := store.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&records); err != nil {
		t.Fatal(err)
	}
	if datasets != 1 {
		t.Errorf("expected 1 dataset row, got %d", datasets)
	}
	if records != 2 {
		t.Errorf("expected 2 record rows (1 grid point, 2 parameters), got %d", records)
	}
}

func TestIsValidDetectsMissingRecords(t *testing.T) {
	store := setupTestStore(t)
	req := testRequest{source: "ecmwf", key: "oper/20240101_00z_0-90_fc"}

	if err := store.Store(context.Background(), req, testDataset(req.key)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec("DELETE FROM records"); err != nil {
		t.Fatal(err)
	}

	ok, err := store.IsValid(req)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("dataset with no backing records reported valid")
	}
}

func TestListStored(t *testing.T) {
	store := setupTestStore(t)
	stored := testRequest{source: "ecmwf", key: "oper/20240101_00z_0-90_fc"}
	missing := testRequest{source: "ecmwf", key: "oper/20240101_12z_0-90_fc"}
	otherSource := testRequest{source: "gfs", key: stored.key}

	if err := store.Store(context.Background(), stored, testDataset(stored.key)); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListStored([]nwp.Request{stored, missing, otherSource})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stored record, got %d: %v", len(got), got)
	}
	rec, ok := got[stored.key]
	if !ok {
		t.Fatalf("stored key missing from result: %v", got)
	}
	if rec.Size != 4 {
		t.Errorf("expected 4 record rows, got %d", rec.Size)
	}

	if empty, err := store.ListStored(nil); err != nil || len(empty) != 0 {
		t.Errorf("empty request list: got %v, %v", empty, err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store := setupTestStore(t)
	req := testRequest{source: "era5", key: "reanalysis-era5-single-levels/abc123"}

	if err := store.Store(context.Background(), req, testDataset(req.key)); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(req); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var records int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&records); err != nil {
		t.Fatal(err)
	}
	if records != 0 {
		t.Errorf("delete left %d record rows behind", records)
	}

	if err := store.Delete(req); err != nil {
		t.Errorf("deleting an absent key: %v", err)
	}
}
