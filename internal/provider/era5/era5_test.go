package era5

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/weatherweave/internal/geo"
	"github.com/lox/weatherweave/internal/nwp"
)

var testArea = geo.BoundingBox{North: 73.5, West: -27, South: 33, East: 45}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testBuilder() *Builder {
	b := NewBuilder(testArea)
	b.Now = func() time.Time { return date(2024, 6, 15) }
	return b
}

func TestBuildRequestsMonthlyBatches(t *testing.T) {
	b := testBuilder()

	reqs := b.BuildRequests(date(2024, 1, 1), date(2024, 4, 1))
	if len(reqs) != 3 {
		t.Fatalf("len(reqs) = %d, want 3 (Jan, Feb, Mar)", len(reqs))
	}
	if got := reqs[0].RunTime(); !got.Equal(date(2024, 1, 1)) {
		t.Errorf("reqs[0].RunTime = %v, want 2024-01-01", got)
	}
	if got := reqs[2].RunTime(); !got.Equal(date(2024, 3, 1)) {
		t.Errorf("reqs[2].RunTime = %v, want 2024-03-01", got)
	}
}

func TestBuildRequestsSkipsPartialMonths(t *testing.T) {
	b := testBuilder()

	// Window starts mid-January: January is not a complete month.
	reqs := b.BuildRequests(date(2024, 1, 15), date(2024, 3, 1))
	if len(reqs) != 1 {
		t.Fatalf("len(reqs) = %d, want 1 (February only)", len(reqs))
	}
	if got := reqs[0].RunTime(); !got.Equal(date(2024, 2, 1)) {
		t.Errorf("RunTime = %v, want 2024-02-01", got)
	}
}

func TestBuildRequestsRespectsAvailabilityLag(t *testing.T) {
	b := testBuilder()
	// "Now" is June 3rd: May ended less than the 6-day lag ago.
	b.Now = func() time.Time { return date(2024, 6, 3) }

	reqs := b.BuildRequests(date(2024, 4, 1), date(2024, 7, 1))
	if len(reqs) != 1 {
		t.Fatalf("len(reqs) = %d, want 1 (April only; May still inside lag)", len(reqs))
	}
}

func TestBuildRequestsEmptyWindows(t *testing.T) {
	b := testBuilder()

	if got := b.BuildRequests(date(2024, 3, 1), date(2024, 1, 1)); got != nil {
		t.Errorf("inverted window = %v, want nil", got)
	}
	if got := b.BuildRequests(date(2024, 1, 5), date(2024, 1, 20)); got != nil {
		t.Errorf("sub-month window = %v, want nil", got)
	}
}

func TestRequestKeyDeterministic(t *testing.T) {
	b := testBuilder()

	first := b.BuildRequests(date(2024, 1, 1), date(2024, 3, 1))
	second := b.BuildRequests(date(2024, 1, 1), date(2024, 3, 1))
	if first[0].Key() != second[0].Key() {
		t.Errorf("keys differ across builds: %q vs %q", first[0].Key(), second[0].Key())
	}
	if first[0].Key() == first[1].Key() {
		t.Errorf("distinct months share key %q", first[0].Key())
	}

	// Area is part of the key.
	other := NewBuilder(geo.BoundingBox{North: 1, West: 0, South: 0, East: 1})
	other.Now = b.Now
	otherReqs := other.BuildRequests(date(2024, 1, 1), date(2024, 3, 1))
	if otherReqs[0].Key() == first[0].Key() {
		t.Error("different areas share key")
	}
}

func newCDSStub(t *testing.T, transfers *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/resources/"+DatasetName, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit body: %v", err)
		}
		if body["product_type"] != "reanalysis" {
			t.Errorf("product_type = %v", body["product_type"])
		}
		json.NewEncoder(w).Encode(map[string]string{"state": "queued", "request_id": "job-1"})
	})
	mux.HandleFunc("/tasks/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"state":    "completed",
			"location": "/download/job-1.grib",
		})
	})
	mux.HandleFunc("/download/job-1.grib", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(transfers, 1)
		w.Write([]byte("GRIBDATA"))
	})
	return httptest.NewServer(mux)
}

func TestDownloadSubmitPollRetrieve(t *testing.T) {
	var transfers int32
	srv := newCDSStub(t, &transfers)
	defer srv.Close()

	f := NewFetcher("secret")
	f.BaseURL = srv.URL
	f.Client = srv.Client()
	f.PollInterval = time.Millisecond
	f.MinValidSize = 1

	req := testBuilder().BuildRequests(date(2024, 1, 1), date(2024, 2, 1))[0]
	rawDir := t.TempDir()

	artifact, err := f.Download(context.Background(), req, rawDir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "GRIBDATA" {
		t.Errorf("artifact = %q", data)
	}

	// Re-entry skips the whole submit/poll/retrieve cycle.
	if _, err := f.Download(context.Background(), req, rawDir); err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if got := atomic.LoadInt32(&transfers); got != 1 {
		t.Errorf("transfers = %d, want 1", got)
	}
}

func TestDownloadAuthRejected(t *testing.T) {
	var transfers int32
	srv := newCDSStub(t, &transfers)
	defer srv.Close()

	f := NewFetcher("wrong")
	f.BaseURL = srv.URL
	f.Client = srv.Client()
	f.PollInterval = time.Millisecond
	f.MinValidSize = 1

	req := testBuilder().BuildRequests(date(2024, 1, 1), date(2024, 2, 1))[0]
	_, err := f.Download(context.Background(), req, t.TempDir())
	if !errors.Is(err, nwp.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestDownloadJobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/resources/"+DatasetName, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":      "failed",
			"request_id": "job-2",
			"error":      map[string]string{"reason": "too many requests"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher("")
	f.BaseURL = srv.URL
	f.Client = srv.Client()
	f.PollInterval = time.Millisecond
	f.MinValidSize = 1

	req := testBuilder().BuildRequests(date(2024, 1, 1), date(2024, 2, 1))[0]
	_, err := f.Download(context.Background(), req, t.TempDir())
	if !errors.Is(err, nwp.ErrDownloadFailed) {
		t.Fatalf("error = %v, want ErrDownloadFailed", err)
	}
}

func TestListFiles(t *testing.T) {
	f := NewFetcher("")
	req := testBuilder().BuildRequests(date(2024, 1, 1), date(2024, 2, 1))[0]

	files, err := f.ListFiles(context.Background(), req)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].Size != 0 {
		t.Errorf("Size = %d, want 0 (unknown until the job runs)", files[0].Size)
	}
}
