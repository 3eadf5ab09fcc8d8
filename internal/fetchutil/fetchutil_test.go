package fetchutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestGetRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	body, err := Get(context.Background(), srv.Client(), NewBreaker(t.Name()), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q, want payload", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGetPermanentOn404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Get(context.Background(), srv.Client(), NewBreaker(t.Name()), srv.URL); err == nil {
		t.Fatal("Get succeeded, want error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (404 is not retried)", calls)
	}
}

func TestHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "1234")
	}))
	defer srv.Close()

	size, err := Head(context.Background(), srv.Client(), NewBreaker(t.Name()), srv.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if size != 1234 {
		t.Errorf("size = %d, want 1234", size)
	}
}

func TestShouldSkip(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, n int) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(strings.Repeat("x", n)), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name         string
		path         string
		expectedSize int64
		minSize      int64
		want         bool
		wantRemoved  bool
	}{
		{
			name: "missing file",
			path: filepath.Join(dir, "nope"),
			want: false,
		},
		{
			name:         "exact size match",
			path:         write("exact", 100),
			expectedSize: 100,
			want:         true,
		},
		{
			name:         "size mismatch removed",
			path:         write("short", 40),
			expectedSize: 100,
			want:         false,
			wantRemoved:  true,
		},
		{
			name:    "unknown size above floor",
			path:    write("big", 100),
			minSize: 50,
			want:    true,
		},
		{
			name:        "unknown size below floor removed",
			path:        write("tiny", 10),
			minSize:     50,
			want:        false,
			wantRemoved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ShouldSkip(tt.path, tt.expectedSize, tt.minSize)
			if err != nil {
				t.Fatalf("ShouldSkip: %v", err)
			}
			if got != tt.want {
				t.Errorf("ShouldSkip = %v, want %v", got, tt.want)
			}
			if tt.wantRemoved {
				if _, err := os.Stat(tt.path); !os.IsNotExist(err) {
					t.Error("stale file still present, want removed")
				}
			}
		})
	}
}

func TestStagedWriterCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "out.bin")

	w, err := NewStagedWriter(path)
	if err != nil {
		t.Fatalf("NewStagedWriter: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.Size() != 5 {
		t.Errorf("Size = %d, want 5", w.Size())
	}

	// Nothing durable before commit.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("destination exists before Commit")
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read committed file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind after Commit")
	}
}

func TestStagedWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")

	w, err := NewStagedWriter(path)
	if err != nil {
		t.Fatalf("NewStagedWriter: %v", err)
	}
	w.Write([]byte("partial data"))
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("destination exists after Abort")
	}
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind after Abort")
	}
}
